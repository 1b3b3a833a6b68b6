package sqlite

import (
	"database/sql"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds the views of a run in a single transaction.
func (r *DetectionRepository) InsertBatch(runID int64, views []model.DetectionView) error {
	if len(views) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, frame_id, category, source, x, y, width, height, score, tracked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, v := range views {
		if _, err := stmt.Exec(runID, v.FrameID, v.Category, v.Source.String(),
			v.BBox.X(), v.BBox.Y(), v.BBox.Width(), v.BBox.Height(), v.Score, v.Tracked); err != nil {
			return errors.Wrapf(err, "failed to insert detection of frame %d", v.FrameID)
		}
	}

	return tx.Commit()
}

// GetByRun retrieves all detections of a run ordered by frame.
func (r *DetectionRepository) GetByRun(runID int64) ([]model.DetectionView, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT d.frame_id, s.stream, d.category, d.source, d.x, d.y, d.width, d.height, d.score, d.tracked
		FROM detections d JOIN streams s ON s.id = d.run_id
		WHERE d.run_id = ?
		ORDER BY d.frame_id, d.id
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	return scanViews(rows)
}

// GetByFrame retrieves the detections shown for one frame of a run.
func (r *DetectionRepository) GetByFrame(runID, frameID int64) ([]model.DetectionView, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT d.frame_id, s.stream, d.category, d.source, d.x, d.y, d.width, d.height, d.score, d.tracked
		FROM detections d JOIN streams s ON s.id = d.run_id
		WHERE d.run_id = ? AND d.frame_id = ?
		ORDER BY d.id
	`, runID, frameID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	return scanViews(rows)
}

// CountByCategory returns how many detections of each category a run shows.
func (r *DetectionRepository) CountByCategory(runID int64) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT category, COUNT(*) FROM detections WHERE run_id = ? GROUP BY category
	`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count detections")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

// DeleteByRun removes all detections of a run.
func (r *DetectionRepository) DeleteByRun(runID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec("DELETE FROM detections WHERE run_id = ?", runID); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	return nil
}

func scanViews(rows *sql.Rows) ([]model.DetectionView, error) {
	var views []model.DetectionView
	for rows.Next() {
		var v model.DetectionView
		var source string
		var x, y, w, h int
		if err := rows.Scan(&v.FrameID, &v.Stream, &v.Category, &source, &x, &y, &w, &h, &v.Score, &v.Tracked); err != nil {
			return nil, errors.Wrap(err, "failed to scan detection")
		}
		parsed, err := model.ParseSource(source)
		if err != nil {
			return nil, err
		}
		v.Source = parsed
		v.BBox = model.BBox{x, y, w, h}
		views = append(views, v)
	}
	return views, rows.Err()
}
