package sqlite

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/model"
	"edgecloud/internal/repository"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start records the beginning of a run and fills in its id.
func (r *RunRepository) Start(run *model.StreamRun) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO streams (stream, source, started_at) VALUES (?, ?, ?)
	`, run.Stream, run.Source, run.StartedAt)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read run id")
	}
	run.ID = id
	return id, nil
}

// Finish stores the end time and counters of a run.
func (r *RunRepository) Finish(run *model.StreamRun) error {
	r.db.Lock()
	defer r.db.Unlock()

	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now()
	}

	result, err := r.db.Conn().Exec(`
		UPDATE streams SET ended_at = ?, frames = ?, skipped_frames = ?, tracker_failures = ?
		WHERE id = ?
	`, run.EndedAt, run.Frames, run.SkippedFrames, run.TrackerFailures, run.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update run")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.Wrapf(repository.ErrRunNotFound, "run %d", run.ID)
	}
	return nil
}

// GetByID retrieves a run by its id.
func (r *RunRepository) GetByID(id int64) (*model.StreamRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT id, stream, source, started_at, ended_at, frames, skipped_frames, tracker_failures
		FROM streams WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(repository.ErrRunNotFound, "run %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get run")
	}
	return run, nil
}

// GetAll retrieves the most recent runs, newest first.
func (r *RunRepository) GetAll(limit int) ([]model.StreamRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, stream, source, started_at, ended_at, frames, skipped_frames, tracker_failures
		FROM streams ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []model.StreamRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Delete removes a run and, through the foreign key, its detections.
func (r *RunRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec("DELETE FROM streams WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "failed to delete run")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.StreamRun, error) {
	var run model.StreamRun
	var ended sql.NullTime
	if err := s.Scan(&run.ID, &run.Stream, &run.Source, &run.StartedAt, &ended,
		&run.Frames, &run.SkippedFrames, &run.TrackerFailures); err != nil {
		return nil, err
	}
	if ended.Valid {
		run.EndedAt = ended.Time
	}
	return &run, nil
}
