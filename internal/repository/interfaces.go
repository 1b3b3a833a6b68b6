package repository

import (
	"github.com/cockroachdb/errors"

	"edgecloud/internal/model"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// RunRepository stores one record per processed stream.
type RunRepository interface {
	// Create operations
	Start(run *model.StreamRun) (int64, error)

	// Update operations
	Finish(run *model.StreamRun) error

	// Read operations
	GetByID(id int64) (*model.StreamRun, error)
	GetAll(limit int) ([]model.StreamRun, error)

	// Delete operations
	Delete(id int64) error
}

// DetectionRepository stores the detections shown for every frame of a run.
type DetectionRepository interface {
	// Create operations
	InsertBatch(runID int64, views []model.DetectionView) error

	// Read operations
	GetByRun(runID int64) ([]model.DetectionView, error)
	GetByFrame(runID, frameID int64) ([]model.DetectionView, error)
	CountByCategory(runID int64) (map[string]int, error)

	// Delete operations
	DeleteByRun(runID int64) error
}
