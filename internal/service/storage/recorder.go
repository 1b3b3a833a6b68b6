package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/repository"
)

const (
	// DefaultBufferLimit is how many views are buffered before a flush is forced.
	DefaultBufferLimit = 500
	// DefaultFlushInterval defines how often buffered views are written.
	DefaultFlushInterval = 5 * time.Second
)

// Recorder buffers the detection views of running streams in memory and
// periodically writes them to the detection repository.
type Recorder struct {
	repo     repository.DetectionRepository
	limit    int
	interval time.Duration
	logger   *logger.Logger

	mu       sync.Mutex
	views    map[int64][]model.DetectionView
	buffered int
}

// NewRecorder creates a Recorder. Non-positive limit and interval select the
// defaults.
func NewRecorder(repo repository.DetectionRepository, limit int, interval time.Duration, logger *logger.Logger) *Recorder {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Recorder{
		repo:     repo,
		limit:    limit,
		interval: interval,
		logger:   logger,
		views:    make(map[int64][]model.DetectionView),
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush()
		case <-ctx.Done():
			r.Flush()
			return
		}
	}
}

// Add buffers the views of one frame of a run. Reaching the buffer limit
// flushes immediately.
func (r *Recorder) Add(runID int64, views []model.DetectionView) {
	if len(views) == 0 {
		return
	}

	r.mu.Lock()
	r.views[runID] = append(r.views[runID], views...)
	r.buffered += len(views)
	buffered := r.buffered
	r.mu.Unlock()

	if buffered >= r.limit {
		r.logger.Debug("Recorder buffer full (%d/%d)", buffered, r.limit)
		r.Flush()
	}
}

// Buffered returns the number of views waiting to be written.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffered
}

// Flush writes every buffered view. Views of a run whose insert fails are
// dropped after logging.
func (r *Recorder) Flush() {
	r.mu.Lock()
	pending := r.views
	count := r.buffered
	r.views = make(map[int64][]model.DetectionView)
	r.buffered = 0
	r.mu.Unlock()

	if count == 0 {
		return
	}

	runs := make([]int64, 0, len(pending))
	for runID := range pending {
		runs = append(runs, runID)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })

	saved := 0
	for _, runID := range runs {
		views := pending[runID]
		if err := r.repo.InsertBatch(runID, views); err != nil {
			r.logger.Error("Error saving %d detections of run %d: %v", len(views), runID, err)
			continue
		}
		saved += len(views)
	}

	r.logger.Info("Flushed %d detections to database", saved)
}

// Close writes what is still buffered.
func (r *Recorder) Close() {
	r.Flush()
}
