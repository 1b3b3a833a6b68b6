// Package tracking extrapolates detections between detector invocations.
//
// A MultiObjectTracker owns one visual tracker per known object. The visual
// tracker itself is opaque: anything implementing gocv.Tracker can be plugged
// in through a Factory. Boxes are in the edge-view coordinate space.
package tracking

import (
	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"edgecloud/internal/bbox"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

const (
	// DefaultDecay is the score multiplier for objects the tracker could not confirm.
	DefaultDecay = 0.9
)

// Factory creates a fresh single-object visual tracker.
type Factory func() gocv.Tracker

// NewKCF is the default Factory.
func NewKCF() gocv.Tracker {
	return contrib.NewTrackerKCF()
}

// trackedObject is one pool entry. tracker is nil for virtual entries, which
// are only decayed.
type trackedObject struct {
	tracker  gocv.Tracker
	bbox     model.BBox
	score    int
	category string
	source   model.Source
}

// MultiObjectTracker is a pool of per-object visual trackers.
//
// It is not safe for concurrent use; every goroutine that tracks owns its own
// pool.
type MultiObjectTracker struct {
	objects  []*trackedObject
	minScore int
	factory  Factory
	logger   *logger.Logger
	failures int
}

// NewMultiObjectTracker creates an empty pool. Detections scoring below
// minScore are admitted without a visual tracker.
func NewMultiObjectTracker(minScore int, factory Factory, logger *logger.Logger) *MultiObjectTracker {
	if factory == nil {
		factory = NewKCF
	}
	return &MultiObjectTracker{
		minScore: minScore,
		factory:  factory,
		logger:   logger,
	}
}

// Reset discards all tracked objects.
func (t *MultiObjectTracker) Reset() {
	for _, obj := range t.objects {
		obj.close()
	}
	t.objects = nil
}

// Len returns the number of tracked objects.
func (t *MultiObjectTracker) Len() int {
	return len(t.objects)
}

// Failures returns how many frames produced no result from a non-empty pool.
func (t *MultiObjectTracker) Failures() int {
	return t.failures
}

// Seed resets the pool and admits every detection on the given frame.
func (t *MultiObjectTracker) Seed(frame *model.Frame, detections []model.Detection, source model.Source) {
	t.Reset()
	for _, d := range detections {
		t.AddObject(frame, d, source)
	}
}

// AddObject admits a detection observed on frame.
func (t *MultiObjectTracker) AddObject(frame *model.Frame, detection model.Detection, source model.Source) {
	obj := &trackedObject{
		bbox:     detection.BBox,
		score:    detection.Score,
		category: detection.Category,
		source:   source,
	}

	if detection.Score < t.minScore {
		t.objects = append(t.objects, obj)
		return
	}

	tracker := t.factory()
	if !tracker.Init(frame.EdgeView, bbox.ToRect(detection.BBox)) {
		tracker.Close()
		t.logger.Warning("Failed to init a tracker for %s at %v on frame %d", detection.Category, detection.BBox, frame.ID)
		return
	}

	obj.tracker = tracker
	t.objects = append(t.objects, obj)
}

// TrackObjects advances every object to frame. Objects without a tracker or
// whose tracker lost them keep their last box and have their score multiplied
// by decay; objects whose score reaches zero are dropped.
func (t *MultiObjectTracker) TrackObjects(frame *model.Frame, decay float64) []model.TrackedDetection {
	tracked := len(t.objects)
	result := make([]model.TrackedDetection, 0, tracked)
	kept := t.objects[:0]

	for _, obj := range t.objects {
		if !obj.update(frame) {
			obj.score = int(float64(obj.score) * decay)
		}

		if obj.score <= 0 {
			obj.close()
			continue
		}

		kept = append(kept, obj)
		result = append(result, model.TrackedDetection{
			Detection: model.Detection{Category: obj.category, Score: obj.score, BBox: obj.bbox},
			Source:    obj.source,
		})
	}

	for i := len(kept); i < tracked; i++ {
		t.objects[i] = nil
	}
	t.objects = kept

	if tracked > 0 && len(result) == 0 {
		t.failures++
	}

	return result
}

// TrackObjectsUntilCurrent replays TrackObjects over every backlog frame in
// order and returns the result for current only.
func (t *MultiObjectTracker) TrackObjectsUntilCurrent(backlog []*model.Frame, current *model.Frame, decay float64) []model.TrackedDetection {
	for _, frame := range backlog {
		t.TrackObjects(frame, decay)
	}
	return t.TrackObjects(current, decay)
}

func (o *trackedObject) update(frame *model.Frame) bool {
	if o.tracker == nil {
		return false
	}
	rect, ok := o.tracker.Update(frame.EdgeView)
	if !ok {
		return false
	}
	o.bbox = bbox.FromRect(rect)
	return true
}

func (o *trackedObject) close() {
	if o.tracker != nil {
		o.tracker.Close()
		o.tracker = nil
	}
}
