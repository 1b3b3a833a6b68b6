package tracking

import (
	"context"
	"sync"
	"sync/atomic"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

// CatchUpRequest asks the worker to project detections computed on a past
// frame forward to Current.
//
// Backlog[0] is the frame the detections were computed on; the remaining
// frames are replayed every Stride-th frame. The request owns one reference
// to each frame and the worker releases them.
type CatchUpRequest struct {
	Detections []model.Detection
	Backlog    []*model.Frame
	Current    *model.Frame
	MinScore   int
	Stride     int
	Epoch      uint64
}

// Release drops the request's frame references.
func (r CatchUpRequest) Release() {
	model.ReleaseAll(r.Backlog)
	if r.Current != nil {
		r.Current.Release()
	}
}

// CatchUpResult carries the projected detections, already aligned to the
// frame the request named as current.
type CatchUpResult struct {
	Detections []model.Detection
	FrameID    int64
	Epoch      uint64
}

// Worker replays a private tracker pool across buffered frames off the
// primary loop. Both directions are single-slot mailboxes: a newer message
// replaces an unconsumed older one, so producers never block.
type Worker struct {
	factory Factory
	decay   float64
	logger  *logger.Logger

	inbox  chan CatchUpRequest
	outbox chan CatchUpResult

	dropped atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a stopped worker.
func NewWorker(factory Factory, decay float64, logger *logger.Logger) *Worker {
	if factory == nil {
		factory = NewKCF
	}
	return &Worker{
		factory: factory,
		decay:   decay,
		logger:  logger,
		inbox:   make(chan CatchUpRequest, 1),
		outbox:  make(chan CatchUpResult, 1),
	}
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop terminates the worker and releases everything still queued.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	for {
		select {
		case req := <-w.inbox:
			req.Release()
		case <-w.outbox:
		default:
			return
		}
	}
}

// Submit queues a request, replacing a pending one.
func (w *Worker) Submit(req CatchUpRequest) {
	for {
		select {
		case w.inbox <- req:
			return
		default:
		}
		select {
		case old := <-w.inbox:
			old.Release()
			w.dropped.Add(1)
		default:
		}
	}
}

// Poll returns the latest result without blocking.
func (w *Worker) Poll() (CatchUpResult, bool) {
	select {
	case result := <-w.outbox:
		return result, true
	default:
		return CatchUpResult{}, false
	}
}

// Dropped counts requests replaced before the worker picked them up.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.inbox:
			result := CatchUp(req, w.factory, w.decay, w.logger)
			req.Release()
			w.publish(result)
		}
	}
}

func (w *Worker) publish(result CatchUpResult) {
	for {
		select {
		case w.outbox <- result:
			return
		default:
		}
		select {
		case <-w.outbox:
		default:
		}
	}
}

// CatchUp seeds a private pool with the request's detections on the first
// backlog frame and tracks them forward to the current frame. It does not
// release the request.
func CatchUp(req CatchUpRequest, factory Factory, decay float64, logger *logger.Logger) CatchUpResult {
	result := CatchUpResult{Epoch: req.Epoch, Detections: []model.Detection{}}
	if req.Current != nil {
		result.FrameID = req.Current.ID
	}
	if len(req.Detections) == 0 || req.Current == nil {
		return result
	}

	seed := req.Current
	var replay []*model.Frame
	if len(req.Backlog) > 0 {
		seed = req.Backlog[0]
		replay = Stride(req.Backlog[1:], req.Stride)
	}

	pool := NewMultiObjectTracker(req.MinScore, factory, logger)
	defer pool.Reset()

	pool.Seed(seed, req.Detections, model.Cloud)
	tracked := pool.TrackObjectsUntilCurrent(replay, req.Current, decay)
	result.Detections = model.Detections(tracked)

	logger.Debug("Caught up %d detections over %d frames to frame %d", len(result.Detections), len(replay)+1, result.FrameID)
	return result
}

// Stride returns every stride-th frame, starting with the stride-th one, and
// always keeps the last frame so the replay ends next to the current frame.
func Stride(frames []*model.Frame, stride int) []*model.Frame {
	if stride <= 1 || len(frames) == 0 {
		return frames
	}

	sampled := make([]*model.Frame, 0, len(frames)/stride+1)
	for i := stride - 1; i < len(frames); i += stride {
		sampled = append(sampled, frames[i])
	}
	if last := frames[len(frames)-1]; len(sampled) == 0 || sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	return sampled
}
