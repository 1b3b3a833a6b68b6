// Package detection schedules edge and cloud detections for one stream and
// reconciles their results with the local tracker pool.
package detection

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/bbox"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/service/fusion"
	"edgecloud/internal/service/tracking"
	"edgecloud/internal/transport"
)

// EdgeResult is an edge detector response. Boxes are in the edge view. Err is
// set when the request failed on the server or its connection was lost; such
// a response means no update.
type EdgeResult struct {
	FrameID    int64
	Detections []model.Detection
	Err        error
}

// EdgeDetector is the fire-and-poll client of the edge server. Send fails with
// transport.ErrRequestInProgress while a response is pending.
type EdgeDetector interface {
	Send(frame *model.Frame) error
	Poll(timeout time.Duration) (EdgeResult, bool)
}

// CloudDetector runs the slow detector. Boxes are in the cloud view.
type CloudDetector interface {
	Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error)
}

type catchUpWorker interface {
	Submit(req tracking.CatchUpRequest)
	Poll() (tracking.CatchUpResult, bool)
}

type cloudResult struct {
	frameID    int64
	detections []model.Detection
	epoch      uint64
}

// State is the position of a stream in its lifecycle.
type State int

const (
	// Warmup waits for the first edge detection of a stream.
	Warmup State = iota
	// Steady tracks, refreshes from the edge and catches up cloud results.
	Steady
	// Draining discards what is in flight at the end of a stream.
	Draining
)

func (s State) String() string {
	switch s {
	case Warmup:
		return "WARMUP"
	case Steady:
		return "STEADY"
	case Draining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// StepResult is the detection set for one frame, in the edge view.
type StepResult struct {
	FrameID    int64
	Detections []model.TrackedDetection
	// Refreshed is set when a detector result was applied on this frame;
	// otherwise the detections come from the tracker pool alone.
	Refreshed bool
	// Source of the refresh, meaningful only when Refreshed is set.
	Source model.Source
}

// EdgeCloudDetector orchestrates the detectors of a single stream.
//
// All methods except Close must be called from one goroutine; cloud requests
// and catch-up tracking run in the background and are observed by polling.
type EdgeCloudDetector struct {
	opts   Options
	edge   EdgeDetector
	cloud  CloudDetector
	worker catchUpWorker
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   func()

	pool *tracking.MultiObjectTracker
	last []model.TrackedDetection

	backlog     []*model.Frame
	edgeBacklog []*model.Frame
	edgePending bool

	cloudInFlight bool
	cloudDone     chan cloudResult
	cloudWG       sync.WaitGroup

	state  State
	frames int
	epoch  uint64
}

// NewEdgeCloudDetector creates an orchestrator and starts its catch-up worker.
func NewEdgeCloudDetector(ctx context.Context, opts Options, edge EdgeDetector, cloud CloudDetector, logger *logger.Logger) *EdgeCloudDetector {
	opts = opts.withDefaults()

	worker := tracking.NewWorker(opts.Factory, opts.Decay, logger.Named("catchup"))
	d := newEdgeCloudDetector(ctx, opts, edge, cloud, worker, logger)
	worker.Start(d.ctx)
	d.stop = worker.Stop
	return d
}

func newEdgeCloudDetector(ctx context.Context, opts Options, edge EdgeDetector, cloud CloudDetector, worker catchUpWorker, logger *logger.Logger) *EdgeCloudDetector {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	return &EdgeCloudDetector{
		opts:      opts,
		edge:      edge,
		cloud:     cloud,
		worker:    worker,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		stop:      func() {},
		pool:      tracking.NewMultiObjectTracker(opts.MinScore, opts.Factory, logger),
		cloudDone: make(chan cloudResult, 1),
		state:     Warmup,
	}
}

// State returns the current lifecycle state.
func (d *EdgeCloudDetector) State() State {
	return d.state
}

// TrackerFailures counts frames on which the tracker pool lost everything.
func (d *EdgeCloudDetector) TrackerFailures() int {
	return d.pool.Failures()
}

// Step processes the next frame of the stream. The caller keeps its reference
// to frame; the detector retains what it needs.
func (d *EdgeCloudDetector) Step(frame *model.Frame) StepResult {
	d.Record(frame)
	defer func() { d.frames++ }()

	if d.state != Steady {
		return d.warmup(frame)
	}

	result := StepResult{FrameID: frame.ID}
	d.last = d.pool.TrackObjects(frame, d.opts.Decay)

	if detections, ok := d.edgeRefresh(frame); ok {
		fused := fusion.Fuse(model.Detections(d.last), detections, model.Edge)
		d.admit(frame, fused, model.Edge)
		result.Refreshed, result.Source = true, model.Edge
	}

	d.ProcessCloudDetections(frame)
	if fused, ok := d.GetCloudDetections(model.Detections(d.last)); ok {
		d.admit(frame, fused, model.Cloud)
		result.Refreshed, result.Source = true, model.Cloud
	}

	result.Detections = append([]model.TrackedDetection(nil), d.last...)
	return result
}

func (d *EdgeCloudDetector) warmup(frame *model.Frame) StepResult {
	d.state = Steady
	d.ProcessCloudDetections(frame)

	result := StepResult{FrameID: frame.ID, Source: model.Edge}
	detections, ok := d.detectEdgeBlocking(frame)
	if !ok {
		d.logger.Warning("No edge detection for the first frame %d of %s", frame.ID, frame.Stream)
		d.last = nil
		return result
	}

	d.admit(frame, detections, model.Edge)
	result.Refreshed = true
	result.Detections = append([]model.TrackedDetection(nil), d.last...)
	return result
}

func (d *EdgeCloudDetector) admit(frame *model.Frame, detections []model.Detection, source model.Source) {
	d.pool.Seed(frame, detections, source)
	d.last = model.Tag(detections, source)
}

// edgeRefresh returns edge detections aligned to frame when a response is
// available for this cycle.
func (d *EdgeCloudDetector) edgeRefresh(frame *model.Frame) ([]model.Detection, bool) {
	due := d.frames%d.opts.DetectionRate == 0

	if d.opts.Sync {
		if !due {
			return nil, false
		}
		return d.detectEdgeBlocking(frame)
	}

	var (
		detections []model.Detection
		ok         bool
	)
	if d.edgePending {
		d.edgeBacklog = appendBounded(d.edgeBacklog, frame.Retain(), d.opts.MaxFPS)
		detections, ok = d.PollEdgeDetection(d.opts.PollTimeout)
	}
	if due && !d.edgePending {
		d.RequestEdgeDetectionAsync(frame)
	}
	return detections, ok
}

func (d *EdgeCloudDetector) detectEdgeBlocking(frame *model.Frame) ([]model.Detection, bool) {
	err := d.RequestEdgeDetectionAsync(frame)
	if errors.Is(err, transport.ErrRequestInProgress) {
		// Drain the response of an abandoned request first.
		d.PollEdgeDetection(d.opts.WarmupTimeout)
		err = d.RequestEdgeDetectionAsync(frame)
	}
	if err != nil {
		return nil, false
	}
	return d.PollEdgeDetection(d.opts.WarmupTimeout)
}

// RequestEdgeDetectionAsync sends frame to the edge detector without waiting.
func (d *EdgeCloudDetector) RequestEdgeDetectionAsync(frame *model.Frame) error {
	if d.edgePending {
		return transport.ErrRequestInProgress
	}

	if err := d.edge.Send(frame); err != nil {
		if errors.Is(err, transport.ErrRequestInProgress) {
			d.edgePending = true
		} else {
			d.logger.Warning("Edge request for frame %d failed: %v", frame.ID, err)
		}
		return err
	}

	model.ReleaseAll(d.edgeBacklog)
	d.edgeBacklog = append(d.edgeBacklog[:0], frame.Retain())
	d.edgePending = true
	return nil
}

// PollEdgeDetection waits up to timeout for the pending edge response. The
// detections were computed on the requested frame and are tracked forward
// across the frames seen since, so they are aligned to the latest one.
func (d *EdgeCloudDetector) PollEdgeDetection(timeout time.Duration) ([]model.Detection, bool) {
	response, ok := d.edge.Poll(timeout)
	if !ok {
		return nil, false
	}
	d.edgePending = false

	backlog := d.edgeBacklog
	d.edgeBacklog = nil
	defer model.ReleaseAll(backlog)

	if len(backlog) == 0 || backlog[0].ID != response.FrameID {
		d.logger.Debug("Ignoring stale edge response for frame %d", response.FrameID)
		return nil, false
	}
	if response.Err != nil {
		d.logger.Warning("Edge detection for frame %d failed: %v", response.FrameID, response.Err)
		return nil, false
	}

	return d.project(response.Detections, backlog), true
}

func (d *EdgeCloudDetector) project(detections []model.Detection, backlog []*model.Frame) []model.Detection {
	if len(backlog) < 2 || len(detections) == 0 {
		return detections
	}

	pool := tracking.NewMultiObjectTracker(d.opts.MinScore, d.opts.Factory, d.logger)
	defer pool.Reset()

	pool.Seed(backlog[0], detections, model.Edge)
	last := len(backlog) - 1
	return model.Detections(pool.TrackObjectsUntilCurrent(backlog[1:last], backlog[last], d.opts.Decay))
}

// Record appends frame to the backlog, dropping the oldest frames beyond MaxFPS.
func (d *EdgeCloudDetector) Record(frame *model.Frame) {
	d.backlog = appendBounded(d.backlog, frame.Retain(), d.opts.MaxFPS)
}

func appendBounded(frames []*model.Frame, frame *model.Frame, limit int) []*model.Frame {
	frames = append(frames, frame)
	if over := len(frames) - limit; over > 0 {
		model.ReleaseAll(frames[:over])
		frames = append(frames[:0], frames[over:]...)
	}
	return frames
}

// ProcessCloudDetections keeps exactly one cloud request in flight. When the
// previous request has completed, its result and the frames buffered since it
// was issued go to the catch-up worker, and a new request is issued for frame.
func (d *EdgeCloudDetector) ProcessCloudDetections(frame *model.Frame) {
	if d.cloudInFlight {
		select {
		case result := <-d.cloudDone:
			d.cloudInFlight = false
			d.handOff(result, frame)
		default:
			return
		}
	}

	d.requestCloud(frame)
	d.restartBacklog(frame)
}

func (d *EdgeCloudDetector) handOff(result cloudResult, current *model.Frame) {
	if result.epoch != d.epoch {
		d.logger.Debug("Ignoring cloud result for frame %d of a previous stream", result.frameID)
		return
	}

	n := len(d.backlog)
	if n > 0 && d.backlog[n-1] == current {
		n--
	}
	frames := append([]*model.Frame(nil), d.backlog[:n]...)
	d.backlog = d.backlog[n:]

	d.worker.Submit(tracking.CatchUpRequest{
		Detections: bbox.RescaleAll(result.detections, d.opts.Dimensions.Cloud(), d.opts.Dimensions.Edge()),
		Backlog:    frames,
		Current:    current.Retain(),
		MinScore:   d.opts.MinScore,
		Stride:     d.opts.CloudStride,
		Epoch:      d.epoch,
	})
}

// restartBacklog leaves frame as the only buffered frame.
func (d *EdgeCloudDetector) restartBacklog(frame *model.Frame) {
	var keep *model.Frame
	for _, f := range d.backlog {
		if f == frame && keep == nil {
			keep = f
			continue
		}
		f.Release()
	}
	if keep == nil {
		keep = frame.Retain()
	}
	d.backlog = append(d.backlog[:0], keep)
}

func (d *EdgeCloudDetector) requestCloud(frame *model.Frame) {
	d.cloudInFlight = true
	epoch := d.epoch
	f := frame.Retain()

	d.cloudWG.Add(1)
	go func() {
		defer d.cloudWG.Done()
		defer f.Release()

		detections, err := d.cloud.Detect(d.ctx, f)
		if err != nil {
			d.logger.Warning("Cloud detection for frame %d failed: %v", f.ID, err)
			detections = nil
		}
		d.cloudDone <- cloudResult{frameID: f.ID, detections: detections, epoch: epoch}
	}()
}

// GetCloudDetections fuses the latest catch-up result into current as a
// cloud update. It never blocks. An empty result is not an update: a cloud
// pass that failed or found nothing keeps the current state.
func (d *EdgeCloudDetector) GetCloudDetections(current []model.Detection) ([]model.Detection, bool) {
	result, ok := d.worker.Poll()
	if !ok {
		return nil, false
	}
	if result.Epoch != d.epoch {
		return nil, false
	}
	if len(result.Detections) == 0 {
		d.logger.Debug("Empty cloud result for frame %d, keeping current detections", result.FrameID)
		return nil, false
	}
	return fusion.Fuse(current, result.Detections, model.Cloud), true
}

// Drain ends the stream. Results still in flight are discarded and the
// detector is ready for the next stream.
func (d *EdgeCloudDetector) Drain() {
	d.state = Draining
	if d.cloudInFlight {
		d.logger.Debug("Discarding in-flight cloud detection")
	}
	d.Reset()
}

// Reset clears the backlog, the tracker pool and the last detections. Results
// of requests issued before the reset are ignored when they arrive.
func (d *EdgeCloudDetector) Reset() {
	d.pool.Reset()
	model.ReleaseAll(d.backlog)
	d.backlog = nil
	model.ReleaseAll(d.edgeBacklog)
	d.edgeBacklog = nil
	d.last = nil
	d.frames = 0
	d.epoch++
	d.state = Warmup
}

// Close stops background work and releases every buffered frame.
func (d *EdgeCloudDetector) Close() {
	d.Reset()
	d.cancel()
	d.stop()
	d.cloudWG.Wait()

	select {
	case <-d.cloudDone:
	default:
	}
}
