// Package device runs the edge device: it reads every stream, steps the
// edge-cloud detector frame by frame and hands the results to the recorder
// and the live viewer.
package device

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/bbox"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/repository"
	"edgecloud/internal/service/detection"
	"edgecloud/internal/source"
)

// Detector is the per-stream orchestrator.
type Detector interface {
	Step(frame *model.Frame) detection.StepResult
	Drain()
	TrackerFailures() int
}

// Recorder persists the views of a run.
type Recorder interface {
	Add(runID int64, views []model.DetectionView)
}

// Sink receives every processed frame with its views.
type Sink interface {
	Publish(frame *model.Frame, views []model.DetectionView)
}

// Opener opens the source of a stream.
type Opener func(stream source.Stream) (source.Source, error)

// Processor drives the detector over a sequence of streams.
type Processor struct {
	detector Detector
	dims     model.Dimensions
	open     Opener
	logger   *logger.Logger

	runs     repository.RunRepository
	recorder Recorder
	sinks    []Sink
}

// Option configures a Processor.
type Option func(*Processor)

// WithRuns stores a run record per stream.
func WithRuns(runs repository.RunRepository) Option {
	return func(p *Processor) { p.runs = runs }
}

// WithRecorder records every view.
func WithRecorder(recorder Recorder) Option {
	return func(p *Processor) { p.recorder = recorder }
}

// WithSink publishes every frame.
func WithSink(sink Sink) Option {
	return func(p *Processor) { p.sinks = append(p.sinks, sink) }
}

// WithOpener replaces the default source opener.
func WithOpener(open Opener) Option {
	return func(p *Processor) { p.open = open }
}

// NewProcessor creates a Processor. Sources are opened at the dims resolutions
// and paced to maxFPS.
func NewProcessor(detector Detector, dims model.Dimensions, maxFPS int, logger *logger.Logger, opts ...Option) *Processor {
	p := &Processor{
		detector: detector,
		dims:     dims,
		logger:   logger,
		open: func(stream source.Stream) (source.Source, error) {
			return source.Open(stream, dims, maxFPS, logger)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every stream selected by videos in order. A source that
// cannot be acquired ends its own stream only; those failures are returned
// together once every stream ran. Cancellation ends processing cleanly.
func (p *Processor) Process(ctx context.Context, videos string) error {
	streams, err := source.Discover(videos)
	if err != nil {
		return err
	}

	var failures error
	for _, stream := range streams {
		if ctx.Err() != nil {
			break
		}
		if err := p.ProcessStream(ctx, stream); err != nil {
			p.logger.Error("Stream %s ended: %v", stream.Name, err)
			failures = errors.CombineErrors(failures, err)
		}
	}
	return failures
}

// ProcessStream runs one stream to its end and drains the detector.
func (p *Processor) ProcessStream(ctx context.Context, stream source.Stream) error {
	src, err := p.open(stream)
	if err != nil {
		return err
	}
	defer src.Close()
	defer p.detector.Drain()

	run := &model.StreamRun{Stream: src.Name(), Source: kind(stream), StartedAt: time.Now()}
	failuresBefore := p.detector.TrackerFailures()
	p.startRun(run)
	p.logger.Info("Processing stream %s", run.Stream)

	changes := source.NewChangeDetector()
	defer changes.Reset()

	err = p.loop(ctx, src, changes, run)

	run.TrackerFailures = p.detector.TrackerFailures() - failuresBefore
	p.finishRun(run)
	p.logger.Info("Finished %s: %d frames, %d skipped, %d tracker failures",
		run.Stream, run.Frames, run.SkippedFrames, run.TrackerFailures)

	return err
}

func (p *Processor) loop(ctx context.Context, src source.Source, changes *source.ChangeDetector, run *model.StreamRun) error {
	for {
		frame, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		case errors.Is(err, source.ErrSourceUnavailable):
			return err
		default:
			p.logger.Error("Reading %s failed: %v", run.Stream, err)
			return nil
		}

		changed, err := changes.Changed(frame)
		if err != nil {
			p.logger.Warning("Change detection on frame %d failed: %v", frame.ID, err)
			changed = true
		}
		if !changed {
			run.SkippedFrames++
			frame.Release()
			continue
		}

		p.step(frame, run)
		frame.Release()
	}
}

func (p *Processor) step(frame *model.Frame, run *model.StreamRun) {
	result := p.detector.Step(frame)
	run.Frames++

	views := Views(frame, result, p.dims)
	if p.recorder != nil && run.ID != 0 {
		p.recorder.Add(run.ID, views)
	}
	for _, sink := range p.sinks {
		sink.Publish(frame, views)
	}
}

func (p *Processor) startRun(run *model.StreamRun) {
	if p.runs == nil {
		return
	}
	if _, err := p.runs.Start(run); err != nil {
		p.logger.Error("Failed to store run of %s: %v", run.Stream, err)
	}
}

func (p *Processor) finishRun(run *model.StreamRun) {
	if p.runs == nil || run.ID == 0 {
		return
	}
	run.EndedAt = time.Now()
	if err := p.runs.Finish(run); err != nil {
		p.logger.Error("Failed to finish run %d: %v", run.ID, err)
	}
}

func kind(stream source.Stream) string {
	if stream.Camera() {
		return "camera"
	}
	return "images"
}

// Views converts a step result from edge coordinates to the resolution of the
// raw frame. Detections that were not refreshed on this frame are marked as
// tracked.
func Views(frame *model.Frame, result detection.StepResult, dims model.Dimensions) []model.DetectionView {
	from, to := dims.Edge(), dims.Edge()
	if !frame.Image.Empty() {
		to = image.Pt(frame.Image.Cols(), frame.Image.Rows())
	}

	views := make([]model.DetectionView, 0, len(result.Detections))
	for _, d := range result.Detections {
		views = append(views, model.DetectionView{
			FrameID:  frame.ID,
			Stream:   frame.Stream,
			BBox:     bbox.Rescale(d.BBox, from, to),
			Score:    d.Score,
			Category: d.Category,
			Source:   d.Source,
			Tracked:  !result.Refreshed,
		})
	}
	return views
}
