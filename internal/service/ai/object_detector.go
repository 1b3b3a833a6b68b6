package ai

import (
	"context"
	"math/rand"
	"sync"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/service/fusion"
)

const (
	// DefaultCloudProbability is the share of requests that also go to the cloud.
	DefaultCloudProbability = 0.2
	// DefaultScoreDecay lowers the score of every fused detection.
	DefaultScoreDecay = 0.99
)

// streamState is what the edge server remembers about one stream.
type streamState struct {
	mu         sync.Mutex
	last       []model.Detection
	cloud      []model.Detection
	inProgress bool
}

// ObjectDetector answers edge server requests. Every request runs the edge
// predictor; some also start a background cloud prediction whose result is
// fused into the next response of the same stream.
type ObjectDetector struct {
	edge        Predictor
	cloud       Predictor
	probability float64
	fuser       *fusion.Fuser
	logger      *logger.Logger

	// random returns a number in [0, 1).
	random func() float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	streams map[string]*streamState
}

// NewObjectDetector creates a detector. cloud may be nil, in which case only
// the edge predictor runs.
func NewObjectDetector(edge, cloud Predictor, probability, scoreDecay float64, logger *logger.Logger) *ObjectDetector {
	ctx, cancel := context.WithCancel(context.Background())
	return &ObjectDetector{
		edge:        edge,
		cloud:       cloud,
		probability: probability,
		fuser:       fusion.New(scoreDecay),
		logger:      logger,
		random:      rand.Float64,
		ctx:         ctx,
		cancel:      cancel,
		streams:     make(map[string]*streamState),
	}
}

// Handle is the transport handler of the edge server.
func (d *ObjectDetector) Handle(ctx context.Context, identity string, req dto.DetectionRequest) dto.DetectionResponse {
	source, detections, err := d.Detect(ctx, req.StreamID, req.Image)

	resp := dto.DetectionResponse{
		FrameID:    req.FrameID,
		Source:     source.String(),
		Detections: dto.FromModel(detections),
	}
	if err != nil {
		d.logger.Warning("Detection for %s frame %d failed: %v", identity, req.FrameID, err)
		resp.Error = err.Error()
	}
	return resp
}

// Detect runs the edge predictor on image and reconciles the result with
// what the stream saw before.
func (d *ObjectDetector) Detect(ctx context.Context, stream string, image []byte) (model.Source, []model.Detection, error) {
	state := d.stream(stream)

	if d.cloud != nil && d.random() < d.probability {
		d.requestCloud(state, image)
	}

	edge, err := d.edge.Predict(ctx, image)
	if err != nil {
		return model.Edge, []model.Detection{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if len(state.cloud) > 0 {
		cloud := state.cloud
		state.cloud = nil
		state.last = d.fuser.Fuse(edge, cloud, model.Cloud)
		return model.Cloud, state.last, nil
	}

	state.last = d.fuser.Fuse(state.last, edge, model.Edge)
	return model.Edge, state.last, nil
}

// requestCloud starts a cloud prediction unless one is running for the stream.
func (d *ObjectDetector) requestCloud(state *streamState, image []byte) {
	state.mu.Lock()
	if state.inProgress {
		state.mu.Unlock()
		return
	}
	state.inProgress = true
	state.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		detections, err := d.cloud.Predict(d.ctx, image)
		if err != nil {
			d.logger.Warning("Cloud prediction failed: %v", err)
		}

		state.mu.Lock()
		defer state.mu.Unlock()
		state.inProgress = false
		if err == nil {
			state.cloud = detections
		}
	}()
}

func (d *ObjectDetector) stream(id string) *streamState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.streams[id]
	if !ok {
		state = &streamState{}
		d.streams[id] = state
		d.logger.Info("Tracking new stream %s", id)
	}
	return state
}

// Close cancels running cloud predictions and waits for them.
func (d *ObjectDetector) Close() {
	d.cancel()
	d.wg.Wait()
}
