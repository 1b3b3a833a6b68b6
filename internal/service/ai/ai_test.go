package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

func det(category string, score int, box model.BBox) model.Detection {
	return model.Detection{Category: category, Score: score, BBox: box}
}

// fakePredictor returns fixed detections, optionally waiting for gate.
type fakePredictor struct {
	mu         sync.Mutex
	detections []model.Detection
	err        error
	gate       chan struct{}
	calls      atomic.Int32
}

func (f *fakePredictor) Predict(ctx context.Context, _ []byte) ([]model.Detection, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Detection(nil), f.detections...), f.err
}

func (f *fakePredictor) set(detections ...model.Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = detections
}

func TestTorchServePredictor_Predict(t *testing.T) {
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r
		json.NewEncoder(w).Encode([]dto.TorchServeDetection{
			{ClassName: "car", Score: 0.91, BBox: [4]float64{10, 20, 50, 80}},
			{ClassName: "bus", Score: 0.5, BBox: [4]float64{0, 0, 100, 40}},
		})
	}))
	defer server.Close()

	p := NewTorchServePredictor(server.URL, time.Second, logger.NewNop())
	detections, err := p.Predict(context.Background(), []byte{0xFF, 0xD8})

	require.NoError(t, err)
	r := <-requests
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
	assert.Equal(t, []model.Detection{
		det("car", 91, model.BBox{10, 20, 40, 60}),
		det("bus", 50, model.BBox{0, 0, 100, 40}),
	}, detections)
}

func TestTorchServePredictor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewTorchServePredictor(server.URL, time.Second, logger.NewNop())
	_, err := p.Predict(context.Background(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTorchServePredictor_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewTorchServePredictor(server.URL, 20*time.Millisecond, logger.NewNop())
	_, err := p.Predict(context.Background(), nil)

	assert.Error(t, err)
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "pedestrian", CategoryName(0))
	assert.Equal(t, "car", CategoryName(3))
	assert.Equal(t, "motor", CategoryName(9))
	assert.Equal(t, "unknown10", CategoryName(10))
	assert.Equal(t, "unknown-1", CategoryName(-1))
}

func TestObjectDetector_EdgeOnly(t *testing.T) {
	edge := &fakePredictor{}
	d := NewObjectDetector(edge, &fakePredictor{}, DefaultCloudProbability, DefaultScoreDecay, logger.NewNop())
	d.random = func() float64 { return 1 }
	defer d.Close()

	edge.set(det("car", 90, model.BBox{0, 0, 10, 10}))
	source, detections, err := d.Detect(context.Background(), "cam", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Edge, source)
	assert.Equal(t, []model.Detection{det("car", 90, model.BBox{0, 0, 10, 10})}, detections)

	edge.set(det("van", 80, model.BBox{1, 0, 10, 10}))
	source, detections, err = d.Detect(context.Background(), "cam", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Edge, source)
	// Category of the previous response, position and decayed score of the new one.
	assert.Equal(t, []model.Detection{det("car", 79, model.BBox{1, 0, 10, 10})}, detections)
}

func TestObjectDetector_FusesPendingCloudResult(t *testing.T) {
	edge := &fakePredictor{detections: []model.Detection{det("car", 70, model.BBox{1, 1, 10, 10})}}
	cloud := &fakePredictor{
		detections: []model.Detection{det("bus", 95, model.BBox{0, 0, 10, 10})},
		gate:       make(chan struct{}),
	}
	d := NewObjectDetector(edge, cloud, DefaultCloudProbability, DefaultScoreDecay, logger.NewNop())
	d.random = func() float64 { return 0 }
	defer d.Close()

	source, _, err := d.Detect(context.Background(), "cam", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Edge, source)

	close(cloud.gate)
	state := d.stream("cam")
	require.Eventually(t, func() bool {
		state.mu.Lock()
		defer state.mu.Unlock()
		return len(state.cloud) > 0 && !state.inProgress
	}, 2*time.Second, time.Millisecond)

	d.random = func() float64 { return 1 }
	source, detections, err := d.Detect(context.Background(), "cam", nil)

	require.NoError(t, err)
	assert.Equal(t, model.Cloud, source)
	assert.Equal(t, []model.Detection{det("bus", 94, model.BBox{1, 1, 10, 10})}, detections)

	// The cloud result is consumed once.
	source, _, err = d.Detect(context.Background(), "cam", nil)
	require.NoError(t, err)
	assert.Equal(t, model.Edge, source)
}

func TestObjectDetector_OneCloudRequestPerStream(t *testing.T) {
	edge := &fakePredictor{}
	cloud := &fakePredictor{gate: make(chan struct{})}
	d := NewObjectDetector(edge, cloud, DefaultCloudProbability, DefaultScoreDecay, logger.NewNop())
	d.random = func() float64 { return 0 }

	for i := 0; i < 3; i++ {
		_, _, err := d.Detect(context.Background(), "cam", nil)
		require.NoError(t, err)
	}
	_, _, err := d.Detect(context.Background(), "other", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return cloud.calls.Load() == 2 }, 2*time.Second, time.Millisecond)
	d.Close()
	assert.Equal(t, int32(2), cloud.calls.Load())
}

func TestObjectDetector_HandleReportsErrors(t *testing.T) {
	edge := &fakePredictor{err: errors.New("inference failed")}
	d := NewObjectDetector(edge, nil, DefaultCloudProbability, DefaultScoreDecay, logger.NewNop())
	defer d.Close()

	resp := d.Handle(context.Background(), "device", dto.DetectionRequest{FrameID: 3, StreamID: "cam"})

	assert.Equal(t, int64(3), resp.FrameID)
	assert.Equal(t, "EDGE", resp.Source)
	assert.NotNil(t, resp.Detections)
	assert.Empty(t, resp.Detections)
	assert.Contains(t, resp.Error, "inference failed")
}

func TestObjectDetector_HandleEncodesDetections(t *testing.T) {
	edge := &fakePredictor{detections: []model.Detection{det("car", 90, model.BBox{1, 2, 3, 4})}}
	d := NewObjectDetector(edge, nil, DefaultCloudProbability, DefaultScoreDecay, logger.NewNop())
	defer d.Close()

	resp := d.Handle(context.Background(), "device", dto.DetectionRequest{FrameID: 9, StreamID: "cam"})

	assert.Empty(t, resp.Error)
	assert.Equal(t, []dto.WireDetection{{BBox: [4]int{1, 2, 3, 4}, Score: 90, Category: "car"}}, resp.Detections)
}

type fakeTransport struct {
	sent     []dto.DetectionRequest
	response *dto.DetectionResponse
}

func (f *fakeTransport) Send(req dto.DetectionRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeTransport) Poll(time.Duration) (dto.DetectionResponse, bool) {
	if f.response == nil {
		return dto.DetectionResponse{}, false
	}
	resp := *f.response
	f.response = nil
	return resp, true
}

func TestEdgeServerDetector_Poll(t *testing.T) {
	transport := &fakeTransport{response: &dto.DetectionResponse{
		FrameID:    4,
		Source:     "CLOUD",
		Detections: []dto.WireDetection{{BBox: [4]int{5, 6, 7, 8}, Score: 77, Category: "van"}},
	}}
	d := NewEdgeServerDetector(transport)

	result, ok := d.Poll(0)
	require.True(t, ok)
	assert.Equal(t, int64(4), result.FrameID)
	assert.Equal(t, []model.Detection{det("van", 77, model.BBox{5, 6, 7, 8})}, result.Detections)

	_, ok = d.Poll(0)
	assert.False(t, ok)
}

func TestEdgeServerDetector_PollCarriesServerError(t *testing.T) {
	transport := &fakeTransport{response: &dto.DetectionResponse{FrameID: 6, Error: "connection lost"}}
	d := NewEdgeServerDetector(transport)

	result, ok := d.Poll(0)

	require.True(t, ok)
	assert.Equal(t, int64(6), result.FrameID)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "connection lost")
}

func TestEdgeServerDetector_SendRejectsEmptyFrame(t *testing.T) {
	transport := &fakeTransport{}
	d := NewEdgeServerDetector(transport)

	empty := gocv.NewMat()
	defer empty.Close()

	err := d.Send(&model.Frame{ID: 1, EdgeView: empty})

	assert.Error(t, err)
	assert.Empty(t, transport.sent)
}
