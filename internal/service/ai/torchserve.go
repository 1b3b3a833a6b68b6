package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

// TorchServePredictor posts images to a TorchServe prediction endpoint.
type TorchServePredictor struct {
	url    string
	client *http.Client
	logger *logger.Logger
}

// NewTorchServePredictor creates a predictor for url. Requests that take
// longer than timeout fail.
func NewTorchServePredictor(url string, timeout time.Duration, logger *logger.Logger) *TorchServePredictor {
	return &TorchServePredictor{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Predict sends the image and parses the detections of the response.
func (p *TorchServePredictor) Predict(ctx context.Context, image []byte) ([]model.Detection, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(image))
	if err != nil {
		return nil, errors.Wrap(err, "build prediction request")
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", p.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("prediction failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var raw []dto.TorchServeDetection
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode prediction response")
	}

	p.logger.Debug("Got %d detections from %s in %v", len(raw), p.url, time.Since(start))
	return fromTorchServe(raw), nil
}

// TorchServeDetector is the edge device's cloud detector: it sends the cloud
// view of a frame to a predictor.
type TorchServeDetector struct {
	predictor Predictor
}

// NewTorchServeDetector wraps a predictor.
func NewTorchServeDetector(predictor Predictor) *TorchServeDetector {
	return &TorchServeDetector{predictor: predictor}
}

// Detect runs the predictor on the cloud view. Boxes are in the cloud view.
func (d *TorchServeDetector) Detect(ctx context.Context, frame *model.Frame) ([]model.Detection, error) {
	image, err := EncodeJPEG(frame.CloudView)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d", frame.ID)
	}
	return d.predictor.Predict(ctx, image)
}
