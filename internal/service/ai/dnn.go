package ai

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

const (
	// DetectionThreshold is the minimum confidence of a reported detection.
	DetectionThreshold = 0.35
	// SSD input resolution.
	inputWidth  = 300
	inputHeight = 300
)

// DNNPredictor runs an SSD network through OpenCV's dnn module.
type DNNPredictor struct {
	net        gocv.Net
	mu         sync.Mutex
	modelPath  string
	configPath string
	threshold  float32
	logger     *logger.Logger
}

// NewDNNPredictor loads the network from modelPath and configPath.
func NewDNNPredictor(modelPath, configPath string, logger *logger.Logger) (*DNNPredictor, error) {
	p := &DNNPredictor{
		modelPath:  modelPath,
		configPath: configPath,
		threshold:  DetectionThreshold,
		logger:     logger,
	}

	if err := p.initializeNet(); err != nil {
		return nil, err
	}
	return p, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (p *DNNPredictor) initializeNet() error {
	if _, err := os.Stat(p.modelPath); os.IsNotExist(err) {
		return errors.Newf("model file not found: %s", p.modelPath)
	}
	if _, err := os.Stat(p.configPath); os.IsNotExist(err) {
		return errors.Newf("config file not found: %s", p.configPath)
	}

	net := gocv.ReadNet(p.modelPath, p.configPath)
	if net.Empty() {
		return errors.New("failed to load network")
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return errors.Wrap(err, "set preferable backend")
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return errors.Wrap(err, "set preferable target")
	}

	p.net = net
	p.logger.Info("Detection network initialized from %s", p.modelPath)
	return nil
}

// Predict decodes the image and runs the network on it.
func (p *DNNPredictor) Predict(_ context.Context, img []byte) ([]model.Detection, error) {
	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("decoded image is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(inputWidth, inputHeight), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	p.mu.Lock()
	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	p.mu.Unlock()
	defer output.Close()

	return parseSSD(output, mat.Cols(), mat.Rows(), p.threshold), nil
}

// parseSSD reads rows of [batch, class, confidence, x1, y1, x2, y2] with
// coordinates relative to the image size. Class ids start at 1, 0 being the
// background.
func parseSSD(output gocv.Mat, width, height int, threshold float32) []model.Detection {
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	detections := make([]model.Detection, 0)
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence < threshold {
			continue
		}

		classID := int(rows.GetFloatAt(i, 1))
		x1 := int(rows.GetFloatAt(i, 3) * float32(width))
		y1 := int(rows.GetFloatAt(i, 4) * float32(height))
		x2 := int(rows.GetFloatAt(i, 5) * float32(width))
		y2 := int(rows.GetFloatAt(i, 6) * float32(height))

		detections = append(detections, model.Detection{
			Category: CategoryName(classID - 1),
			Score:    int(confidence * 100),
			BBox:     model.BBox{x1, y1, x2 - x1, y2 - y1},
		})
	}
	return detections
}

// Close releases the network.
func (p *DNNPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.net.Close()
}
