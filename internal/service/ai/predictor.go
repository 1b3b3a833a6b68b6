// Package ai wraps the detection models: the edge and cloud predictors, the
// clients the edge device uses to reach them, and the edge server's detector.
package ai

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"edgecloud/internal/bbox"
	"edgecloud/internal/dto"
	"edgecloud/internal/model"
)

// JPEGQuality is used for every image sent to a detector.
const JPEGQuality = 90

// Predictor runs a detection model on a JPEG image. Boxes are corner-size in
// the pixels of that image.
type Predictor interface {
	Predict(ctx context.Context, image []byte) ([]model.Detection, error)
}

// Categories of the VisDrone models, indexed by class id.
var Categories = []string{
	"pedestrian",
	"people",
	"bicycle",
	"car",
	"van",
	"truck",
	"tricycle",
	"awning-tricycle",
	"bus",
	"motor",
}

// CategoryName maps a class id to its name.
func CategoryName(id int) string {
	if id >= 0 && id < len(Categories) {
		return Categories[id]
	}
	return fmt.Sprintf("unknown%d", id)
}

// EncodeJPEG encodes a Mat for transfer to a detector.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, errors.New("image is empty")
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), JPEGQuality})
	if err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	defer buf.Close()

	encoded := make([]byte, buf.Len())
	copy(encoded, buf.GetBytes())
	return encoded, nil
}

// fromTorchServe converts raw model output into detections with percentage
// scores and corner-size boxes.
func fromTorchServe(raw []dto.TorchServeDetection) []model.Detection {
	detections := make([]model.Detection, 0, len(raw))
	for _, r := range raw {
		detections = append(detections, model.Detection{
			Category: r.ClassName,
			Score:    int(r.Score * 100),
			BBox:     bbox.XYXYToXYWH(r.BBox),
		})
	}
	return detections
}
