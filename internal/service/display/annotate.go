// Package display renders detection views onto frames and broadcasts them to
// live viewers.
package display

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"edgecloud/internal/bbox"
	"edgecloud/internal/model"
)

var (
	edgeColor    = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	cloudColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	trackedColor = color.RGBA{R: 255, G: 165, B: 0, A: 0}
)

// style returns the colour and line thickness of a view. Detections carried
// by the tracker alone are drawn thin and orange.
func style(v model.DetectionView) (color.RGBA, int) {
	if v.Tracked {
		return trackedColor, 1
	}
	if v.Source == model.Cloud {
		return cloudColor, 2
	}
	return edgeColor, 2
}

// Draw paints every view onto img.
func Draw(img *gocv.Mat, views []model.DetectionView) error {
	for _, v := range views {
		c, thickness := style(v)

		if err := gocv.Rectangle(img, bbox.ToRect(v.BBox), c, thickness); err != nil {
			return errors.Wrap(err, "failed to draw rectangle")
		}

		label := fmt.Sprintf("%s (%d)", v.Category, v.Score)
		pt := image.Pt(v.BBox.X(), v.BBox.Y()-5)
		if err := gocv.PutText(img, label, pt, gocv.FontHersheySimplex, 0.5, c, 1); err != nil {
			return errors.Wrap(err, "failed to draw text")
		}
	}
	return nil
}

// Annotate draws views on a copy of img and returns it JPEG encoded.
func Annotate(img gocv.Mat, views []model.DetectionView) ([]byte, error) {
	if img.Empty() {
		return nil, errors.New("cannot annotate an empty image")
	}

	canvas := img.Clone()
	defer canvas.Close()

	if err := Draw(&canvas, views); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, canvas)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
