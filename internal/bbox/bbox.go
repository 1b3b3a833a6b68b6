// Package bbox converts and compares bounding boxes.
//
// Boxes exchanged between components are corner-size ([x, y, w, h]); detectors
// report corner-corner ([x1, y1, x2, y2]) and are converted at the boundary.
package bbox

import (
	"image"
	"math"

	"edgecloud/internal/model"
)

// XYXYToXYWH converts a corner-corner box to corner-size, truncating to pixels.
func XYXYToXYWH(xyxy [4]float64) model.BBox {
	return model.BBox{
		int(xyxy[0]),
		int(xyxy[1]),
		int(xyxy[2] - xyxy[0]),
		int(xyxy[3] - xyxy[1]),
	}
}

// XYWHToXYXY converts a corner-size box to corner-corner.
func XYWHToXYXY(b model.BBox) [4]int {
	return [4]int{b[0], b[1], b[0] + b[2], b[1] + b[3]}
}

// Scale multiplies every coordinate by the given factors.
func Scale(b model.BBox, scaleWidth, scaleHeight float64) model.BBox {
	return model.BBox{
		int(float64(b[0]) * scaleWidth),
		int(float64(b[1]) * scaleHeight),
		int(float64(b[2]) * scaleWidth),
		int(float64(b[3]) * scaleHeight),
	}
}

// Rescale maps a box from one resolution into another.
func Rescale(b model.BBox, from, to image.Point) model.BBox {
	if from.X == 0 || from.Y == 0 {
		return b
	}
	return Scale(b, float64(to.X)/float64(from.X), float64(to.Y)/float64(from.Y))
}

// RescaleAll rescales the boxes of every detection.
func RescaleAll(detections []model.Detection, from, to image.Point) []model.Detection {
	result := make([]model.Detection, len(detections))
	for i, d := range detections {
		d.BBox = Rescale(d.BBox, from, to)
		result[i] = d
	}
	return result
}

// ToRect converts a corner-size box to an image.Rectangle.
func ToRect(b model.BBox) image.Rectangle {
	return image.Rect(b[0], b[1], b[0]+b[2], b[1]+b[3])
}

// FromRect converts an image.Rectangle to a corner-size box.
func FromRect(r image.Rectangle) model.BBox {
	return model.BBox{r.Min.X, r.Min.Y, r.Dx(), r.Dy()}
}

// IoU is the intersection over union of two corner-size boxes. Degenerate
// boxes have no area and never overlap.
func IoU(a, b model.BBox) float64 {
	if a[2] <= 0 || a[3] <= 0 || b[2] <= 0 || b[3] <= 0 {
		return 0
	}

	iw := math.Min(float64(a[0]+a[2]), float64(b[0]+b[2])) - math.Max(float64(a[0]), float64(b[0]))
	ih := math.Min(float64(a[1]+a[3]), float64(b[1]+b[3])) - math.Max(float64(a[1]), float64(b[1]))
	if iw <= 0 || ih <= 0 {
		return 0
	}

	intersection := iw * ih
	union := float64(a[2]*a[3]) + float64(b[2]*b[3]) - intersection
	return intersection / union
}
