package model

import "image"

// Dimensions holds the inference resolutions of the edge and cloud detectors.
type Dimensions struct {
	EdgeWidth   int
	EdgeHeight  int
	CloudWidth  int
	CloudHeight int
}

// Edge returns the edge resolution as a point.
func (d Dimensions) Edge() image.Point {
	return image.Pt(d.EdgeWidth, d.EdgeHeight)
}

// Cloud returns the cloud resolution as a point.
func (d Dimensions) Cloud() image.Point {
	return image.Pt(d.CloudWidth, d.CloudHeight)
}
