// Package fusion reconciles two independently sourced detection sets.
//
// Detections are matched by IoU with an optimal assignment. For each matched
// pair the cloud is trusted for the category and the edge for the position:
// a CLOUD update keeps the current box and takes the new category, an EDGE
// update keeps the current category and takes the new box. Unmatched new
// detections are always kept; unmatched current detections survive only a
// CLOUD update.
package fusion

import (
	"gonum.org/v1/gonum/mat"

	"edgecloud/internal/bbox"
	"edgecloud/internal/model"
)

const (
	// DefaultMinIoU is the overlap below which two boxes never match.
	DefaultMinIoU = 0.5
)

// Fuser merges detection sets.
type Fuser struct {
	// MinIoU is the matching threshold.
	MinIoU float64
	// ScoreDecay scales the score of merged pairs; 1 keeps it unchanged.
	ScoreDecay float64
}

// New returns a Fuser with the default threshold and the given score decay.
func New(scoreDecay float64) *Fuser {
	if scoreDecay <= 0 {
		scoreDecay = 1
	}
	return &Fuser{MinIoU: DefaultMinIoU, ScoreDecay: scoreDecay}
}

var defaultFuser = New(1)

// Fuse merges next into current with the default Fuser.
func Fuse(current, next []model.Detection, nextSource model.Source) []model.Detection {
	return defaultFuser.Fuse(current, next, nextSource)
}

// Fuse merges a new detection set of the given source into the current one.
func (f *Fuser) Fuse(current, next []model.Detection, nextSource model.Source) []model.Detection {
	if len(current) == 0 {
		return clone(next)
	}
	if len(next) == 0 {
		return []model.Detection{}
	}

	weights := f.overlap(current, next)
	assignment := maximizeAssignment(weights)

	result := make([]model.Detection, 0, len(current)+len(next))
	for i, j := range assignment {
		if j < 0 {
			continue
		}

		if weights.At(i, j) != 0 {
			result = append(result, f.merge(current[i], next[j], nextSource))
			continue
		}

		if j < len(next) {
			result = append(result, next[j])
		}
		if i < len(current) && nextSource == model.Cloud {
			result = append(result, current[i])
		}
	}
	return result
}

// overlap builds the square IoU matrix between current (rows) and next
// (columns), padded with zeros and with every entry below MinIoU zeroed.
func (f *Fuser) overlap(current, next []model.Detection) *mat.Dense {
	dim := len(current)
	if len(next) > dim {
		dim = len(next)
	}

	weights := mat.NewDense(dim, dim, nil)
	for i, c := range current {
		for j, n := range next {
			iou := bbox.IoU(c.BBox, n.BBox)
			if iou >= f.MinIoU {
				weights.Set(i, j, iou)
			}
		}
	}
	return weights
}

func (f *Fuser) merge(current, next model.Detection, nextSource model.Source) model.Detection {
	merged := model.Detection{Score: int(float64(next.Score) * f.ScoreDecay)}
	switch nextSource {
	case model.Cloud:
		merged.Category = next.Category
		merged.BBox = current.BBox
	default:
		merged.Category = current.Category
		merged.BBox = next.BBox
	}
	return merged
}

func clone(detections []model.Detection) []model.Detection {
	result := make([]model.Detection, len(detections))
	copy(result, detections)
	return result
}
