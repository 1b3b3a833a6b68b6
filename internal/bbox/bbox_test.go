package bbox

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"

	"edgecloud/internal/model"
)

func TestXYXYToXYWH(t *testing.T) {
	assert.Equal(t, model.BBox{10, 20, 30, 40}, XYXYToXYWH([4]float64{10, 20, 40, 60}))
	assert.Equal(t, model.BBox{1, 2, 3, 4}, XYXYToXYWH([4]float64{1.7, 2.2, 4.9, 6.4}))
}

func TestXYWHToXYXY(t *testing.T) {
	assert.Equal(t, [4]int{10, 20, 40, 60}, XYWHToXYXY(model.BBox{10, 20, 30, 40}))
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name     string
		box      model.BBox
		from, to image.Point
		expected model.BBox
	}{
		{"cloud to edge", model.BBox{100, 200, 50, 80}, image.Pt(1000, 800), image.Pt(500, 400), model.BBox{50, 100, 25, 40}},
		{"identity", model.BBox{5, 6, 7, 8}, image.Pt(100, 100), image.Pt(100, 100), model.BBox{5, 6, 7, 8}},
		{"double", model.BBox{5, 6, 7, 8}, image.Pt(100, 100), image.Pt(200, 200), model.BBox{10, 12, 14, 16}},
		{"zero source keeps box", model.BBox{5, 6, 7, 8}, image.Pt(0, 0), image.Pt(200, 200), model.BBox{5, 6, 7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Rescale(tt.box, tt.from, tt.to))
		})
	}
}

func TestRectRoundTrip(t *testing.T) {
	b := model.BBox{3, 4, 10, 20}
	r := ToRect(b)
	assert.Equal(t, image.Rect(3, 4, 13, 24), r)
	assert.Equal(t, b, FromRect(r))
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     model.BBox
		expected float64
	}{
		{"identical", model.BBox{0, 0, 10, 10}, model.BBox{0, 0, 10, 10}, 1},
		{"disjoint", model.BBox{0, 0, 10, 10}, model.BBox{20, 20, 10, 10}, 0},
		{"touching edges", model.BBox{0, 0, 10, 10}, model.BBox{10, 0, 10, 10}, 0},
		{"shifted by one", model.BBox{0, 0, 10, 10}, model.BBox{1, 1, 10, 10}, 81.0 / 119.0},
		{"half overlap", model.BBox{0, 0, 10, 10}, model.BBox{5, 0, 10, 10}, 50.0 / 150.0},
		{"degenerate", model.BBox{0, 0, 0, 0}, model.BBox{0, 0, 10, 10}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.expected, IoU(tt.b, tt.a), 1e-9)
		})
	}
}
