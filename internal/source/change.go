package source

import (
	"sync"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"edgecloud/internal/model"
)

// ChangeDetector tells whether a frame differs from the previous one. Frames
// without change are skipped by the device loop.
type ChangeDetector struct {
	// PixelThreshold is the difference, in any channel, above which a pixel
	// counts as changed.
	PixelThreshold float32
	// More than MinChangedPixels pixels must change.
	MinChangedPixels int

	mu          sync.Mutex
	previous    gocv.Mat
	hasPrevious bool
}

// NewChangeDetector reports any pixel difference as a change.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// Changed compares the edge view of frame with the previous frame's. The
// first frame of a stream always counts as changed.
func (d *ChangeDetector) Changed(frame *model.Frame) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := frame.EdgeView
	if current.Empty() {
		return false, errors.Newf("frame %d has no edge view", frame.ID)
	}

	if !d.hasPrevious {
		d.previous = current.Clone()
		d.hasPrevious = true
		return true, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(d.previous, current, &diff); err != nil {
		return false, errors.Wrap(err, "compute absolute difference")
	}

	largest, err := channelMax(diff)
	if err != nil {
		return false, err
	}
	defer largest.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(largest, &thresh, d.PixelThreshold, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh) > d.MinChangedPixels

	d.previous.Close()
	d.previous = current.Clone()
	return changed, nil
}

// Reset forgets the previous frame.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasPrevious {
		d.previous.Close()
		d.hasPrevious = false
	}
}

// channelMax reduces img to one channel holding the largest value of each
// pixel across channels.
func channelMax(img gocv.Mat) (gocv.Mat, error) {
	if img.Channels() == 1 {
		return img.Clone(), nil
	}

	channels := gocv.Split(img)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	largest := channels[0].Clone()
	for _, c := range channels[1:] {
		if err := gocv.Max(largest, c, &largest); err != nil {
			largest.Close()
			return gocv.Mat{}, errors.Wrap(err, "combine channels")
		}
	}
	return largest, nil
}
