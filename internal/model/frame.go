package model

import (
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Frame is one captured video frame together with its resized inference views.
//
// A frame is immutable once produced. It is shared by reference between the
// primary loop, the frame backlog and the catch-up worker, so the Mats are
// reference counted: NewFrame hands out one reference, every additional holder
// calls Retain, and the last Release closes the Mats.
type Frame struct {
	ID        int64
	Stream    string
	Image     gocv.Mat
	EdgeView  gocv.Mat
	CloudView gocv.Mat

	refs atomic.Int32
}

// NewFrame wraps the given Mats. The caller owns the returned reference.
func NewFrame(id int64, stream string, img, edgeView, cloudView gocv.Mat) *Frame {
	f := &Frame{
		ID:        id,
		Stream:    stream,
		Image:     img,
		EdgeView:  edgeView,
		CloudView: cloudView,
	}
	f.refs.Store(1)
	return f
}

// Retain adds a reference and returns the frame for chaining.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops a reference; the Mats are closed when none remain.
func (f *Frame) Release() {
	if f.refs.Add(-1) != 0 {
		return
	}
	f.Image.Close()
	f.EdgeView.Close()
	f.CloudView.Close()
}

// ReleaseAll releases every frame in the slice.
func ReleaseAll(frames []*Frame) {
	for _, f := range frames {
		f.Release()
	}
}
