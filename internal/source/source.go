// Package source produces frames from a camera or from image sequences on
// disk, together with the resized views the detectors run on.
package source

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

// ErrSourceUnavailable means a camera or video could not be opened or read.
// It ends the stream.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source yields the frames of one stream. Next returns io.EOF after the last
// frame. The caller owns every returned frame.
type Source interface {
	Name() string
	Next(ctx context.Context) (*model.Frame, error)
	Close() error
}

// Stream describes one stream to process.
type Stream struct {
	Name string
	// Pattern is a glob of image files; empty selects the camera.
	Pattern string
}

// Camera reports whether the stream reads from the camera.
func (s Stream) Camera() bool {
	return s.Pattern == ""
}

// Discover expands the videos argument. An empty argument selects the camera.
// A glob matching images is one stream; a glob matching directories is one
// stream per directory, each reading every file inside.
func Discover(videos string) ([]Stream, error) {
	if videos == "" {
		return []Stream{{Name: "camera-" + uuid.NewString()}}, nil
	}

	items, err := filepath.Glob(videos)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", videos)
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(ErrSourceUnavailable, "nothing matches %s", videos)
	}
	sort.Strings(items)

	if isImage(items[0]) {
		return []Stream{{Name: videos, Pattern: videos}}, nil
	}

	streams := make([]Stream, 0, len(items))
	for _, dir := range items {
		streams = append(streams, Stream{Name: filepath.Base(dir), Pattern: filepath.Join(dir, "*")})
	}
	return streams, nil
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}

// Open creates the source of a stream.
func Open(stream Stream, dims model.Dimensions, maxFPS int, logger *logger.Logger) (Source, error) {
	if stream.Camera() {
		return OpenCamera(0, stream.Name, dims, logger)
	}
	return OpenImages(stream.Name, stream.Pattern, dims, maxFPS, logger)
}

// Camera reads frames from a capture device.
type Camera struct {
	name    string
	capture *gocv.VideoCapture
	dims    model.Dimensions
	nextID  int64
	logger  *logger.Logger
}

// OpenCamera opens the capture device with the given index.
func OpenCamera(device int, name string, dims model.Dimensions, logger *logger.Logger) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "open camera %d: %v", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "camera %d is not opened", device)
	}

	logger.Info("Opened camera %d as %s", device, name)
	return &Camera{name: name, capture: capture, dims: dims, nextID: 1, logger: logger}, nil
}

func (c *Camera) Name() string { return c.name }

// Next reads the next frame. A failed read ends the stream.
func (c *Camera) Next(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := gocv.NewMat()
	if ok := c.capture.Read(&img); !ok || img.Empty() {
		img.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "cannot receive frame from %s", c.name)
	}

	frame, err := NewFrame(c.nextID, c.name, img, c.dims)
	if err != nil {
		return nil, err
	}
	c.nextID++
	return frame, nil
}

func (c *Camera) Close() error {
	return c.capture.Close()
}

// Images reads a sorted sequence of image files, paced to at most maxFPS
// frames per second.
type Images struct {
	name    string
	files   []string
	next    int
	dims    model.Dimensions
	limiter *rate.Limiter
	logger  *logger.Logger
}

// OpenImages lists the files matching pattern.
func OpenImages(name, pattern string, dims model.Dimensions, maxFPS int, logger *logger.Logger) (*Images, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrSourceUnavailable, "no frames match %s", pattern)
	}
	sort.Strings(files)

	limit := rate.Inf
	if maxFPS > 0 {
		limit = rate.Limit(maxFPS)
	}

	logger.Info("Opened %s with %d frames", name, len(files))
	return &Images{
		name:    name,
		files:   files,
		dims:    dims,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

func (s *Images) Name() string { return s.name }

// Len returns the number of frames in the sequence.
func (s *Images) Len() int { return len(s.files) }

// Next reads the next image. Frame ids count from 1 in file order.
func (s *Images) Next(ctx context.Context) (*model.Frame, error) {
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	file := s.files[s.next]
	s.next++

	img := gocv.IMRead(file, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "cannot read %s", file)
	}
	return NewFrame(int64(s.next), s.name, img, s.dims)
}

func (s *Images) Close() error { return nil }

// NewFrame wraps img and renders its edge and cloud views. The frame takes
// ownership of img, which is closed when the views cannot be rendered.
func NewFrame(id int64, stream string, img gocv.Mat, dims model.Dimensions) (*model.Frame, error) {
	edge, err := resize(img, dims.Edge())
	if err != nil {
		img.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "frame %d of %s: edge view: %v", id, stream, err)
	}
	cloud, err := resize(img, dims.Cloud())
	if err != nil {
		img.Close()
		edge.Close()
		return nil, errors.Wrapf(ErrSourceUnavailable, "frame %d of %s: cloud view: %v", id, stream, err)
	}
	return model.NewFrame(id, stream, img, edge, cloud), nil
}

func resize(img gocv.Mat, size image.Point) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, errors.New("image is empty")
	}

	view := gocv.NewMat()
	if err := gocv.Resize(img, &view, size, 0, 0, gocv.InterpolationLinear); err != nil {
		view.Close()
		return gocv.Mat{}, err
	}
	if view.Empty() {
		view.Close()
		return gocv.Mat{}, errors.Newf("resize to %v produced no image", size)
	}
	return view, nil
}
