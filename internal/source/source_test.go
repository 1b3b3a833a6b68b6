package source

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

var testDims = model.Dimensions{EdgeWidth: 32, EdgeHeight: 16, CloudWidth: 64, CloudHeight: 32}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func writeImage(t *testing.T, path string, value uint8) {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(value), float64(value), float64(value), 0), 48, 96, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.True(t, gocv.IMWrite(path, img))
}

func TestDiscover_Camera(t *testing.T) {
	streams, err := Discover("")

	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.True(t, streams[0].Camera())
	assert.Contains(t, streams[0].Name, "camera-")
}

func TestDiscover_ImageGlobIsOneStream(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "0000002.jpg"))
	touch(t, filepath.Join(dir, "0000001.jpg"))
	pattern := filepath.Join(dir, "*.jpg")

	streams, err := Discover(pattern)

	require.NoError(t, err)
	assert.Equal(t, []Stream{{Name: pattern, Pattern: pattern}}, streams)
}

func TestDiscover_DirectoriesAreStreams(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "uav0002", "0000001.jpg"))
	touch(t, filepath.Join(dir, "uav0001", "0000001.jpg"))

	streams, err := Discover(filepath.Join(dir, "*"))

	require.NoError(t, err)
	assert.Equal(t, []Stream{
		{Name: "uav0001", Pattern: filepath.Join(dir, "uav0001", "*")},
		{Name: "uav0002", Pattern: filepath.Join(dir, "uav0002", "*")},
	}, streams)
}

func TestDiscover_NothingMatches(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "*.jpg"))

	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestImages_ReadsInOrderWithViews(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b.png"), 20)
	writeImage(t, filepath.Join(dir, "a.png"), 10)

	src, err := OpenImages("seq", filepath.Join(dir, "*.png"), testDims, 0, logger.NewNop())
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 2, src.Len())

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	defer first.Release()

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "seq", first.Stream)
	assert.Equal(t, 96, first.Image.Cols())
	assert.Equal(t, 32, first.EdgeView.Cols())
	assert.Equal(t, 16, first.EdgeView.Rows())
	assert.Equal(t, 64, first.CloudView.Cols())
	assert.Equal(t, 32, first.CloudView.Rows())
	assert.Equal(t, uint8(10), first.Image.GetVecbAt(0, 0)[0])

	second, err := src.Next(context.Background())
	require.NoError(t, err)
	defer second.Release()
	assert.Equal(t, int64(2), second.ID)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestImages_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "broken.jpg"))

	src, err := OpenImages("seq", filepath.Join(dir, "*.jpg"), testDims, 0, logger.NewNop())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestImages_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), 10)
	writeImage(t, filepath.Join(dir, "b.png"), 10)

	src, err := OpenImages("seq", filepath.Join(dir, "*.png"), testDims, 1, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	first, err := src.Next(ctx)
	require.NoError(t, err)
	first.Release()

	cancel()
	_, err = src.Next(ctx)
	assert.Error(t, err)
}

func frameOf(t *testing.T, id int64, value uint8) *model.Frame {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(value), float64(value), float64(value), 0), 16, 32, gocv.MatTypeCV8UC3)
	frame, err := NewFrame(id, "test", img, testDims)
	require.NoError(t, err)
	return frame
}

func TestNewFrame_RendersViews(t *testing.T) {
	frame := frameOf(t, 1, 10)
	defer frame.Release()

	assert.Equal(t, image.Pt(32, 16), image.Pt(frame.EdgeView.Cols(), frame.EdgeView.Rows()))
	assert.Equal(t, image.Pt(64, 32), image.Pt(frame.CloudView.Cols(), frame.CloudView.Rows()))
}

func TestNewFrame_EmptyImage(t *testing.T) {
	frame, err := NewFrame(1, "test", gocv.NewMat(), testDims)

	assert.Nil(t, frame)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestChangeDetector(t *testing.T) {
	d := NewChangeDetector()
	defer d.Reset()

	frames := []*model.Frame{frameOf(t, 1, 10), frameOf(t, 2, 10), frameOf(t, 3, 10)}
	defer model.ReleaseAll(frames)
	gocv.Rectangle(&frames[2].EdgeView, image.Rect(2, 2, 6, 6), color.RGBA{R: 255, A: 255}, -1)

	changed, err := d.Changed(frames[0])
	require.NoError(t, err)
	assert.True(t, changed, "first frame")

	changed, err = d.Changed(frames[1])
	require.NoError(t, err)
	assert.False(t, changed, "identical frame")

	changed, err = d.Changed(frames[2])
	require.NoError(t, err)
	assert.True(t, changed, "modified frame")
}

func TestChangeDetector_SingleLevelBlueChange(t *testing.T) {
	d := NewChangeDetector()
	defer d.Reset()

	frames := []*model.Frame{frameOf(t, 1, 10), frameOf(t, 2, 10)}
	defer model.ReleaseAll(frames)
	frames[1].EdgeView.SetUCharAt(3, 3*3, 11)

	_, err := d.Changed(frames[0])
	require.NoError(t, err)
	changed, err := d.Changed(frames[1])
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestChangeDetector_MinChangedPixels(t *testing.T) {
	d := NewChangeDetector()
	d.MinChangedPixels = 100
	defer d.Reset()

	frames := []*model.Frame{frameOf(t, 1, 10), frameOf(t, 2, 10)}
	defer model.ReleaseAll(frames)
	gocv.Rectangle(&frames[1].EdgeView, image.Rect(0, 0, 4, 4), color.RGBA{G: 255, A: 255}, -1)

	_, err := d.Changed(frames[0])
	require.NoError(t, err)
	changed, err := d.Changed(frames[1])
	require.NoError(t, err)
	assert.False(t, changed)
}
