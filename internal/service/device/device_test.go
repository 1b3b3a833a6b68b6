package device

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/repository/sqlite"
	"edgecloud/internal/service/detection"
	"edgecloud/internal/service/storage"
	"edgecloud/internal/source"
)

var dims = model.Dimensions{EdgeWidth: 40, EdgeHeight: 20, CloudWidth: 80, CloudHeight: 40}

var car = model.TrackedDetection{
	Detection: model.Detection{Category: "car", Score: 90, BBox: model.BBox{1, 2, 3, 4}},
	Source:    model.Edge,
}

// fakeDetector refreshes on the first frame of a stream and tracks afterwards.
type fakeDetector struct {
	steps    []int64
	drains   int
	failures int
	fresh    bool
}

func (d *fakeDetector) Step(frame *model.Frame) detection.StepResult {
	d.steps = append(d.steps, frame.ID)
	refreshed := !d.fresh
	d.fresh = true
	d.failures++
	return detection.StepResult{FrameID: frame.ID, Detections: []model.TrackedDetection{car}, Refreshed: refreshed, Source: model.Edge}
}

func (d *fakeDetector) Drain() {
	d.drains++
	d.fresh = false
}

func (d *fakeDetector) TrackerFailures() int { return d.failures }

type fakeSource struct {
	name   string
	frames []*model.Frame
	next   int
	err    error
	closed bool
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Next(ctx context.Context) (*model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.frames) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// newSource builds frames of 80x40 uniform images with the given grey levels.
func newSource(t *testing.T, name string, greys ...float64) *fakeSource {
	t.Helper()
	s := &fakeSource{name: name}
	for i, g := range greys {
		img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(g, g, g, 0), 40, 80, gocv.MatTypeCV8UC3)
		frame, err := source.NewFrame(int64(i+1), name, img, dims)
		require.NoError(t, err)
		s.frames = append(s.frames, frame)
	}
	return s
}

type recordingSink struct {
	frames []int64
	views  [][]model.DetectionView
}

func (s *recordingSink) Publish(frame *model.Frame, views []model.DetectionView) {
	s.frames = append(s.frames, frame.ID)
	s.views = append(s.views, views)
}

func opener(sources map[string]*fakeSource) Opener {
	return func(stream source.Stream) (source.Source, error) {
		s, ok := sources[stream.Name]
		if !ok {
			return nil, errors.Wrapf(source.ErrSourceUnavailable, "no source %s", stream.Name)
		}
		return s, nil
	}
}

func TestViews_ScalesToRawFrame(t *testing.T) {
	img := gocv.NewMatWithSize(40, 80, gocv.MatTypeCV8UC3)
	frame := model.NewFrame(3, "seq", img, gocv.NewMat(), gocv.NewMat())
	defer frame.Release()

	got := Views(frame, detection.StepResult{FrameID: 3, Detections: []model.TrackedDetection{car}}, dims)

	want := []model.DetectionView{{
		FrameID: 3, Stream: "seq", BBox: model.BBox{2, 4, 6, 8},
		Score: 90, Category: "car", Source: model.Edge, Tracked: true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Views mismatch (-want +got):\n%s", diff)
	}
}

func TestViews_RefreshedIsNotTracked(t *testing.T) {
	frame := model.NewFrame(1, "seq", gocv.NewMat(), gocv.NewMat(), gocv.NewMat())
	defer frame.Release()

	got := Views(frame, detection.StepResult{Detections: []model.TrackedDetection{car}, Refreshed: true}, dims)

	require.Len(t, got, 1)
	assert.False(t, got[0].Tracked)
	assert.Equal(t, car.BBox, got[0].BBox)
}

func TestProcessStream_SkipsUnchangedFrames(t *testing.T) {
	src := newSource(t, "seq", 10, 10, 200, 200, 30)
	det := &fakeDetector{}
	sink := &recordingSink{}
	p := NewProcessor(det, dims, 0, logger.NewNop(),
		WithOpener(opener(map[string]*fakeSource{"seq": src})),
		WithSink(sink))

	require.NoError(t, p.ProcessStream(context.Background(), source.Stream{Name: "seq", Pattern: "*"}))

	assert.Equal(t, []int64{1, 3, 5}, det.steps)
	assert.Equal(t, []int64{1, 3, 5}, sink.frames)
	assert.Equal(t, 1, det.drains)
	assert.True(t, src.closed)
	assert.False(t, sink.views[0][0].Tracked)
	assert.True(t, sink.views[1][0].Tracked)
}

func TestProcess_RecordsRuns(t *testing.T) {
	videos := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(videos, "a"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(videos, "b"), 0755))

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()
	runs := sqlite.NewRunRepository(db)
	detections := sqlite.NewDetectionRepository(db)
	recorder := storage.NewRecorder(detections, 100, 0, logger.NewNop())

	det := &fakeDetector{}
	p := NewProcessor(det, dims, 0, logger.NewNop(),
		WithOpener(opener(map[string]*fakeSource{
			"a": newSource(t, "a", 10, 10, 90),
			"b": newSource(t, "b", 50),
		})),
		WithRuns(runs),
		WithRecorder(recorder))

	require.NoError(t, p.Process(context.Background(), filepath.Join(videos, "*")))
	recorder.Flush()

	assert.Equal(t, 2, det.drains)

	all, err := runs.GetAll(10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	b, a := all[0], all[1]
	assert.Equal(t, "a", a.Stream)
	assert.Equal(t, "images", a.Source)
	assert.Equal(t, 2, a.Frames)
	assert.Equal(t, 1, a.SkippedFrames)
	assert.Equal(t, 2, a.TrackerFailures)
	assert.False(t, a.EndedAt.IsZero())
	assert.Equal(t, 1, b.Frames)

	stored, err := detections.GetByRun(a.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.BBox{2, 4, 6, 8}, stored[0].BBox)
	assert.Equal(t, int64(3), stored[1].FrameID)
	assert.True(t, stored[1].Tracked)
}

func TestProcess_SourceUnavailableEndsOnlyItsStream(t *testing.T) {
	videos := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(videos, "a-missing"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(videos, "b"), 0755))

	det := &fakeDetector{}
	p := NewProcessor(det, dims, 0, logger.NewNop(),
		WithOpener(opener(map[string]*fakeSource{"b": newSource(t, "b", 10)})))

	err := p.Process(context.Background(), filepath.Join(videos, "*"))
	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
	assert.Equal(t, []int64{1}, det.steps)

	err = p.Process(context.Background(), filepath.Join(videos, "nothing-*"))
	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
}

func TestProcessStream_ReadFailureEndsStream(t *testing.T) {
	src := newSource(t, "cam", 10)
	src.err = errors.Wrap(source.ErrSourceUnavailable, "camera unplugged")
	det := &fakeDetector{}
	p := NewProcessor(det, dims, 0, logger.NewNop(), WithOpener(opener(map[string]*fakeSource{"cam": src})))

	err := p.ProcessStream(context.Background(), source.Stream{Name: "cam"})

	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
	assert.Equal(t, []int64{1}, det.steps)
	assert.Equal(t, 1, det.drains)
}

func TestProcessStream_CancelledContext(t *testing.T) {
	src := newSource(t, "seq", 10, 20)
	det := &fakeDetector{}
	p := NewProcessor(det, dims, 0, logger.NewNop(), WithOpener(opener(map[string]*fakeSource{"seq": src})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, p.ProcessStream(ctx, source.Stream{Name: "seq", Pattern: "*"}))
	assert.Empty(t, det.steps)
	model.ReleaseAll(src.frames)
}
