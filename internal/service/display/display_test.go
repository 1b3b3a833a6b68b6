package display

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

func blank(t *testing.T) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })
	return img
}

func TestDraw_ColoursBySource(t *testing.T) {
	tests := []struct {
		name string
		view model.DetectionView
		want []uint8 // BGR
	}{
		{"edge", model.DetectionView{BBox: model.BBox{20, 40, 50, 30}, Source: model.Edge}, []uint8{255, 0, 0}},
		{"cloud", model.DetectionView{BBox: model.BBox{20, 40, 50, 30}, Source: model.Cloud}, []uint8{0, 0, 255}},
		{"tracked", model.DetectionView{BBox: model.BBox{20, 40, 50, 30}, Source: model.Cloud, Tracked: true}, []uint8{0, 165, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := blank(t)
			require.NoError(t, Draw(&img, []model.DetectionView{tt.view}))

			assert.Equal(t, tt.want, img.GetVecbAt(40, 45))
			assert.Equal(t, []uint8{0, 0, 0}, img.GetVecbAt(55, 45))
		})
	}
}

func TestAnnotate_LeavesSourceUntouched(t *testing.T) {
	img := blank(t)

	out, err := Annotate(img, []model.DetectionView{{BBox: model.BBox{20, 40, 50, 30}, Source: model.Edge}})
	require.NoError(t, err)

	decoded, err := gocv.IMDecode(out, gocv.IMReadColor)
	require.NoError(t, err)
	defer decoded.Close()
	assert.Equal(t, image.Pt(100, 100), image.Pt(decoded.Cols(), decoded.Rows()))
	assert.Equal(t, []uint8{0, 0, 0}, img.GetVecbAt(40, 45))
}

func TestAnnotate_RejectsEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	_, err := Annotate(empty, nil)
	assert.Error(t, err)
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, time.Millisecond)
	return hub, conn
}

func TestHub_Broadcast(t *testing.T) {
	hub, conn := startHub(t)

	require.True(t, hub.Broadcast([]byte("hello")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(message))
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	returned := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-stopped
		hub.Register(conn)
		hub.Unregister(conn)
		close(returned)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	cancel()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("viewer handler blocked on a stopped hub")
	}
	assert.Zero(t, hub.ClientCount())
}

func TestViewer_PublishesAnnotatedFrame(t *testing.T) {
	hub, conn := startHub(t)
	viewer := NewViewer(hub, logger.NewNop())

	img := blank(t)
	frame := model.NewFrame(7, "seq", img.Clone(), gocv.NewMat(), gocv.NewMat())
	defer frame.Release()
	viewer.Publish(frame, []model.DetectionView{{FrameID: 7, BBox: model.BBox{1, 1, 10, 10}, Category: "car", Score: 90, Source: model.Edge}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg dto.ViewMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "seq", msg.Stream)
	assert.Equal(t, int64(7), msg.FrameID)
	assert.NotEmpty(t, msg.Image)

	var raw map[string]any
	encoded, _ := json.Marshal(msg)
	require.NoError(t, json.Unmarshal(encoded, &raw))
	assert.Contains(t, raw, "camera")
}

func TestViewer_SkipsWithoutViewers(t *testing.T) {
	hub := NewHub(logger.NewNop())
	viewer := NewViewer(hub, logger.NewNop())

	frame := model.NewFrame(1, "seq", gocv.NewMat(), gocv.NewMat(), gocv.NewMat())
	defer frame.Release()
	viewer.Publish(frame, nil)

	assert.Empty(t, hub.broadcast)
}
