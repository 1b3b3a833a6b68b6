package display

import (
	"encoding/json"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
	"edgecloud/internal/model"
)

// Viewer publishes annotated frames to the hub.
type Viewer struct {
	hub    *Hub
	logger *logger.Logger
}

func NewViewer(hub *Hub, logger *logger.Logger) *Viewer {
	return &Viewer{hub: hub, logger: logger}
}

// Publish annotates the raw frame with its views and broadcasts it. Nothing is
// rendered while no viewer is connected.
func (v *Viewer) Publish(frame *model.Frame, views []model.DetectionView) {
	if v.hub.ClientCount() == 0 {
		return
	}

	img, err := Annotate(frame.Image, views)
	if err != nil {
		v.logger.Warning("Failed to annotate frame %d of %s: %v", frame.ID, frame.Stream, err)
		return
	}

	message, err := json.Marshal(dto.ViewMessage{Stream: frame.Stream, FrameID: frame.ID, Image: img})
	if err != nil {
		v.logger.Error("Failed to encode view of frame %d: %v", frame.ID, err)
		return
	}

	if !v.hub.Broadcast(message) {
		v.logger.Debug("Viewers are behind, dropped frame %d", frame.ID)
	}
}
