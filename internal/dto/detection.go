package dto

import (
	"edgecloud/internal/model"
)

// DetectionRequest is sent by the edge device for every frame it wants
// detected. Image is a JPEG and travels base64 encoded in JSON.
type DetectionRequest struct {
	FrameID  int64  `json:"frame_id"`
	StreamID string `json:"stream_id"`
	Image    []byte `json:"image"`
}

// DetectionResponse answers a DetectionRequest. Boxes are corner-size in the
// coordinate space of the image that was sent.
type DetectionResponse struct {
	FrameID    int64           `json:"frame_id"`
	Source     string          `json:"source"`
	Detections []WireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// WireDetection is a detection as exchanged between device and server.
type WireDetection struct {
	BBox     [4]int `json:"bbox"`
	Score    int    `json:"score"`
	Category string `json:"category"`
}

// ToModel converts wire detections into model detections.
func ToModel(detections []WireDetection) []model.Detection {
	result := make([]model.Detection, 0, len(detections))
	for _, d := range detections {
		result = append(result, model.Detection{
			Category: d.Category,
			Score:    d.Score,
			BBox:     model.BBox(d.BBox),
		})
	}
	return result
}

// FromModel converts model detections into wire detections.
func FromModel(detections []model.Detection) []WireDetection {
	result := make([]WireDetection, 0, len(detections))
	for _, d := range detections {
		result = append(result, WireDetection{
			BBox:     [4]int(d.BBox),
			Score:    d.Score,
			Category: d.Category,
		})
	}
	return result
}
