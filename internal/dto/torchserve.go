package dto

// TorchServeDetection is one entry of a TorchServe object detection response.
// Score is in [0, 1] and BBox is corner-corner in the pixels of the posted image.
type TorchServeDetection struct {
	ClassName string     `json:"class_name"`
	Score     float64    `json:"score"`
	BBox      [4]float64 `json:"bbox"`
}
