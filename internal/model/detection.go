package model

// BBox is a bounding box in corner-size format: x, y, width, height.
type BBox [4]int

func (b BBox) X() int      { return b[0] }
func (b BBox) Y() int      { return b[1] }
func (b BBox) Width() int  { return b[2] }
func (b BBox) Height() int { return b[3] }

// Detection is a single detected object. Score is a percentage in [0, 100].
type Detection struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
	BBox     BBox   `json:"bbox"`
}

// TrackedDetection is a detection together with the source that produced it.
type TrackedDetection struct {
	Detection
	Source Source
}

// Detections strips the sources from a tracking result.
func Detections(tracked []TrackedDetection) []Detection {
	result := make([]Detection, 0, len(tracked))
	for _, t := range tracked {
		result = append(result, t.Detection)
	}
	return result
}

// Tag attaches the same source to every detection.
func Tag(detections []Detection, source Source) []TrackedDetection {
	result := make([]TrackedDetection, 0, len(detections))
	for _, d := range detections {
		result = append(result, TrackedDetection{Detection: d, Source: source})
	}
	return result
}

// DetectionView is a detection as shown for one frame, in the resolution of
// the raw frame.
type DetectionView struct {
	FrameID  int64  `json:"frame_id"`
	Stream   string `json:"stream"`
	BBox     BBox   `json:"bbox"`
	Score    int    `json:"score"`
	Category string `json:"category"`
	Source   Source `json:"source"`
	Tracked  bool   `json:"tracked"`
}
