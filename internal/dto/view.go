package dto

// ViewMessage is broadcast to live viewers for every displayed frame.
type ViewMessage struct {
	Stream  string `json:"camera"`
	FrameID int64  `json:"frame_id"`
	Image   []byte `json:"image"`
}
