package model

import "time"

// StreamRun summarizes one processed stream.
type StreamRun struct {
	ID              int64     `json:"id"`
	Stream          string    `json:"stream"`
	Source          string    `json:"source"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Frames          int       `json:"frames"`
	SkippedFrames   int       `json:"skipped_frames"`
	TrackerFailures int       `json:"tracker_failures"`
}
