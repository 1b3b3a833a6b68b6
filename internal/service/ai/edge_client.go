package ai

import (
	"time"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/dto"
	"edgecloud/internal/model"
	"edgecloud/internal/service/detection"
)

// Transport is the requesting side of the edge server connection.
type Transport interface {
	Send(req dto.DetectionRequest) error
	Poll(timeout time.Duration) (dto.DetectionResponse, bool)
}

// EdgeServerDetector sends edge views to the edge server and polls for its
// answers.
type EdgeServerDetector struct {
	transport Transport
}

// NewEdgeServerDetector wraps a connected transport client.
func NewEdgeServerDetector(transport Transport) *EdgeServerDetector {
	return &EdgeServerDetector{transport: transport}
}

// Send encodes the edge view of frame and sends it.
func (d *EdgeServerDetector) Send(frame *model.Frame) error {
	image, err := EncodeJPEG(frame.EdgeView)
	if err != nil {
		return errors.Wrapf(err, "frame %d", frame.ID)
	}

	return d.transport.Send(dto.DetectionRequest{
		FrameID:  frame.ID,
		StreamID: frame.Stream,
		Image:    image,
	})
}

// Poll returns the pending response if it arrives within timeout. A response
// the server failed to compute carries its error.
func (d *EdgeServerDetector) Poll(timeout time.Duration) (detection.EdgeResult, bool) {
	resp, ok := d.transport.Poll(timeout)
	if !ok {
		return detection.EdgeResult{}, false
	}
	result := detection.EdgeResult{
		FrameID:    resp.FrameID,
		Detections: dto.ToModel(resp.Detections),
	}
	if resp.Error != "" {
		result.Err = errors.Newf("edge server: %s", resp.Error)
	}
	return result, true
}
