package detection

import (
	"time"

	"edgecloud/internal/config"
	"edgecloud/internal/model"
	"edgecloud/internal/service/tracking"
)

// Options configures an EdgeCloudDetector.
type Options struct {
	Dimensions model.Dimensions

	// MaxFPS bounds the frame backlog.
	MaxFPS int
	// DetectionRate requests an edge detection every DetectionRate-th frame.
	DetectionRate int
	// Sync blocks for every edge detection instead of polling for it.
	Sync bool
	// MinScore is the lowest score that gets a visual tracker.
	MinScore int
	// CloudStride samples the backlog replayed by the catch-up worker.
	CloudStride int
	// Decay is applied to objects the tracker could not confirm.
	Decay float64

	// PollTimeout bounds the per-frame edge poll in asynchronous mode.
	PollTimeout time.Duration
	// WarmupTimeout bounds blocking edge polls.
	WarmupTimeout time.Duration

	// Factory creates visual trackers; nil selects KCF.
	Factory tracking.Factory
}

// OptionsFromConfig maps the device configuration onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Dimensions: model.Dimensions{
			EdgeWidth:   cfg.EdgeWidth,
			EdgeHeight:  cfg.EdgeHeight,
			CloudWidth:  cfg.CloudWidth,
			CloudHeight: cfg.CloudHeight,
		},
		MaxFPS:        cfg.MaxFPS,
		DetectionRate: cfg.DetectionRate,
		Sync:          cfg.Sync,
		MinScore:      cfg.MinScore,
		CloudStride:   cfg.CloudStride,
		Decay:         cfg.TrackerDecay,
		PollTimeout:   cfg.EdgePollTimeout,
		WarmupTimeout: cfg.WarmupTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxFPS <= 0 {
		o.MaxFPS = 300
	}
	if o.DetectionRate <= 0 {
		o.DetectionRate = 1
	}
	if o.CloudStride <= 0 {
		o.CloudStride = 1
	}
	if o.Decay <= 0 {
		o.Decay = tracking.DefaultDecay
	}
	if o.WarmupTimeout <= 0 {
		o.WarmupTimeout = time.Minute
	}
	if o.Factory == nil {
		o.Factory = tracking.NewKCF
	}
	return o
}
