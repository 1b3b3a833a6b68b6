// Package app wires the edge device and the edge server from configuration.
package app

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"edgecloud/internal/config"
	"edgecloud/internal/logger"
	"edgecloud/internal/repository"
	"edgecloud/internal/repository/sqlite"
	"edgecloud/internal/route"
	"edgecloud/internal/service/ai"
	"edgecloud/internal/service/detection"
	"edgecloud/internal/service/device"
	"edgecloud/internal/service/display"
	"edgecloud/internal/service/storage"
	"edgecloud/internal/transport"
)

// Device is the edge device process.
type Device struct {
	config *config.Config
	logger *logger.Logger

	client    *transport.Client
	detector  *detection.EdgeCloudDetector
	processor *device.Processor

	db         *sqlite.DB
	runs       repository.RunRepository
	detections repository.DetectionRepository
	recorder   *storage.Recorder
	hub        *display.Hub
}

// NewDevice connects to the edge server and prepares the detector, the
// recorder and the viewer that the configuration enables. An edge server that
// is not up yet does not stop the device: the client keeps redialing and edge
// detections are skipped until it answers.
func NewDevice(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*Device, error) {
	client, err := transport.NewClient(cfg.EdgeEndpoint(), uuid.NewString(), logger.Named("transport"))
	if err != nil {
		return nil, errors.Wrap(err, "edge server address")
	}
	if err := client.Connect(ctx); err != nil {
		logger.Warning("Edge server %s is not reachable yet: %v", cfg.EdgeEndpoint(), err)
	}

	d := &Device{config: cfg, logger: logger, client: client}

	opts := detection.OptionsFromConfig(cfg)
	edge := ai.NewEdgeServerDetector(client)
	cloud := ai.NewTorchServeDetector(ai.NewTorchServePredictor(cfg.CloudURL, cfg.CloudTimeout, logger.Named("cloud")))
	d.detector = detection.NewEdgeCloudDetector(ctx, opts, edge, cloud, logger.Named("detector"))

	var processorOpts []device.Option

	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.db = db
		detections := sqlite.NewDetectionRepository(db)
		d.runs = sqlite.NewRunRepository(db)
		d.detections = detections
		d.recorder = storage.NewRecorder(detections, cfg.RecorderBufferLimit, cfg.RecorderFlushInterval, logger.Named("recorder"))
		processorOpts = append(processorOpts, device.WithRuns(d.runs), device.WithRecorder(d.recorder))
	}

	if cfg.ViewAddress != "" {
		d.hub = display.NewHub(logger.Named("viewer"))
		processorOpts = append(processorOpts, device.WithSink(display.NewViewer(d.hub, logger.Named("viewer"))))
	}

	d.processor = device.NewProcessor(d.detector, opts.Dimensions, cfg.MaxFPS, logger, processorOpts...)

	logger.Info("Edge device %s uses edge server %s", client.Identity(), cfg.EdgeEndpoint())
	return d, nil
}

// Run processes the streams selected by videos. Background services stop
// when processing ends.
func (d *Device) Run(ctx context.Context, videos string) error {
	bgCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if d.recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.recorder.Run(bgCtx)
		}()
	}

	if d.hub != nil {
		handler := route.SetupDeviceRoutes(d.hub, d.runs, d.detections, route.Options{
			LogDirectory: d.config.LogDirectory,
			Token:        d.config.ViewToken,
		}, d.logger)

		wg.Add(2)
		go func() {
			defer wg.Done()
			d.hub.Run(bgCtx)
		}()
		go func() {
			defer wg.Done()
			if err := serveHTTP(bgCtx, d.config.ViewAddress, handler, d.logger); err != nil {
				d.logger.Error("Viewer stopped: %v", err)
			}
		}()
	}

	err := d.processor.Process(ctx, videos)

	cancel()
	wg.Wait()
	return err
}

// Close stops the detector and releases connections.
func (d *Device) Close() {
	if d.detector != nil {
		d.detector.Close()
	}
	if d.client != nil {
		d.client.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}
