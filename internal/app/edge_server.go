package app

import (
	"context"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/config"
	"edgecloud/internal/logger"
	"edgecloud/internal/route"
	"edgecloud/internal/service/ai"
	"edgecloud/internal/transport"
)

// EdgeServer is the process that fronts the detectors for edge devices.
type EdgeServer struct {
	config   *config.Config
	logger   *logger.Logger
	detector *ai.ObjectDetector
	server   *transport.Server
	dnn      *ai.DNNPredictor
}

// NewEdgeServer loads the edge predictor selected by the configuration.
func NewEdgeServer(cfg *config.Config, logger *logger.Logger) (*EdgeServer, error) {
	s := &EdgeServer{config: cfg, logger: logger}

	var edge ai.Predictor
	switch cfg.EdgeBackend {
	case "dnn":
		dnn, err := ai.NewDNNPredictor(cfg.ModelPath, cfg.ConfigPath, logger.Named("dnn"))
		if err != nil {
			return nil, errors.Wrap(err, "load edge model")
		}
		s.dnn = dnn
		edge = dnn
	case "torchserve":
		edge = ai.NewTorchServePredictor(cfg.EdgeModelURL, cfg.EdgeTimeout, logger.Named("edge"))
	default:
		return nil, errors.Newf("unknown edge backend %q", cfg.EdgeBackend)
	}

	var cloud ai.Predictor
	if cfg.CloudURL != "" && cfg.CloudProbability > 0 {
		cloud = ai.NewTorchServePredictor(cfg.CloudURL, cfg.CloudTimeout, logger.Named("cloud"))
	}

	s.detector = ai.NewObjectDetector(edge, cloud, cfg.CloudProbability, cfg.ScoreDecay, logger.Named("detector"))
	s.server = transport.NewServer(s.detector.Handle, logger.Named("transport"))
	return s, nil
}

// Run serves edge devices until ctx is cancelled.
func (s *EdgeServer) Run(ctx context.Context) error {
	handler := route.SetupEdgeServerRoutes(s.server, route.Options{
		LogDirectory: s.config.LogDirectory,
		Token:        s.config.ViewToken,
	}, s.logger)

	s.logger.Info("Edge backend %s, cloud probability %.2f", s.config.EdgeBackend, s.config.CloudProbability)
	return s.server.Serve(ctx, s.config.ListenAddress, handler)
}

// Close waits for background cloud predictions and releases the model.
func (s *EdgeServer) Close() {
	s.detector.Close()
	if s.dnn != nil {
		s.dnn.Close()
	}
}
