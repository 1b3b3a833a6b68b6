package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"edgecloud/internal/app"
	"edgecloud/internal/config"
	"edgecloud/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "edge-server",
	Short: "Serve edge detections to edge devices",
	Long: `edge-server answers detection requests of edge devices over a websocket,
on TCP or on a unix socket. Every request runs the edge model; some also run
the cloud model in the background, whose result is merged into the next
response of the same stream.

Examples:
  edge-server                                   # tcp://0.0.0.0:8000, TorchServe edge model
  edge-server --listen ipc:///tmp/edge-server/0
  edge-server --edge-backend dnn --model-path models/frozen_inference_graph.pb`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("listen", "tcp://0.0.0.0:8000", "Listen address, tcp://host:port or ipc:///path")
	flags.String("edge-backend", "torchserve", "Edge model backend: torchserve or dnn")
	flags.String("edge-model-url", "http://127.0.0.1:9090/predictions/mobilenetv2_ssd_visdrone", "TorchServe prediction URL of the edge model")
	flags.String("model-path", "", "Weights of the dnn backend")
	flags.String("config-path", "", "Network description of the dnn backend")
	flags.String("cloud-url", "http://127.0.0.1:9093/predictions/faster_rcnn_visdrone", "TorchServe prediction URL of the cloud model")
	flags.Float64("cloud-probability", 0.2, "Share of requests that also run the cloud model")
	flags.Float64("score-decay", 0.99, "Score multiplier applied when merging detections")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper(config.NewViper(cmd.Flags()))

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.NewEdgeServer(cfg, log)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
