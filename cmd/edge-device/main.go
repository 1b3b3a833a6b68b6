package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"edgecloud/internal/app"
	"edgecloud/internal/config"
	"edgecloud/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "edge-device [videos]",
	Short: "Track objects locally and refresh them from edge and cloud detectors",
	Long: `edge-device reads a camera or image sequences, tracks objects on every
frame and periodically refreshes them with detections from the edge server
and from the cloud detector.

videos is a glob: matching images form one stream, matching directories are
one stream each. Without videos the camera is used.

Examples:
  edge-device                              # Camera, asynchronous edge requests
  edge-device 'data/sequences/*' --sync    # Every directory is a stream
  edge-device 'seq/*.jpg' --ipc --view-addr :8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDevice,
}

func init() {
	flags := rootCmd.Flags()
	flags.Int("detection-rate", 5, "Request an edge detection every N-th frame")
	flags.Bool("sync", false, "Wait for every edge detection instead of polling")
	flags.Bool("ipc", false, "Reach the edge server over its unix socket")
	flags.String("edge-addr", "tcp://127.0.0.1:8000", "Address of the edge server")
	flags.String("cloud-url", "http://127.0.0.1:9093/predictions/faster_rcnn_visdrone", "TorchServe prediction URL of the cloud detector")
	flags.Duration("cloud-timeout", 30*time.Second, "Timeout of a cloud request")
	flags.Int("max-fps", 300, "Maximum frame rate and frame backlog length")
	flags.Int("min-score", 70, "Detections below this score are not tracked visually")
	flags.Int("cloud-stride", 3, "Replay every N-th buffered frame when catching up cloud results")
	flags.String("db", filepath.Join("data", "detections.db"), "SQLite database recording every run")
	flags.String("view-addr", "", "Serve the live viewer on this address")
}

func runDevice(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper(config.NewViper(cmd.Flags()))

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := app.NewDevice(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer device.Close()

	videos := ""
	if len(args) > 0 {
		videos = args[0]
	}
	return device.Run(ctx, videos)
}

func main() {
	rootCmd.AddCommand(runsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
