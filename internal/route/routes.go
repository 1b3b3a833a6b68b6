package route

import (
	"net/http"

	"edgecloud/internal/handler"
	"edgecloud/internal/logger"
	"edgecloud/internal/middleware"
	"edgecloud/internal/repository"
	"edgecloud/internal/service/display"
	"edgecloud/internal/transport"
)

// Options are the settings shared by both HTTP surfaces.
type Options struct {
	LogDirectory string
	Token        string
}

// SetupEdgeServerRoutes registers the detection websocket, the client list
// and the log endpoints of the edge server.
func SetupEdgeServerRoutes(server *transport.Server, opts Options, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(transport.DetectPath, server)
	mux.HandleFunc("/api/clients", handler.GetClientsHandler(server, logger))

	setupLogRoutes(mux, opts.LogDirectory, logger)

	return middleware.TokenAuth(opts.Token, mux)
}

// SetupDeviceRoutes registers the live viewer, the recorded runs and the log
// endpoints of the edge device. Without repositories only the viewer and the
// logs are served.
func SetupDeviceRoutes(hub *display.Hub, runs repository.RunRepository, detections repository.DetectionRepository,
	opts Options, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, logger))

	if runs != nil && detections != nil {
		mux.HandleFunc("/api/runs", handler.GetRunsHandler(runs, logger))
		mux.HandleFunc("/api/run", handler.GetRunHandler(runs, detections, logger))
		mux.HandleFunc("/api/run/detections", handler.GetRunDetectionsHandler(detections, logger))
		mux.HandleFunc("/api/run/delete", handler.DeleteRunHandler(runs, logger))
	}

	setupLogRoutes(mux, opts.LogDirectory, logger)

	return middleware.TokenAuth(opts.Token, mux)
}

func setupLogRoutes(mux *http.ServeMux, logDir string, logger *logger.Logger) {
	for _, level := range handler.LogLevels {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(logDir, level))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(logger, level))
	}
}
