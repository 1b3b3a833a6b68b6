package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"edgecloud/internal/logger"
)

// LogLevels are the levels with a log file of their own.
var LogLevels = []string{"info", "warning", "error"}

func logFile(level string) string {
	return level + ".log"
}

// ShowLogsHandler serves the log file of level as text/plain.
func ShowLogsHandler(logDir, level string) http.HandlerFunc {
	path := filepath.Join(logDir, logFile(level))

	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.Error(w, "No "+level+" log yet", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// ClearLogsHandler truncates the log file of level.
func ClearLogsHandler(logger *logger.Logger, level string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.CleanLogs(logFile(level))
		w.WriteHeader(http.StatusNoContent)
	}
}
