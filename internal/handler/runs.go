package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"edgecloud/internal/logger"
	"edgecloud/internal/model"
	"edgecloud/internal/repository"
)

// RunSummary is a run together with how often each category was shown.
type RunSummary struct {
	model.StreamRun
	Categories map[string]int `json:"categories"`
}

// GetRunsHandler lists the most recent runs.
func GetRunsHandler(runs repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), 50)

		all, err := runs.GetAll(limit)
		if err != nil {
			logger.Error("Error querying runs: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if all == nil {
			all = []model.StreamRun{}
		}
		writeJSON(w, all, logger)
	}
}

// GetRunHandler returns one run with its category counts.
func GetRunHandler(runs repository.RunRepository, detections repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}

		run, err := runs.GetByID(id)
		if errors.Is(err, repository.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Error getting run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		counts, err := detections.CountByCategory(id)
		if err != nil {
			logger.Error("Error counting detections of run %d: %v", id, err)
			counts = map[string]int{}
		}
		writeJSON(w, RunSummary{StreamRun: *run, Categories: counts}, logger)
	}
}

// GetRunDetectionsHandler returns the detections of a run, or of one frame
// when the frame parameter is given.
func GetRunDetectionsHandler(detections repository.DetectionRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}

		var (
			views []model.DetectionView
			err   error
		)
		if frame := r.URL.Query().Get("frame"); frame != "" {
			frameID, perr := strconv.ParseInt(frame, 10, 64)
			if perr != nil {
				http.Error(w, "Invalid frame", http.StatusBadRequest)
				return
			}
			views, err = detections.GetByFrame(id, frameID)
		} else {
			views, err = detections.GetByRun(id)
		}
		if err != nil {
			logger.Error("Error querying detections of run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if views == nil {
			views = []model.DetectionView{}
		}
		writeJSON(w, views, logger)
	}
}

// DeleteRunHandler removes a run and its detections.
func DeleteRunHandler(runs repository.RunRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id, ok := runID(w, r)
		if !ok {
			return
		}

		if err := runs.Delete(id); err != nil {
			logger.Error("Error deleting run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted run %d", id)
		writeJSON(w, map[string]string{"status": "deleted", "run": strconv.FormatInt(id, 10)}, logger)
	}
}

func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("run"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid run", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, data any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
