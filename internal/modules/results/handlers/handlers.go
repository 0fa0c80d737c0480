// Package handlers provides HTTP handlers for backtest results.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/returnlab/internal/modules/results"
)

// RunStore is the read side of the results repository.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]results.Run, error)
	GetRun(ctx context.Context, id string) (*results.Run, error)
	GetWindows(ctx context.Context, runID string) ([]results.Window, error)
	GetPredictions(ctx context.Context, runID, date string, limit int) ([]results.PredictionRow, error)
}

// Handler handles results HTTP requests
type Handler struct {
	store RunStore
	log   zerolog.Logger
}

// NewHandler creates a new results handler
func NewHandler(store RunStore, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "results").Logger(),
	}
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"runs":  runs,
			"count": len(runs),
		},
		"metadata": metadata(),
	})
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.findRun(w, r, id)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     run,
		"metadata": metadata(),
	})
}

// HandleGetWindows handles GET /api/runs/{id}/windows
func (h *Handler) HandleGetWindows(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.findRun(w, r, id); !ok {
		return
	}

	windows, err := h.store.GetWindows(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get windows")
		http.Error(w, "Failed to get windows", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"run_id":  id,
			"windows": windows,
			"count":   len(windows),
		},
		"metadata": metadata(),
	})
}

// HandleGetPredictions handles GET /api/runs/{id}/predictions?date=YYYY-MM-DD&limit=N
func (h *Handler) HandleGetPredictions(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.findRun(w, r, id); !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	preds, err := h.store.GetPredictions(r.Context(), id, date, queryInt(r, "limit", 1000))
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get predictions")
		http.Error(w, "Failed to get predictions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"run_id":      id,
			"predictions": preds,
			"count":       len(preds),
		},
		"metadata": metadata(),
	})
}

func (h *Handler) findRun(w http.ResponseWriter, r *http.Request, id string) (*results.Run, bool) {
	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, results.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
