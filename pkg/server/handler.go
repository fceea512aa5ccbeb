package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hed1ad/txguard/pkg/aggregate"
	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/engine"
	"github.com/hed1ad/txguard/pkg/generator"
	"github.com/hed1ad/txguard/pkg/logger"
	"github.com/hed1ad/txguard/pkg/scorer"
)

// maxBody bounds request bodies; the largest is a full config.
const maxBody = 1 << 16

// Handler exposes the engine operations over HTTP.
type Handler struct {
	engine  *engine.Engine
	stream  *Stream
	version string
}

// NewHandler creates a handler for eng.
func NewHandler(eng *engine.Engine, stream *Stream, version string) *Handler {
	return &Handler{engine: eng, stream: stream, version: version}
}

// TickRequest is the body of POST /tick.
type TickRequest struct {
	N *int `json:"n,omitempty"`
}

// ThresholdRequest is the body of PUT /threshold.
type ThresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

// SummaryResponse is the compact view of a snapshot.
type SummaryResponse struct {
	Tick             uint64            `json:"tick"`
	Threshold        float64           `json:"threshold"`
	TotalProcessed   uint64            `json:"total_processed_count"`
	CumulativeAlerts int               `json:"cumulative_alert_count"`
	ModelState       scorer.State      `json:"model_state"`
	Summary          aggregate.Summary `json:"summary"`
	Streaming        bool              `json:"streaming"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   h.version,
		"streaming": h.stream.Running(),
	})
}

// Snapshot handles GET /snapshot. ?view=summary omits the window, bins and alerts.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	if r.URL.Query().Get("view") == "summary" {
		writeJSON(w, http.StatusOK, h.summary(snap))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Bins handles GET /bins.
func (h *Handler) Bins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot().Bins)
}

// Alerts handles GET /alerts: window alerts by descending score. ?limit=n
// truncates, ?retained=true lists alerts kept after eviction instead.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	list := snap.Alerts
	if r.URL.Query().Get("retained") == "true" {
		list = snap.RetainedAlerts
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	alerts.SortByScore(list)

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		list = list[:min(limit, len(list))]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    list,
		"count":     len(list),
		"threshold": snap.Threshold,
	})
}

// Config handles GET /config.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// Tick handles POST /tick. Without a body it runs a nominal step.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	n := h.engine.Config().TxPerSecond
	if req.N != nil {
		n = *req.N
	}

	snap, err := h.engine.Tick(r.Context(), n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Step handles POST /step.
func (h *Handler) Step(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Step(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Reset handles POST /reset. A JSON body replaces the config; fields it
// omits keep their current values.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.Config()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if len(body) == 0 {
		writeJSON(w, http.StatusOK, h.summary(h.engine.Reset()))
		return
	}

	if err := json.Unmarshal(body, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	snap, err := h.engine.ResetWithConfig(cfg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.summary(snap))
}

// SetThreshold handles PUT /threshold.
func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"threshold\": <0..1>}")
		return
	}

	snap, err := h.engine.SetThreshold(*req.Threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.summary(snap))
}

// Model handles GET /model: the fitted model as an opaque binary blob.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	data, err := h.engine.ExportModel()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="model.gob"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// StreamStatus handles GET /stream.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.streamState())
}

// StartStream handles POST /stream/start.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	if err := h.stream.Start(); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.streamState())
}

// StopStream handles POST /stream/stop.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	h.stream.Stop()
	writeJSON(w, http.StatusOK, h.streamState())
}

func (h *Handler) streamState() map[string]any {
	return map[string]any{
		"streaming": h.stream.Running(),
		"interval":  h.stream.Interval().String(),
	}
}

func (h *Handler) summary(snap engine.Snapshot) SummaryResponse {
	return SummaryResponse{
		Tick:             snap.Tick,
		Threshold:        snap.Threshold,
		TotalProcessed:   snap.TotalProcessed,
		CumulativeAlerts: snap.CumulativeAlerts,
		ModelState:       snap.ModelState,
		Summary:          snap.Summary,
		Streaming:        h.stream.Running(),
	}
}

// fail maps engine errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, generator.ErrNegativeCount),
		errors.Is(err, generator.ErrCountTooLarge):
		status = http.StatusBadRequest
	case errors.Is(err, scorer.ErrNoModel):
		status = http.StatusNotFound
	case errors.Is(err, ErrStreaming):
		status = http.StatusConflict
	}

	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, err.Error())
}

// decodeOptional decodes a JSON body into dst when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
