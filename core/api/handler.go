// Package api exposes the controller over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/metrics"
	"github.com/adalundhe/switchyard/core/orchestrator"
)

const maxRequestBytes = 1 << 20

// SessionStore persists execution state between turns.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (map[string]any, error)
	Save(ctx context.Context, sessionID string, st map[string]any) error
}

type Config struct {
	Controller *orchestrator.Controller

	// Sessions is optional. Without it callers carry state themselves.
	Sessions SessionStore

	// Metrics is optional; /metrics is only mounted when set.
	Metrics *metrics.Metrics

	// Logger is optional, uses slog.Default() if nil.
	Logger *slog.Logger
}

// Handler serves the switchyard HTTP API.
type Handler struct {
	controller *orchestrator.Controller
	sessions   SessionStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		controller: cfg.Controller,
		sessions:   cfg.Sessions,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "api"),
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/turn", h.Turn).Methods("POST")
	r.HandleFunc("/v1/classify", h.Classify).Methods("POST")
	r.HandleFunc("/v1/circuits", h.Circuits).Methods("GET")
	r.HandleFunc("/v1/admin/cache/clear", h.ClearCache).Methods("POST")
	r.HandleFunc("/v1/admin/circuits/{key}/reset", h.ResetCircuit).Methods("POST")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}
}

// Router returns a fresh router with every route registered.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// Turn handles POST /v1/turn
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	ctx := r.Context()
	persist := h.sessions != nil && req.SessionID != ""
	if persist && req.State == nil {
		st, err := h.sessions.Load(ctx, req.SessionID)
		if err != nil {
			h.logger.Error("session load failed", "session_id", req.SessionID, "err", err)
			h.writeError(w, http.StatusInternalServerError, "session", err.Error())
			return
		}
		req.State = st
	}

	res, err := h.controller.RunTurn(ctx, req)
	if err != nil {
		h.logger.Warn("turn failed", "session_id", req.SessionID, "err", err)
		h.writeRoutingError(w, err)
		return
	}

	if persist {
		if err := h.sessions.Save(ctx, req.SessionID, res.State); err != nil {
			h.logger.Error("session save failed", "session_id", req.SessionID, "err", err)
			h.writeError(w, http.StatusInternalServerError, "session", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify handles POST /v1/classify. An unresolved message is a normal
// result, not an error.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.controller.Classify(req.Text)
	if err != nil && !errors.Is(err, coreerrors.ErrNoRuleMatched) {
		h.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Circuits handles GET /v1/circuits
func (h *Handler) Circuits(w http.ResponseWriter, _ *http.Request) {
	breakers := h.controller.Breakers()
	writeJSON(w, http.StatusOK, map[string]any{
		"circuits": breakers.Stats(),
		"open":     breakers.OpenCircuits(),
	})
}

// ClearCache handles POST /v1/admin/cache/clear
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.ClearCaches(r.Context()); err != nil {
		h.logger.Error("cache clear failed", "err", err)
		h.writeRoutingError(w, err)
		return
	}
	h.logger.Info("caches cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// ResetCircuit handles POST /v1/admin/circuits/{key}/reset
func (h *Handler) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !h.controller.Breakers().Reset(key) {
		h.writeError(w, http.StatusNotFound, "not_found", "no circuit for "+key)
		return
	}
	h.logger.Info("circuit reset", "breaker_key", key)
	writeJSON(w, http.StatusOK, h.controller.Breakers().Get(key).Stats())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *Handler) writeRoutingError(w http.ResponseWriter, err error) {
	kind := "internal"
	if k, ok := coreerrors.KindOf(err); ok {
		kind = k.String()
	}
	h.writeError(w, coreerrors.StatusCode(err), kind, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
