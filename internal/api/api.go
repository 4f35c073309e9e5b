// Package api serves the governance engine as a JSON HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ppiankov/sentinel/internal/governance"
	"github.com/ppiankov/sentinel/internal/metrics"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Handler holds the collaborators behind the HTTP routes.
type Handler struct {
	engine  *governance.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRouter builds the HTTP routes over engine. A nil m disables /metrics.
func NewRouter(engine *governance.Engine, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{engine: engine, metrics: m, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tool-calls", h.propose)
		r.Get("/tool-calls", h.decisions)
		r.Get("/tool-calls/{id}", h.get)
		r.Post("/tool-calls/{id}/approve", h.approve)
		r.Post("/tool-calls/{id}/deny", h.deny)
		r.Get("/approvals/pending", h.pending)

		r.Get("/mcp/servers", h.servers)
		r.Post("/mcp/servers", h.registerServer)
		r.Post("/mcp/servers/{name}/sync", h.sync)
		r.Get("/mcp/servers/{name}/tools", h.tools)
	})
	return r
}

type proposeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type proposeResponse struct {
	*governance.Proposal
	Outcome string `json:"outcome,omitempty"`
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool required")
		return
	}
	p, err := h.engine.ProposeToolCall(r.Context(), req.Tool, req.Args)
	if p == nil {
		h.writeEngineError(w, err)
		return
	}
	resp := proposeResponse{Proposal: p}
	if err != nil {
		resp.Outcome = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	Note     string `json:"note"`
	Approver string `json:"approver"`
}

type resolveResponse struct {
	*governance.Resolution
	Outcome string `json:"outcome,omitempty"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.engine.ApproveToolCall(r.Context(), chi.URLParam(r, "id"), req.Note, req.Approver)
	if res == nil {
		h.writeEngineError(w, err)
		return
	}
	resp := resolveResponse{Resolution: res}
	if err != nil {
		resp.Outcome = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.engine.DenyToolCall(r.Context(), chi.URLParam(r, "id"), req.Note, req.Approver)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Resolution: res})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.PendingApprovals(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": recs})
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	recs, err := h.engine.Decisions(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": recs})
}

type registerRequest struct {
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	ToolPrefix string `json:"tool_prefix"`
	AuthHeader string `json:"auth_header"`
	AuthToken  string `json:"auth_token"`
}

func (h *Handler) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	reg, err := h.engine.RegisterMcpServer(r.Context(), req.Name, req.BaseURL, req.ToolPrefix, req.AuthHeader, req.AuthToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

func (h *Handler) servers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": h.engine.McpServers()})
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.SyncMcpTools(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) tools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.engine.McpTools(chi.URLParam(r, "name"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeError(w, http.StatusInternalServerError, "no result")
	case errors.Is(err, governance.ErrNotFound), errors.Is(err, governance.ErrUnknownServer):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, governance.ErrStateConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, governance.ErrInvalidArguments):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, governance.ErrBackendUnavailable), errors.Is(err, governance.ErrTimeout):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// decodeBody reads a JSON body. With optional set, an empty body is fine.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
