package optd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rodline/procopt/pkg/logger"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	mux     *http.ServeMux
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	s := &HTTPServer{
		mux:     http.NewServeMux(),
		service: service,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("/v1/sessions/", s.handleSessionByID)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"sessions":  len(s.service.List()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSessions handles /v1/sessions
func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.service.List()})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleSessionByID handles /v1/sessions/{id} and its actions
func (s *HTTPServer) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "session ID is required")
		return
	}

	routes := map[string]struct {
		method  string
		handler func(http.ResponseWriter, *http.Request, string)
	}{
		"":         {http.MethodGet, s.handleGetState},
		"desired":  {http.MethodPost, s.handleSetDesired},
		"optimize": {http.MethodPost, s.handleOptimize},
		"undo":     {http.MethodPost, s.handleUndo},
		"reset":    {http.MethodPost, s.handleReset},
		"trace":    {http.MethodGet, s.handleTrace},
		"history":  {http.MethodGet, s.handleHistory},
	}

	if action == "" && r.Method == http.MethodDelete {
		s.handleDelete(w, r, id)
		return
	}
	route, ok := routes[action]
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", "unknown session action: "+action)
		return
	}
	if r.Method != route.method {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	route.handler(w, r, id)
}

// handleCreateSession handles POST /v1/sessions
func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	sess, err := s.service.Create(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	logger.Info("session created (HTTP)", "session_id", sess.ID())
	s.writeJSON(w, http.StatusCreated, map[string]any{"session": sess.Snapshot()})
}

// handleGetState handles GET /v1/sessions/{id}
func (s *HTTPServer) handleGetState(w http.ResponseWriter, r *http.Request, id string) {
	state, err := s.service.State(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleDelete handles DELETE /v1/sessions/{id}
func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.service.Delete(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetDesired handles POST /v1/sessions/{id}/desired
func (s *HTTPServer) handleSetDesired(w http.ResponseWriter, r *http.Request, id string) {
	var req Desired
	if !s.decode(w, r, &req, false) {
		return
	}
	snap, err := s.service.SetDesired(r.Context(), id, req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

// handleOptimize handles POST /v1/sessions/{id}/optimize
func (s *HTTPServer) handleOptimize(w http.ResponseWriter, r *http.Request, id string) {
	var req OptimizeRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	resp, err := s.service.Optimize(r.Context(), id, req.Parameters)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleUndo handles POST /v1/sessions/{id}/undo
func (s *HTTPServer) handleUndo(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.service.Undo(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

// handleReset handles POST /v1/sessions/{id}/reset
func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.service.Reset(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session": snap})
}

// handleTrace handles GET /v1/sessions/{id}/trace
func (s *HTTPServer) handleTrace(w http.ResponseWriter, _ *http.Request, id string) {
	trace, err := s.service.Trace(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trace)
}

// handleHistory handles GET /v1/sessions/{id}/history
func (s *HTTPServer) handleHistory(w http.ResponseWriter, _ *http.Request, id string) {
	history, err := s.service.History(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// decode reads a JSON body into v; an empty body is accepted when optional
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
		"code":  code,
	})
}

func (s *HTTPServer) writeErr(w http.ResponseWriter, err error) {
	c := classify(err)
	if c.status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "code", c.code)
	}
	s.writeError(w, c.status, c.code, fmt.Sprint(err))
}
