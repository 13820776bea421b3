package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/models"
)

// sessionStateResponse is the result of GET /api/sessions/{id}/state.
type sessionStateResponse struct {
	SessionID string                     `json:"sessionId"`
	Version   int64                      `json:"version"`
	State     dialogue.ConversationState `json:"state"`
}

// sessionHistoryResponse is the result of GET /api/sessions/{id}/history.
type sessionHistoryResponse struct {
	SessionID string                   `json:"sessionId"`
	Entries   []models.TranscriptEntry `json:"entries"`
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// chatHandler handles POST /api/chat
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, "Server.chatHandler", err)
		return
	}
	if !s.authorizeSession(w, r, req.SessionID) {
		return
	}
	slog.Debug("Server.chatHandler: turn requested", "sessionID", req.SessionID,
		"subject", SubjectFrom(r.Context()), "messageLen", len(req.Message), "requestID", requestIDFrom(r.Context()))
	if !s.limiter.Allow(req.SessionID) {
		slog.Warn("Server.chatHandler: rate limited", "sessionID", req.SessionID)
		w.Header().Set("Retry-After", "1")
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Too many messages, please slow down"))
		return
	}

	result, err := s.flow.HandleTurn(r.Context(), req)
	if err != nil {
		writeError(w, r, "Server.chatHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// wellnessHandler handles POST /api/wellness?action=
func (s *Server) wellnessHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	action := models.WellnessAction(r.URL.Query().Get("action"))
	var req models.WellnessRequest
	if err := decodeBody(w, r, &req); err != nil {
		slog.Warn("Server.wellnessHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.wellness.Handle(r.Context(), action, req)
	if err != nil {
		writeError(w, r, "Server.wellnessHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// sessionStateHandler handles GET /api/sessions/{id}/state
func (s *Server) sessionStateHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorizeSession(w, r, id) {
		return
	}
	state, version, err := s.flow.State(r.Context(), id)
	if err != nil {
		writeError(w, r, "Server.sessionStateHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionStateResponse{SessionID: id, Version: version, State: state}))
}

// sessionHistoryHandler handles GET /api/sessions/{id}/history?limit=
func (s *Server) sessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorizeSession(w, r, id) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := s.flow.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, "Server.sessionHistoryHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessionHistoryResponse{SessionID: id, Entries: entries}))
}

// resetSessionHandler handles DELETE /api/sessions/{id}
func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.authorizeSession(w, r, id) {
		return
	}
	if err := s.flow.Reset(r.Context(), id); err != nil {
		writeError(w, r, "Server.resetSessionHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", nil))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"version":   s.version,
		"features":  s.features,
	}))
}

// detailedHealthHandler adds runtime and configuration details.
func (s *Server) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"version":       s.version,
		"goVersion":     runtime.Version(),
		"goroutines":    runtime.NumGoroutine(),
		"features":      s.features,
		"rateLimit": map[string]interface{}{
			"perSecond": float64(s.limiter.limit),
			"burst":     s.limiter.burst,
		},
	}))
}
