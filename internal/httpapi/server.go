// Package httpapi is the operator HTTP API: health, session listing, history
// and event injection.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/user/agentconsole/internal/types"
)

const (
	defaultHistoryLimit = 200
	transport           = "http"
)

// Sessions is the read side of the session registry.
type Sessions interface {
	ListSessions(ctx context.Context, user types.UserID) ([]*types.Session, error)
	History(ctx context.Context, user types.UserID, sessionName string, limit int) ([]*types.Message, error)
}

// Submitter runs an event to completion and returns its replies.
type Submitter interface {
	Submit(ctx context.Context, event *types.InboundEvent) ([]types.Reply, error)
}

// AuditLog reads the host directive journal.
type AuditLog interface {
	Tail(ctx context.Context, user types.UserID, limit int) ([]*types.HostAuditEntry, error)
}

// Server is the HTTP handler for the operator API.
type Server struct {
	sessions Sessions
	submit   Submitter
	audit    AuditLog
	token    string
	router   chi.Router
}

// NewServer creates a Server. A non-empty token requires
// "Authorization: Bearer <token>" on every /api route. audit may be nil.
func NewServer(sessions Sessions, submit Submitter, audit AuditLog, token string) *Server {
	s := &Server{sessions: sessions, submit: submit, audit: audit, token: token}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Route("/api/users/{user}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/sessions", s.handleSessions)
		r.Get("/messages", s.handleMessages)
		r.Get("/audit", s.handleAudit)
		r.Post("/events", s.handleEvent)
	})
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			want := "Bearer " + s.token
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	Name      string `json:"name"`
	Agent     string `json:"agent"`
	Resumable bool   `json:"resumable"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(chi.URLParam(r, "user"))
	sessions, err := s.sessions.ListSessions(r.Context(), user)
	if err != nil {
		slog.Error("list sessions failed", "user_id", string(user), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionResponse{
			Name:      sess.Name,
			Agent:     sess.Agent,
			Resumable: sess.ResumeHandle != "",
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt: sess.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

type messageResponse struct {
	ID        string `json:"id"`
	Orphaned  bool   `json:"orphaned"`
	Kind      string `json:"kind"`
	Query     string `json:"query"`
	Response  string `json:"response"`
	Flags     string `json:"flags,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	user := types.UserID(chi.URLParam(r, "user"))
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	session := r.URL.Query().Get("session")

	msgs, err := s.sessions.History(r.Context(), user, session, limit)
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		slog.Error("history failed", "user_id", string(user), "session", session, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	result := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, messageResponse{
			ID:        string(m.ID),
			Orphaned:  m.SessionID == "",
			Kind:      string(m.Kind),
			Query:     m.Query,
			Response:  m.Response,
			Flags:     m.FlagsUsed,
			Failed:    m.Failed,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit journal not configured")
		return
	}
	user := types.UserID(chi.URLParam(r, "user"))
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.audit.Tail(r.Context(), user, limit)
	if err != nil {
		slog.Error("tail audit failed", "user_id", string(user), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*types.HostAuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// eventRequest is the JSON body for POST /api/users/{user}/events. Action is
// a button token such as "new" or "select:prod".
type eventRequest struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ev := &types.InboundEvent{
		Source:   transport,
		UserID:   types.UserID(user),
		ReplyKey: types.NewReplyKey(transport, user),
		Text:     req.Text,
	}
	if req.Action != "" {
		action, ok := types.ParseAction(req.Action)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown action")
			return
		}
		ev.Action = action
		ev.Text = ""
	}

	replies, err := s.submit.Submit(r.Context(), ev)
	if err != nil {
		slog.Error("submit event failed", "user_id", user, "error", err)
		writeError(w, http.StatusServiceUnavailable, "event not processed")
		return
	}
	if replies == nil {
		replies = []types.Reply{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return defaultHistoryLimit, true
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
