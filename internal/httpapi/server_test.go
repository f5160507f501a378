package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/agentconsole/internal/types"
)

type fakeSessions struct {
	sessions []*types.Session
	messages []*types.Message
	lastName string
	lastLim  int
}

func (f *fakeSessions) ListSessions(_ context.Context, user types.UserID) ([]*types.Session, error) {
	return f.sessions, nil
}

func (f *fakeSessions) History(_ context.Context, user types.UserID, name string, limit int) ([]*types.Message, error) {
	f.lastName, f.lastLim = name, limit
	if name == "ghost" {
		return nil, fmt.Errorf("session %q: %w", name, types.ErrNotFound)
	}
	return f.messages, nil
}

type fakeSubmitter struct {
	last *types.InboundEvent
}

func (f *fakeSubmitter) Submit(_ context.Context, ev *types.InboundEvent) ([]types.Reply, error) {
	f.last = ev
	return []types.Reply{{Text: "ack"}}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&fakeSessions{}, &fakeSubmitter{}, nil, "secret")
	w := do(t, srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	srv := NewServer(&fakeSessions{}, &fakeSubmitter{}, nil, "secret")
	if w := do(t, srv, http.MethodGet, "/api/users/u1/sessions", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	w := do(t, srv, http.MethodGet, "/api/users/u1/sessions", "", map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fs := &fakeSessions{sessions: []*types.Session{
		{Name: "prod", Agent: "claude", ResumeHandle: "h", CreatedAt: now, UpdatedAt: now},
		{Name: "dev", Agent: "cursor", CreatedAt: now, UpdatedAt: now},
	}}
	srv := NewServer(fs, &fakeSubmitter{}, nil, "")
	w := do(t, srv, http.MethodGet, "/api/users/u1/sessions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := []sessionResponse{
		{Name: "prod", Agent: "claude", Resumable: true, CreatedAt: "2026-01-02T03:04:05Z", UpdatedAt: "2026-01-02T03:04:05Z"},
		{Name: "dev", Agent: "cursor", CreatedAt: "2026-01-02T03:04:05Z", UpdatedAt: "2026-01-02T03:04:05Z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}

func TestMessages(t *testing.T) {
	fs := &fakeSessions{messages: []*types.Message{{ID: "m1", Kind: types.MessageQuery, Query: "q", Response: "r"}}}
	srv := NewServer(fs, &fakeSubmitter{}, nil, "")

	w := do(t, srv, http.MethodGet, "/api/users/u1/messages?session=prod&limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fs.lastName != "prod" || fs.lastLim != 5 {
		t.Errorf("unexpected history args %q %d", fs.lastName, fs.lastLim)
	}
	var got []messageResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Orphaned || got[0].Query != "q" {
		t.Errorf("unexpected messages %+v", got)
	}

	if w := do(t, srv, http.MethodGet, "/api/users/u1/messages?session=ghost", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/users/u1/messages?limit=-1", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPostEvent(t *testing.T) {
	sub := &fakeSubmitter{}
	srv := NewServer(&fakeSessions{}, sub, nil, "")

	w := do(t, srv, http.MethodPost, "/api/users/u1/events", `{"action":"select:prod"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := &types.InboundEvent{Source: "http", UserID: "u1", ReplyKey: "http:u1", Action: types.Action{Kind: types.ActionSelect, Session: "prod"}}
	if diff := cmp.Diff(want, sub.last); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	var resp struct {
		Replies []types.Reply `json:"replies"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Replies) != 1 || resp.Replies[0].Text != "ack" {
		t.Errorf("unexpected replies %+v", resp.Replies)
	}

	if w := do(t, srv, http.MethodPost, "/api/users/u1/events", `{"action":"explode"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown action, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/api/users/u1/events", `not json`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", w.Code)
	}
}

func TestAuditNotConfigured(t *testing.T) {
	srv := NewServer(&fakeSessions{}, &fakeSubmitter{}, nil, "")
	if w := do(t, srv, http.MethodGet, "/api/users/u1/audit", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
