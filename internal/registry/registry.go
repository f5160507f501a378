// Package registry mediates every read and write of sessions and messages.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/user/agentconsole/internal/types"
)

// MaxNameLength keeps "select:<name>" inside Telegram's 64-byte callback limit.
const MaxNameLength = 48

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName trims name and checks it against the allowed pattern.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return "", fmt.Errorf("%q: %w", name, types.ErrInvalidName)
	}
	return name, nil
}

// Registry maps (user, session name) to a resumable agent session.
type Registry struct {
	store types.Store
	agent string
	now   func() time.Time
}

// New creates a Registry. New sessions are bound to defaultAgent.
func New(store types.Store, defaultAgent string) *Registry {
	return &Registry{store: store, agent: defaultAgent, now: time.Now}
}

// CreateSession validates and inserts a new session.
func (r *Registry) CreateSession(ctx context.Context, user types.UserID, name string) (*types.Session, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	now := r.now()
	sess := &types.Session{
		ID:        types.NewSessionID(),
		UserID:    user,
		Name:      name,
		Agent:     r.agent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("session created", "user_id", string(user), "session", name, "agent", sess.Agent)
	return sess, nil
}

// ListSessions returns the user's sessions in creation order.
func (r *Registry) ListSessions(ctx context.Context, user types.UserID) ([]*types.Session, error) {
	return r.store.ListSessions(ctx, user)
}

// GetSession looks up a session by name.
func (r *Registry) GetSession(ctx context.Context, user types.UserID, name string) (*types.Session, error) {
	return r.store.GetSessionByName(ctx, user, name)
}

// ResolveHandle returns the session's resume handle; ok is false when none was bound yet.
func (r *Registry) ResolveHandle(sess *types.Session) (handle string, ok bool) {
	return sess.ResumeHandle, sess.ResumeHandle != ""
}

// BindHandle stores handle as the session's resume handle if none is set.
// Binding the handle already stored is a no-op; a different handle returns
// types.ErrHandleStale and leaves the stored one untouched.
func (r *Registry) BindHandle(ctx context.Context, sess *types.Session, handle string) error {
	if handle == "" {
		return nil
	}
	if sess.ResumeHandle != "" {
		if sess.ResumeHandle == handle {
			return nil
		}
		return fmt.Errorf("session %q: %w", sess.Name, types.ErrHandleStale)
	}

	set, err := r.store.SetResumeHandle(ctx, sess.ID, handle)
	if err != nil {
		return err
	}
	if set {
		sess.ResumeHandle = handle
		return nil
	}

	// Another invocation bound a handle first.
	current, err := r.store.GetSessionByName(ctx, sess.UserID, sess.Name)
	if err != nil {
		return err
	}
	sess.ResumeHandle = current.ResumeHandle
	if current.ResumeHandle != handle {
		return fmt.Errorf("session %q: %w", sess.Name, types.ErrHandleStale)
	}
	return nil
}

// DeleteSession removes the session and orphans its history. It returns the
// number of messages orphaned.
func (r *Registry) DeleteSession(ctx context.Context, user types.UserID, name string) (int64, error) {
	orphaned, err := r.store.DeleteSession(ctx, user, name)
	if err != nil {
		return 0, err
	}
	slog.Info("session deleted", "user_id", string(user), "session", name, "orphaned", orphaned)
	return orphaned, nil
}

// MessageInput describes an exchange to record. A nil Session records an orphan.
type MessageInput struct {
	UserID   types.UserID
	Session  *types.Session
	Kind     types.MessageKind
	Query    string
	Response string
	Flags    []string
	Failed   bool
}

// RecordMessage persists one query/response exchange.
func (r *Registry) RecordMessage(ctx context.Context, in MessageInput) (*types.Message, error) {
	m := &types.Message{
		ID:        types.NewMessageID(),
		UserID:    in.UserID,
		Kind:      in.Kind,
		Query:     in.Query,
		Response:  in.Response,
		FlagsUsed: strings.Join(in.Flags, " "),
		Failed:    in.Failed,
		CreatedAt: r.now(),
	}
	if m.Kind == "" {
		m.Kind = types.MessageQuery
	}
	if in.Session != nil {
		m.SessionID = in.Session.ID
	}
	if err := r.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// History returns the newest limit messages of the named session, or of all the
// user's messages when sessionName is empty.
func (r *Registry) History(ctx context.Context, user types.UserID, sessionName string, limit int) ([]*types.Message, error) {
	filter := types.MessageFilter{UserID: user, Limit: limit}
	if sessionName != "" {
		sess, err := r.store.GetSessionByName(ctx, user, sessionName)
		if err != nil {
			return nil, err
		}
		filter.SessionID = sess.ID
	}
	return r.store.ListMessages(ctx, filter)
}
