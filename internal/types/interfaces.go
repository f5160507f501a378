// internal/types/interfaces.go
package types

import (
	"context"
)

// Store is the durable record store for sessions and messages.
// Only the session registry talks to it.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByName(ctx context.Context, user UserID, name string) (*Session, error)
	ListSessions(ctx context.Context, user UserID) ([]*Session, error)
	// SetResumeHandle sets the handle only if none is stored yet and reports whether it did.
	SetResumeHandle(ctx context.Context, id SessionID, handle string) (bool, error)
	// DeleteSession orphans the session's messages and deletes it atomically.
	DeleteSession(ctx context.Context, user UserID, name string) (int64, error)
	InsertMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)
}
