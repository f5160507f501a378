// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type UserID string
type SessionID string
type MessageID string
type JobID string

// ReplyKey addresses a conversation on a transport, e.g. "telegram:<chat id>".
type ReplyKey string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewReplyKey(parts ...string) ReplyKey {
	return ReplyKey(strings.Join(parts, ":"))
}

// Transport returns the prefix of the key before the first colon.
func (k ReplyKey) Transport() string {
	s := string(k)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
