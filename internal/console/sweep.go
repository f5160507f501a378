package console

import (
	"time"

	"github.com/user/agentconsole/internal/types"
)

// Expired describes a user whose state was reset by Sweep.
type Expired struct {
	UserID   types.UserID
	ReplyKey types.ReplyKey
	// Session is the session the user was addressing, if any.
	Session string
}

// Sweep drops the state of users idle since before cutoff. Users with a job
// in flight, or whose lock is held, are skipped until the next sweep.
func (m *Machine) Sweep(cutoff time.Time) []Expired {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Expired
	for user, s := range m.users {
		if !s.mu.TryLock() {
			continue
		}
		if s.inflight == nil && s.touched.Before(cutoff) {
			s.evicted = true
			delete(m.users, user)
			if _, idle := s.state.(Idle); !idle {
				name, _ := addressed(s.state)
				out = append(out, Expired{UserID: user, ReplyKey: s.replyKey, Session: name})
			}
		}
		s.mu.Unlock()
	}
	return out
}

// Users returns how many users currently hold state.
func (m *Machine) Users() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}
