package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/user/agentconsole/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one inbound event from the user's lane through any job it starts.
type Run struct {
	ID        types.JobID
	UserID    types.UserID
	Event     *types.InboundEvent
	Ctx       context.Context
	CreatedAt time.Time

	// OnReply receives every reply produced for the event. When nil, replies
	// go to the delivery registry by reply key.
	OnReply func(types.Reply)

	mu     sync.Mutex
	status RunStatus
	done   chan struct{}
}

// NewRun creates a Run in the Queued state for the event.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewJobID(),
		UserID:    event.UserID,
		Event:     event,
		CreatedAt: time.Now(),
		status:    RunStatusQueued,
		done:      make(chan struct{}),
	}
}

// Status returns the run's current status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed once the run and any job it started have finished.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) setStatus(s RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RunStatusComplete || r.status == RunStatusFailed {
		return
	}
	r.status = s
	if s == RunStatusComplete || s == RunStatusFailed {
		close(r.done)
	}
}
