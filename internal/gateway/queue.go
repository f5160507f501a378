package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/agentconsole/internal/types"
)

const laneBuffer = 100

// Queue manages per-user lanes. Each user gets a FIFO channel (lane) so that
// one user's events are decided in arrival order while different users
// proceed independently.
type Queue struct {
	lanes     map[types.UserID]chan *Run
	processor func(*Run) error
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		lanes: make(map[types.UserID]chan *Run),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for the lane
// goroutines to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its user's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue stopped")
	}

	lane, exists := q.lanes[run.UserID]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.UserID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for user %s", run.UserID)
	}
}

// processLane drains a single user lane, running the processor synchronously.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if q.processor == nil {
				run.setStatus(RunStatusComplete)
				continue
			}
			q.active.Add(1)
			run.Ctx = q.ctx
			if err := q.processor(run); err != nil {
				slog.Error("run failed", "run_id", string(run.ID), "user_id", string(run.UserID), "error", err)
				run.setStatus(RunStatusFailed)
			}
			q.active.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// Lanes returns the number of user lanes created so far.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	return waitZero(&q.active, timeout)
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

func waitZero(n *atomic.Int64, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if n.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}
