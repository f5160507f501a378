// Package gateway feeds inbound chat events through the console state machine
// and executes the jobs it accepts with bounded concurrency.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentconsole/internal/console"
	"github.com/user/agentconsole/internal/types"
)

// Console decides what an event does.
type Console interface {
	Handle(ctx context.Context, ev *types.InboundEvent) console.Outcome
}

// Deliverer sends a reply to the conversation behind a reply key.
type Deliverer interface {
	Deliver(key types.ReplyKey, reply types.Reply) error
}

const DefaultMaxConcurrent = 4

var errStopped = errors.New("gateway stopped")

// Gateway orchestrates inbound events into runs. Events are decided in
// per-user order; accepted jobs execute concurrently up to a global limit.
type Gateway struct {
	console Console
	deliver Deliverer
	Queue   *Queue
	jobs    *semaphore.Weighted
	running atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway. deliver may be nil when every run carries OnReply.
func New(c Console, deliver Deliverer, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = DefaultMaxConcurrent
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		console: c,
		deliver: deliver,
		Queue:   NewQueue(),
		jobs:    semaphore.NewWeighted(concurrency),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for running
// jobs to finish. Cancellation kills their processes.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnReply routes the run's replies to fn instead of the delivery registry.
func WithOnReply(fn func(types.Reply)) RunOption {
	return func(r *Run) { r.OnReply = fn }
}

// HandleInbound enqueues the event on its user's lane and returns the Run.
func (g *Gateway) HandleInbound(_ context.Context, event *types.InboundEvent, opts ...RunOption) (*Run, error) {
	if event == nil || event.UserID == "" {
		return nil, fmt.Errorf("%w: event needs a user", types.ErrInvalidInput)
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

// Submit handles the event and waits for every reply it produces, including
// the result of any job it started.
func (g *Gateway) Submit(ctx context.Context, event *types.InboundEvent) ([]types.Reply, error) {
	var (
		mu      sync.Mutex
		replies []types.Reply
	)
	run, err := g.HandleInbound(ctx, event, WithOnReply(func(r types.Reply) {
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	}))
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.ctx.Done():
		return nil, errStopped
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]types.Reply(nil), replies...), nil
}

// Notify delivers an unsolicited reply, such as an expiry notice.
func (g *Gateway) Notify(key types.ReplyKey, reply types.Reply) error {
	if g.deliver == nil {
		return fmt.Errorf("no delivery registry for %s", key)
	}
	return g.deliver.Deliver(key, reply)
}

// Running returns the number of jobs executing or waiting for a slot.
func (g *Gateway) Running() int64 { return g.running.Load() }

// WaitIdle blocks until no events or jobs are in progress, or timeout expires.
func (g *Gateway) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if !g.Queue.WaitIdle(timeout) {
		return false
	}
	return waitZero(&g.running, time.Until(deadline))
}

// process runs on the user's lane. It decides the event and, when a job was
// accepted, hands it to a goroutine so the lane can keep answering.
func (g *Gateway) process(run *Run) error {
	run.setStatus(RunStatusRunning)
	out := g.console.Handle(run.Ctx, run.Event)
	if out.Reply.Text != "" {
		g.send(run, out.Reply)
	}
	if out.Job == nil {
		run.setStatus(RunStatusComplete)
		return nil
	}

	job := out.Job
	g.running.Add(1)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.running.Add(-1)

		if err := g.jobs.Acquire(g.ctx, 1); err != nil {
			job.Discard()
			slog.Warn("job dropped before start", "job_id", string(job.ID), "user_id", string(run.UserID), "error", err)
			run.setStatus(RunStatusFailed)
			return
		}
		defer g.jobs.Release(1)

		start := time.Now()
		reply := job.Run(g.ctx)
		slog.Info("job finished", "job_id", string(job.ID), "user_id", string(run.UserID), "session", job.Session(), "host", job.Host(), "duration", time.Since(start))
		if reply.Text != "" {
			g.send(run, reply)
		}
		run.setStatus(RunStatusComplete)
	}()
	return nil
}

func (g *Gateway) send(run *Run, reply types.Reply) {
	if run.OnReply != nil {
		run.OnReply(reply)
		return
	}
	if g.deliver == nil {
		slog.Warn("reply dropped, no delivery registry", "user_id", string(run.UserID))
		return
	}
	if err := g.deliver.Deliver(run.Event.ReplyKey, reply); err != nil {
		slog.Error("deliver reply failed", "reply_key", string(run.Event.ReplyKey), "error", err)
	}
}
