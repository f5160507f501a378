package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/agentconsole/internal/types"
)

func newTestRun(user string, text string) *Run {
	return NewRun(&types.InboundEvent{Source: "test", UserID: types.UserID(user), Text: text})
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	defer queue.Stop()

	var processed int32
	queue.SetProcessor(func(run *Run) error {
		atomic.AddInt32(&processed, 1)
		run.setStatus(RunStatusComplete)
		return nil
	})

	run := newTestRun("u1", "hi")
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected 1 processed run, got %d", processed)
	}
	if run.Status() != RunStatusComplete {
		t.Errorf("expected complete, got %s", run.Status())
	}
}

func TestQueueSameUserOrdering(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	queue.SetProcessor(func(run *Run) error {
		mu.Lock()
		order = append(order, run.Event.Text)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})

	for _, text := range []string{"a", "b", "c"} {
		if err := queue.Enqueue(newTestRun("same", text)); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runs to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if order[i] != want {
			t.Errorf("expected order[%d] = %s, got %s", i, want, order[i])
		}
	}
	if queue.Lanes() != 1 {
		t.Errorf("expected one lane, got %d", queue.Lanes())
	}
}

func TestQueueUsersIndependent(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	defer queue.Stop()

	release := make(chan struct{})
	fast := make(chan struct{})
	queue.SetProcessor(func(run *Run) error {
		if run.UserID == "slow" {
			<-release
		} else {
			close(fast)
		}
		return nil
	})

	if err := queue.Enqueue(newTestRun("slow", "x")); err != nil {
		t.Fatal(err)
	}
	if err := queue.Enqueue(newTestRun("fast", "y")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked user must not block others")
	}
	close(release)
}

func TestQueueFailedRunMarked(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	defer queue.Stop()

	queue.SetProcessor(func(run *Run) error { return context.DeadlineExceeded })
	run := newTestRun("u1", "x")
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	<-run.Done()
	if run.Status() != RunStatusFailed {
		t.Errorf("expected failed, got %s", run.Status())
	}
}

func TestQueueNoProcessor(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	defer queue.Stop()

	run := newTestRun("no-proc", "x")
	if err := queue.Enqueue(run); err != nil {
		t.Fatal(err)
	}
	<-run.Done()
}

func TestQueueRejectsAfterStop(t *testing.T) {
	queue := NewQueue()
	queue.Start(context.Background())
	queue.Stop()
	if err := queue.Enqueue(newTestRun("u1", "x")); err == nil {
		t.Error("expected enqueue after stop to fail")
	}
}
