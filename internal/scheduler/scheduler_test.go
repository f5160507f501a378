package scheduler

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/agentconsole/internal/console"
)

func TestSchedulerFiresTask(t *testing.T) {
	var fires atomic.Int32
	sched := New()
	if err := sched.Add(Task{Name: "every-second", Schedule: "* * * * * *", Run: func() { fires.Add(1) }}); err != nil {
		t.Fatal(err)
	}
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("task did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	sched := New()
	if err := sched.Add(Task{Name: "bad", Schedule: "every tuesday", Run: func() {}}); err == nil {
		t.Error("expected invalid schedule error")
	}
	if err := sched.Add(Task{Name: "nil", Schedule: "@every 1m"}); err == nil {
		t.Error("expected error for task without function")
	}
}

type fakeSweeper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	out     []console.Expired
}

func (f *fakeSweeper) Sweep(cutoff time.Time) []console.Expired {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.out
}

func TestSweepTaskNotifies(t *testing.T) {
	sw := &fakeSweeper{out: []console.Expired{{UserID: "u1", ReplyKey: "test:u1", Session: "prod"}, {UserID: "u2"}}}
	var notified []console.Expired
	task := SweepTask("", time.Hour, sw, func(e console.Expired) { notified = append(notified, e) })

	if task.Schedule != DefaultSweepSchedule {
		t.Errorf("expected default schedule, got %q", task.Schedule)
	}
	before := time.Now()
	task.Run()

	if len(sw.cutoffs) != 1 {
		t.Fatalf("expected one sweep, got %d", len(sw.cutoffs))
	}
	if age := before.Sub(sw.cutoffs[0]); age < 59*time.Minute || age > 61*time.Minute {
		t.Errorf("cutoff should be one ttl ago, got %v", age)
	}
	if len(notified) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(notified))
	}
}

func TestExpiryNotice(t *testing.T) {
	if got := ExpiryNotice(console.Expired{Session: "prod"}); !strings.Contains(got, "prod") {
		t.Errorf("notice should name the session: %q", got)
	}
	if got := ExpiryNotice(console.Expired{}); got == "" {
		t.Error("expected a notice")
	}
}
