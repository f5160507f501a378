// Package scheduler runs periodic maintenance on cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/agentconsole/internal/console"
)

const (
	DefaultSweepSchedule = "@every 10m"
	DefaultStateTTL      = 30 * time.Minute
)

// Sweeper resets interaction state idle since before a cutoff.
type Sweeper interface {
	Sweep(cutoff time.Time) []console.Expired
}

// Notifier is told about every user whose state was reset.
type Notifier func(e console.Expired)

// Task is a named function fired on a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler evaluates cron expressions and fires registered tasks.
type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
	cron  *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithParser(cronParser))}
}

// Add registers a task. The schedule is validated immediately.
func (s *Scheduler) Add(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no function", task.Name)
	}
	if _, err := cronParser.Parse(task.Schedule); err != nil {
		return fmt.Errorf("task %q: invalid schedule %q: %w", task.Name, task.Schedule, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

// Start registers every task as a cron entry and starts the cron ticker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		task := task
		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Debug("cron firing task", "name", task.Name)
			task.Run()
		})
		if err != nil {
			return fmt.Errorf("schedule %q: %w", task.Name, err)
		}
		slog.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}
	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.Stop()
	s.mu.Lock()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for a running task to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

// SweepTask builds the task that resets states idle longer than ttl and
// notifies the affected users.
func SweepTask(schedule string, ttl time.Duration, sweeper Sweeper, notify Notifier) Task {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return Task{
		Name:     "state-sweep",
		Schedule: schedule,
		Run: func() {
			expired := sweeper.Sweep(time.Now().Add(-ttl))
			for _, e := range expired {
				if notify != nil {
					notify(e)
				}
			}
			if len(expired) > 0 {
				slog.Info("expired idle interaction state", "users", len(expired), "ttl", ttl)
			}
		},
	}
}

// ExpiryNotice is the text sent to a user whose state expired.
func ExpiryNotice(e console.Expired) string {
	if e.Session != "" {
		return fmt.Sprintf("Closed session %s after inactivity. Pick it again from the menu to continue.", e.Session)
	}
	return "Your pending action expired after inactivity."
}
