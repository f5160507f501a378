package registry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/user/agentconsole/internal/state"
	"github.com/user/agentconsole/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := state.OpenSQLite(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, "claude")
}

func TestValidateName(t *testing.T) {
	valid := []string{"Flowise", "a", "prod_1", "my-session", " padded ", strings.Repeat("x", MaxNameLength)}
	for _, name := range valid {
		if _, err := ValidateName(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}
	invalid := []string{"", "has space", "semi;colon", "слово", "a/b", strings.Repeat("x", MaxNameLength+1)}
	for _, name := range invalid {
		_, err := ValidateName(name)
		if !errors.Is(err, types.ErrInvalidName) {
			t.Errorf("expected %q to be invalid, got %v", name, err)
		}
	}
}

func TestCreateThenListContainsOnce(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma_2"} {
		if _, err := reg.CreateSession(ctx, "u1", name); err != nil {
			t.Fatal(err)
		}
		sessions, err := reg.ListSessions(ctx, "u1")
		if err != nil {
			t.Fatal(err)
		}
		count := 0
		for _, s := range sessions {
			if s.Name == name {
				count++
			}
		}
		if count != 1 {
			t.Errorf("expected %q exactly once, saw %d", name, count)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.CreateSession(ctx, "u1", "Flowise"); err != nil {
		t.Fatal(err)
	}
	_, err := reg.CreateSession(ctx, "u1", "Flowise")
	if !errors.Is(err, types.ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected duplicate to classify as invalid input")
	}

	sessions, _ := reg.ListSessions(ctx, "u1")
	if len(sessions) != 1 {
		t.Errorf("expected no second record, got %d sessions", len(sessions))
	}
}

func TestCreateConcurrentSameName(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.CreateSession(ctx, "u1", "same")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
		} else if !errors.Is(err, types.ErrDuplicateName) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful create, got %d", ok)
	}
}

func TestBindHandle(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx, "u1", "s")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.ResolveHandle(sess); ok {
		t.Fatal("expected no handle on a new session")
	}

	if err := reg.BindHandle(ctx, sess, "abc"); err != nil {
		t.Fatal(err)
	}
	if h, ok := reg.ResolveHandle(sess); !ok || h != "abc" {
		t.Errorf("expected handle abc, got %q", h)
	}
	if err := reg.BindHandle(ctx, sess, "abc"); err != nil {
		t.Errorf("rebinding the same handle should be a no-op, got %v", err)
	}
	if err := reg.BindHandle(ctx, sess, "xyz"); !errors.Is(err, types.ErrHandleStale) {
		t.Errorf("expected ErrHandleStale, got %v", err)
	}

	stored, err := reg.GetSession(ctx, "u1", "s")
	if err != nil {
		t.Fatal(err)
	}
	if stored.ResumeHandle != "abc" {
		t.Errorf("stored handle changed to %q", stored.ResumeHandle)
	}
}

func TestBindHandleLostRace(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx, "u1", "s")
	if err != nil {
		t.Fatal(err)
	}
	stale := *sess
	if err := reg.BindHandle(ctx, sess, "first"); err != nil {
		t.Fatal(err)
	}

	// stale still believes no handle is bound.
	if err := reg.BindHandle(ctx, &stale, "second"); !errors.Is(err, types.ErrHandleStale) {
		t.Errorf("expected ErrHandleStale, got %v", err)
	}
	if stale.ResumeHandle != "first" {
		t.Errorf("expected stale copy refreshed to first, got %q", stale.ResumeHandle)
	}
}

func TestDeleteSessionOrphansHistory(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	sess, err := reg.CreateSession(ctx, "u1", "doomed")
	if err != nil {
		t.Fatal(err)
	}
	const n = 4
	for i := 0; i < n; i++ {
		if _, err := reg.RecordMessage(ctx, MessageInput{UserID: "u1", Session: sess, Query: "q", Response: "r", Flags: []string{"--verbose"}}); err != nil {
			t.Fatal(err)
		}
	}

	orphaned, err := reg.DeleteSession(ctx, "u1", "doomed")
	if err != nil {
		t.Fatal(err)
	}
	if orphaned != n {
		t.Errorf("expected %d orphaned, got %d", n, orphaned)
	}

	history, err := reg.History(ctx, "u1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != n {
		t.Fatalf("expected %d messages to survive, got %d", n, len(history))
	}
	for _, m := range history {
		if m.SessionID != "" {
			t.Errorf("expected orphaned message, got session %s", m.SessionID)
		}
		if m.FlagsUsed != "--verbose" {
			t.Errorf("expected flags preserved, got %q", m.FlagsUsed)
		}
	}

	sessions, _ := reg.ListSessions(ctx, "u1")
	if len(sessions) != 0 {
		t.Errorf("expected session removed, have %d", len(sessions))
	}

	if _, err := reg.DeleteSession(ctx, "u1", "doomed"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.History(ctx, "u1", "doomed", 0); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted session history, got %v", err)
	}
}

func TestRecordMessageWithoutSession(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.RecordMessage(ctx, MessageInput{UserID: "u1", Kind: types.MessageHost, Query: "uptime", Response: "up 3 days"})
	if err != nil {
		t.Fatal(err)
	}
	if m.SessionID != "" || m.FlagsUsed != "" {
		t.Errorf("unexpected message %+v", m)
	}
}
