// internal/state/journal_test.go
package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/agentconsole/internal/types"
)

func TestHostJournal(t *testing.T) {
	dir := t.TempDir()
	journal := NewHostJournal(dir)
	ctx := context.Background()

	entry := &types.HostAuditEntry{
		UserID:  "42",
		Command: "df",
		Args:    []string{"-h"},
		Allowed: true,
		Tier:    "host",
		At:      time.Now(),
	}
	if err := journal.Append(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if entry.Seq != 1 {
		t.Errorf("expected seq 1, got %d", entry.Seq)
	}

	denied := &types.HostAuditEntry{UserID: "42", Command: "rm", At: time.Now()}
	if err := journal.Append(ctx, denied); err != nil {
		t.Fatal(err)
	}

	entries, err := journal.Tail(ctx, "42", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Command != "df" || entries[1].Seq != 2 || entries[1].Allowed {
		t.Errorf("unexpected entries: %+v %+v", entries[0], entries[1])
	}

	last, err := journal.Tail(ctx, "42", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Command != "rm" {
		t.Errorf("expected only the rm entry, got %+v", last)
	}
}

func TestHostJournalEmpty(t *testing.T) {
	journal := NewHostJournal(t.TempDir())
	entries, err := journal.Tail(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestHostJournalConcurrentAppend(t *testing.T) {
	journal := NewHostJournal(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := journal.Append(ctx, &types.HostAuditEntry{UserID: "7", Command: "uptime"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	entries, err := journal.Tail(ctx, "7", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Errorf("entry %d has seq %d", i, e.Seq)
		}
	}
}

func TestHostJournalUsersWithSeparatorsStayApart(t *testing.T) {
	journal := NewHostJournal(t.TempDir())
	ctx := context.Background()

	for _, user := range []types.UserID{"a/123", "123", "../123"} {
		if err := journal.Append(ctx, &types.HostAuditEntry{UserID: user, Command: "uptime", At: time.Now()}); err != nil {
			t.Fatalf("append for %q: %v", user, err)
		}
	}
	for _, user := range []types.UserID{"a/123", "123", "../123"} {
		entries, err := journal.Tail(ctx, user, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].UserID != user {
			t.Errorf("user %q: expected its own single entry, got %+v", user, entries)
		}
	}
}
