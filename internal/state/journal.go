// internal/state/journal.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/agentconsole/internal/types"
)

// HostJournal is a JSONL-backed append-only log of host directives.
// Entries are stored per-user in audit/<escaped userID>.jsonl.
type HostJournal struct {
	root  string
	mu    sync.Mutex
	locks map[types.UserID]*sync.Mutex
}

// NewHostJournal creates a journal rooted at the given directory.
func NewHostJournal(root string) *HostJournal {
	return &HostJournal{
		root:  root,
		locks: make(map[types.UserID]*sync.Mutex),
	}
}

func (j *HostJournal) getLock(user types.UserID) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()

	if lock, ok := j.locks[user]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	j.locks[user] = lock
	return lock
}

func (j *HostJournal) path(user types.UserID) string {
	return filepath.Join(j.root, "audit", url.PathEscape(string(user))+".jsonl")
}

// read returns every entry for the user. Caller must hold the user lock.
func (j *HostJournal) read(user types.UserID) ([]*types.HostAuditEntry, error) {
	f, err := os.Open(j.path(user))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []*types.HostAuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry types.HostAuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal journal entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return entries, nil
}

// Append writes the entry with the next sequence number for its user.
func (j *HostJournal) Append(_ context.Context, entry *types.HostAuditEntry) error {
	lock := j.getLock(entry.UserID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path(entry.UserID)), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	existing, err := j.read(entry.UserID)
	if err != nil {
		return err
	}
	entry.Seq = int64(len(existing)) + 1

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	f, err := os.OpenFile(j.path(entry.UserID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// Tail returns the last limit entries for the user.
func (j *HostJournal) Tail(_ context.Context, user types.UserID, limit int) ([]*types.HostAuditEntry, error) {
	lock := j.getLock(user)
	lock.Lock()
	defer lock.Unlock()

	entries, err := j.read(user)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
