// Package state provides durable storage: the SQLite session and message
// store and the filesystem audit journal.
package state

import "github.com/user/agentconsole/internal/types"

// Compile-time interface compliance checks.
var _ types.Store = (*SQLStore)(nil)
