// Package delivery routes replies back to the transport that owns a reply key.
package delivery

import (
	"fmt"
	"sync"

	"github.com/user/agentconsole/internal/types"
)

// Handler delivers a reply to the conversation identified by key.
type Handler func(key types.ReplyKey, reply types.Reply) error

// Registry routes replies by the transport prefix of their key
// (e.g. "telegram" for "telegram:42").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a transport, replacing any previous one.
func (r *Registry) Register(transport string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[transport] = handler
}

// Deliver finds the handler for the key's transport and calls it.
func (r *Registry) Deliver(key types.ReplyKey, reply types.Reply) error {
	r.mu.RLock()
	handler, ok := r.handlers[key.Transport()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no delivery handler for reply key: %s", key)
	}
	return handler(key, reply)
}
