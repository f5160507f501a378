package invoker

import (
	"context"
	"fmt"
	"sort"
)

// Agent is anything that can answer a Request.
type Agent interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Registry holds the configured agents by profile name.
type Registry struct {
	agents   map[string]Agent
	fallback string
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. The first registered agent becomes the default.
func (r *Registry) Register(a Agent) {
	if r.fallback == "" {
		r.fallback = a.Name()
	}
	r.agents[a.Name()] = a
}

// SetDefault selects the agent used for sessions with no agent recorded.
func (r *Registry) SetDefault(name string) error {
	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("unknown agent %q", name)
	}
	r.fallback = name
	return nil
}

// Default returns the default agent name.
func (r *Registry) Default() string { return r.fallback }

// Get returns an agent by name; an empty name selects the default.
func (r *Registry) Get(name string) (Agent, bool) {
	if name == "" {
		name = r.fallback
	}
	a, ok := r.agents[name]
	return a, ok
}

// Names returns the registered agent names sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FromProfiles builds invokers for every profile. newDocker is called for
// profiles using the docker runner.
func FromProfiles(profiles map[string]Profile, local Runner, newDocker func(Profile) (Runner, error)) (*Registry, error) {
	reg := NewRegistry()
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := profiles[name]
		p.Name = name
		runner := local
		if p.Runner == "docker" {
			if newDocker == nil {
				return nil, fmt.Errorf("agent %q: docker runner not available", name)
			}
			r, err := newDocker(p)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", name, err)
			}
			runner = r
		}
		inv, err := New(p, runner)
		if err != nil {
			return nil, err
		}
		reg.Register(inv)
	}
	return reg, nil
}
