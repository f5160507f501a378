package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/agentconsole/internal/config"
	"github.com/user/agentconsole/internal/console"
	"github.com/user/agentconsole/internal/directive"
	"github.com/user/agentconsole/internal/invoker"
	"github.com/user/agentconsole/internal/registry"
	"github.com/user/agentconsole/internal/sandbox"
	"github.com/user/agentconsole/internal/state"
)

// app holds the components shared by the daemon and the operator commands.
type app struct {
	cfg      *config.Config
	store    *state.SQLStore
	registry *registry.Registry
	agents   *invoker.Registry
	sandbox  *sandbox.Sandbox
	journal  *state.HostJournal
	machine  *console.Machine
}

func openApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := state.OpenSQLite(cfg.Database())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		registry: registry.New(store, cfg.DefaultAgent),
		journal:  state.NewHostJournal(cfg.DataDir),
	}

	a.agents, err = invoker.FromProfiles(cfg.Agents, invoker.LocalRunner{MaxOutputBytes: cfg.Host.MaxOutputBytes},
		func(p invoker.Profile) (invoker.Runner, error) {
			r, err := invoker.NewDockerRunner(p.Container, cfg.Host.MaxOutputBytes)
			if err != nil {
				return nil, err
			}
			return r, nil
		})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := a.agents.SetDefault(cfg.DefaultAgent); err != nil {
		store.Close()
		return nil, err
	}

	a.sandbox, err = newSandbox(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := console.Options{
		MaxReplyChars:  cfg.Console.MaxReplyChars,
		RecordFailures: cfg.Console.RecordFailures,
		Audit:          a.journal,
	}
	if cfg.Host.Enabled {
		opts.Host = a.sandbox
	}
	parser := directive.New(cfg.Console.FlagMarker, cfg.Console.HostPrefixes)
	a.machine = console.New(a.registry, a.agents, parser, opts)
	return a, nil
}

func newSandbox(cfg *config.Config) (*sandbox.Sandbox, error) {
	allow := sandbox.DefaultAllowList()
	if len(cfg.Host.AllowList) > 0 {
		allow = make(map[sandbox.Category][]string, len(cfg.Host.AllowList))
		for cat, cmds := range cfg.Host.AllowList {
			allow[sandbox.Category(cat)] = cmds
		}
	}
	policy, err := sandbox.NewPolicy(allow)
	if err != nil {
		return nil, fmt.Errorf("host allow list: %w", err)
	}
	return sandbox.New(policy, sandbox.ProcessSpawner{MaxOutputBytes: cfg.Host.MaxOutputBytes}, sandbox.Config{
		NSEnter:   cfg.Host.NSEnter,
		AnchorPID: cfg.Host.AnchorPID,
		Timeout:   time.Duration(cfg.Host.TimeoutSeconds) * time.Second,
		ProbeTTL:  cfg.ProbeTTL(),
		ForceTier: sandbox.Tier(cfg.Host.ForceTier),
	})
}

func (a *app) Close() error {
	return a.store.Close()
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "agentconsole.pid")
}
