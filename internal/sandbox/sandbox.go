// Package sandbox runs allow-listed, read-only commands against the host's
// namespaces from inside a container, degrading to narrower tiers when the
// process lacks the privilege to enter them.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/user/agentconsole/internal/runtime"
	"github.com/user/agentconsole/internal/types"
)

// Tier is the execution context a command actually ran in.
type Tier string

const (
	// TierHost joins the host's mount, UTS, network and PID namespaces.
	TierHost Tier = "host"
	// TierNetwork joins only the host's network namespace.
	TierNetwork Tier = "network"
	// TierLocal runs in this process's own namespaces.
	TierLocal Tier = "local"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultProbeTTL = 5 * time.Minute
	probeTimeout    = 5 * time.Second
)

// Spawner starts a process. It is the only way the sandbox executes anything.
type Spawner interface {
	Spawn(ctx context.Context, argv []string, timeout time.Duration) (*runtime.Result, error)
}

// ProcessSpawner spawns real processes with stdout and stderr merged.
type ProcessSpawner struct {
	MaxOutputBytes int64
}

func (p ProcessSpawner) Spawn(ctx context.Context, argv []string, timeout time.Duration) (*runtime.Result, error) {
	return runtime.Run(ctx, argv, runtime.Options{Merge: true, Timeout: timeout, MaxOutputBytes: p.MaxOutputBytes})
}

type Config struct {
	// NSEnter is the namespace entry binary.
	NSEnter string
	// AnchorPID is the host process whose namespaces are joined.
	AnchorPID int
	Timeout   time.Duration
	ProbeTTL  time.Duration
	// ForceTier skips probing when set.
	ForceTier Tier
}

// Result is the outcome of one host command. Output holds stdout and stderr
// merged in arrival order.
type Result struct {
	Command    string
	Args       []string
	Category   Category
	Tier       Tier
	HostScoped bool
	Output     string
	ExitCode   int
	Truncated  bool
	Duration   time.Duration
}

// Sandbox is safe for concurrent use.
type Sandbox struct {
	policy  *Policy
	spawner Spawner
	cfg     Config

	mu     sync.Mutex
	tier   Tier
	probed time.Time
	now    func() time.Time
}

// New creates a Sandbox. A nil spawner uses ProcessSpawner.
func New(policy *Policy, spawner Spawner, cfg Config) (*Sandbox, error) {
	if policy == nil {
		return nil, errors.New("sandbox: policy is required")
	}
	if spawner == nil {
		spawner = ProcessSpawner{}
	}
	if cfg.NSEnter == "" {
		cfg.NSEnter = "nsenter"
	}
	if cfg.AnchorPID <= 0 {
		cfg.AnchorPID = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeTTL <= 0 {
		cfg.ProbeTTL = DefaultProbeTTL
	}
	switch cfg.ForceTier {
	case "", TierHost, TierNetwork, TierLocal:
	default:
		return nil, fmt.Errorf("sandbox: unknown tier %q", cfg.ForceTier)
	}
	return &Sandbox{policy: policy, spawner: spawner, cfg: cfg, now: time.Now}, nil
}

// Policy returns the sandbox's allow-list policy.
func (s *Sandbox) Policy() *Policy { return s.policy }

// Execute runs command with args on the best available tier.
//
// Disallowed commands return types.ErrCommandNotAllowed before anything is
// spawned, including tier probes. A command still running at the timeout is
// killed and types.ErrTimedOut is returned with the partial Result. A missing
// binary yields types.ErrToolUnavailable. Non-zero exits are normal results.
func (s *Sandbox) Execute(ctx context.Context, command string, args []string) (*Result, error) {
	cat, err := s.policy.Check(command, args)
	if err != nil {
		slog.Info("host command rejected", "command", command, "error", err)
		return nil, err
	}

	tier := s.Tier(ctx)
	argv := s.argv(tier, command, args)

	out, err := s.spawner.Spawn(ctx, argv, s.cfg.Timeout)
	if out == nil {
		if err == nil {
			err = fmt.Errorf("%w: spawner returned no result", types.ErrToolUnavailable)
		}
		return nil, err
	}

	res := &Result{
		Command:    command,
		Args:       args,
		Category:   cat,
		Tier:       tier,
		HostScoped: tier == TierHost || (tier == TierNetwork && cat == CategoryNetwork),
		Output:     out.Stdout,
		ExitCode:   out.ExitCode,
		Truncated:  out.Truncated,
		Duration:   out.Duration,
	}
	if err != nil {
		if errors.Is(err, types.ErrTimedOut) {
			return res, err
		}
		return nil, err
	}
	// nsenter and env report an unexecutable or missing command with 126/127.
	if tier != TierLocal && (out.ExitCode == 126 || out.ExitCode == 127) {
		return nil, fmt.Errorf("%w: %s not runnable on %s tier", types.ErrToolUnavailable, command, tier)
	}

	slog.Debug("host command finished", "command", command, "tier", string(tier), "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

// Tier returns the execution tier, probing when the cached answer is stale.
func (s *Sandbox) Tier(ctx context.Context) Tier {
	if s.cfg.ForceTier != "" {
		return s.cfg.ForceTier
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier != "" && s.now().Sub(s.probed) < s.cfg.ProbeTTL {
		return s.tier
	}
	tier := s.probe(ctx)
	if ctx.Err() != nil {
		return tier
	}
	s.tier, s.probed = tier, s.now()
	return tier
}

// Reprobe discards the cached tier and probes again.
func (s *Sandbox) Reprobe(ctx context.Context) Tier {
	s.mu.Lock()
	s.tier = ""
	s.mu.Unlock()
	return s.Tier(ctx)
}

// probe runs "true" through each tier, widest first.
func (s *Sandbox) probe(ctx context.Context) Tier {
	for _, tier := range []Tier{TierHost, TierNetwork} {
		out, err := s.spawner.Spawn(ctx, s.argv(tier, "true", nil), probeTimeout)
		if err == nil && out != nil && out.ExitCode == 0 {
			slog.Info("host sandbox tier selected", "tier", string(tier))
			return tier
		}
		reason := "exit " + strconv.Itoa(exitCode(out))
		if err != nil {
			reason = err.Error()
		}
		slog.Info("host sandbox tier unavailable", "tier", string(tier), "reason", reason)
	}
	slog.Warn("host namespaces unavailable, commands will run locally")
	return TierLocal
}

func exitCode(r *runtime.Result) int {
	if r == nil {
		return -1
	}
	return r.ExitCode
}

func (s *Sandbox) argv(tier Tier, command string, args []string) []string {
	var argv []string
	pid := strconv.Itoa(s.cfg.AnchorPID)
	switch tier {
	case TierHost:
		argv = []string{s.cfg.NSEnter, "-t", pid, "-m", "-u", "-n", "-p", "--", command}
	case TierNetwork:
		argv = []string{s.cfg.NSEnter, "-t", pid, "-n", "--", command}
	default:
		argv = []string{command}
	}
	return append(argv, args...)
}
