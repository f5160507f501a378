package invoker

import (
	"context"
	"time"

	"github.com/user/agentconsole/internal/runtime"
)

// RunSpec is one process invocation handed to a Runner.
type RunSpec struct {
	Argv    []string
	Env     []string
	Dir     string
	User    string
	Timeout time.Duration
}

// Runner executes an agent process and returns its captured output.
// Implementations return types.ErrToolUnavailable when the process cannot be
// started and types.ErrTimedOut when it outlives spec.Timeout.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*runtime.Result, error)
}

// LocalRunner spawns the agent binary on this machine.
type LocalRunner struct {
	MaxOutputBytes int64
}

func (l LocalRunner) Run(ctx context.Context, spec RunSpec) (*runtime.Result, error) {
	return runtime.Run(ctx, spec.Argv, runtime.Options{
		Dir:            spec.Dir,
		Env:            spec.Env,
		Timeout:        spec.Timeout,
		MaxOutputBytes: l.MaxOutputBytes,
	})
}
