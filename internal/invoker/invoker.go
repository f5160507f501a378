// Package invoker runs one external CLI-agent process per query and extracts
// the agent's resume handle from its structured output.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/agentconsole/internal/types"
)

// Request is one query for the agent. An empty Handle starts a fresh conversation.
type Request struct {
	Query  string
	Handle string
	Flags  []string
}

// Result is what the agent returned.
type Result struct {
	Response string
	// Handle is the handle reported by the agent, if any.
	Handle string
	Fresh  bool
	// Rotated is set when a resumed call reported a handle different from the one passed.
	Rotated  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Invoker calls one agent profile through a Runner. It never touches storage.
type Invoker struct {
	profile Profile
	runner  Runner
}

// New creates an Invoker for profile using runner.
func New(profile Profile, runner Runner) (*Invoker, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		runner = LocalRunner{}
	}
	return &Invoker{profile: profile, runner: runner}, nil
}

// Name returns the agent profile name.
func (inv *Invoker) Name() string { return inv.profile.Name }

// Invoke runs the agent once.
//
// Errors: types.ErrToolUnavailable when the agent cannot be started,
// types.ErrToolExecutionFailed on a non-zero exit (the Result carries stderr),
// types.ErrTimedOut on deadline, and types.ErrHandleNotFound when a fresh call
// produced no handle. The Result is non-nil for the last two so the response
// can still be shown.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	fresh := req.Handle == ""
	argv := inv.profile.Argv(req.Query, req.Handle, req.Flags)

	slog.Debug("invoking agent", "agent", inv.profile.Name, "fresh", fresh, "flags", len(req.Flags))

	out, err := inv.runner.Run(ctx, RunSpec{
		Argv:    argv,
		Env:     inv.profile.Env,
		Dir:     inv.profile.WorkDir,
		User:    inv.profile.User,
		Timeout: inv.profile.timeout(),
	})
	if out == nil {
		if err == nil {
			err = fmt.Errorf("%w: runner returned no result", types.ErrToolUnavailable)
		}
		return nil, err
	}

	res := &Result{
		Fresh:    fresh,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: out.Duration,
		Response: strings.TrimSpace(out.Stdout),
	}
	if err != nil {
		if errors.Is(err, types.ErrTimedOut) {
			return res, err
		}
		return nil, err
	}

	switch code := out.ExitCode; {
	case code == 126 || code == 127:
		return nil, fmt.Errorf("%w: %s exited %d: %s", types.ErrToolUnavailable, inv.profile.Binary, code, firstLine(out.Stderr))
	case code != 0:
		return res, fmt.Errorf("%w: %s exited %d", types.ErrToolExecutionFailed, inv.profile.Binary, code)
	}

	if !inv.profile.structured(!fresh) {
		return res, nil
	}

	obj := parseStructured(out.Stdout, inv.profile.handleFields())
	if obj != nil {
		if text, ok := stringField(obj, inv.profile.responseFields()); ok {
			res.Response = text
		}
		if isError, _ := obj["is_error"].(bool); isError {
			return res, fmt.Errorf("%w: agent reported an error", types.ErrToolExecutionFailed)
		}
		if handle, ok := stringField(obj, inv.profile.handleFields()); ok {
			res.Handle = handle
		}
	}

	if fresh && res.Handle == "" {
		return res, fmt.Errorf("%s: %w", inv.profile.Binary, types.ErrHandleNotFound)
	}
	if !fresh && res.Handle != "" && res.Handle != req.Handle {
		res.Rotated = true
	}
	return res, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
