// Package runtime runs external processes from an argument vector with a
// deadline, capped output and process-group termination.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/user/agentconsole/internal/types"
)

const (
	DefaultTimeout        = 120 * time.Second
	DefaultMaxOutputBytes = 1 << 20
	waitDelay             = 2 * time.Second
)

// Options controls one process run.
type Options struct {
	Dir   string
	Env   []string // appended to the current environment
	Stdin string
	// Merge writes stdout and stderr into one stream in arrival order.
	Merge          bool
	Timeout        time.Duration
	MaxOutputBytes int64
}

// Result is the outcome of a process run. With Merge set only Stdout is populated.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
	TimedOut  bool
}

// Run executes argv[0] with argv[1:] without a shell.
//
// A process that cannot be started yields types.ErrToolUnavailable. A run that
// outlives its timeout is killed with its process group and yields
// types.ErrTimedOut together with the partial Result. A non-zero exit is not
// an error.
func Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("%w: empty command", types.ErrInvalidInput)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderr := stdout
	if !opts.Merge {
		stderr = &limitedWriter{w: &stderrBuf, max: maxOutput}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", types.ErrToolUnavailable, argv[0], err)
	}
	err := cmd.Wait()

	result := &Result{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		ExitCode:  -1,
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		return result, fmt.Errorf("%s after %s: %w", argv[0], timeout, types.ErrTimedOut)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("wait %s: %w", argv[0], err)
		}
	}
	return result, nil
}

// limitedWriter keeps the first max bytes and discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	if err != nil {
		return written, err
	}
	return n, nil
}
