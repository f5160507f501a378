package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/user/agentconsole/internal/runtime"
	"github.com/user/agentconsole/internal/types"
)

// killGrace is how long the in-container timeout wrapper waits before SIGKILL.
const killGrace = 5

// execOutput is what one docker exec produced.
type execOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// execBackend runs a command inside a container and waits for it.
type execBackend interface {
	Exec(ctx context.Context, containerID string, opts container.ExecOptions) (*execOutput, error)
}

// DockerRunner runs the agent inside an already running container via docker exec.
// The command is wrapped in timeout(1) so the process dies in the container
// even when the exec stream is abandoned.
type DockerRunner struct {
	Container      string
	backend        execBackend
	maxOutputBytes int64
}

// NewDockerRunner connects to the Docker daemon from the environment.
func NewDockerRunner(containerID string, maxOutputBytes int64) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{
		Container:      containerID,
		backend:        &dockerBackend{cli: cli},
		maxOutputBytes: maxOutputBytes,
	}, nil
}

func (d *DockerRunner) Run(ctx context.Context, spec RunSpec) (*runtime.Result, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", types.ErrInvalidInput)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = runtime.DefaultTimeout
	}
	secs := int((timeout + time.Second - 1) / time.Second)

	cmd := append([]string{"timeout", "-k", strconv.Itoa(killGrace), strconv.Itoa(secs)}, spec.Argv...)
	opts := container.ExecOptions{
		Cmd:          cmd,
		Env:          spec.Env,
		User:         spec.User,
		WorkingDir:   spec.Dir,
		AttachStdout: true,
		AttachStderr: true,
	}

	// The wrapper kills the process first; the extra grace covers the stream.
	execCtx, cancel := context.WithTimeout(ctx, timeout+time.Duration(killGrace+5)*time.Second)
	defer cancel()

	start := time.Now()
	out, err := d.backend.Exec(execCtx, d.Container, opts)
	if err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
			return nil, fmt.Errorf("%w: container %s: %v", types.ErrToolUnavailable, d.Container, err)
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &runtime.Result{ExitCode: -1, Duration: time.Since(start), TimedOut: true},
				fmt.Errorf("%s in %s: %w", spec.Argv[0], d.Container, types.ErrTimedOut)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: docker exec: %v", types.ErrToolUnavailable, err)
	}

	stdout, truncOut := capBytes(out.Stdout, d.maxOutputBytes)
	stderr, truncErr := capBytes(out.Stderr, d.maxOutputBytes)
	res := &runtime.Result{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  out.ExitCode,
		Duration:  time.Since(start),
		Truncated: truncOut || truncErr,
	}
	// 124 is timeout(1) reporting that it had to stop the command.
	if out.ExitCode == 124 {
		res.TimedOut = true
		return res, fmt.Errorf("%s in %s after %s: %w", spec.Argv[0], d.Container, timeout, types.ErrTimedOut)
	}
	return res, nil
}

func capBytes(b []byte, max int64) (string, bool) {
	if max <= 0 {
		max = runtime.DefaultMaxOutputBytes
	}
	if int64(len(b)) > max {
		return string(b[:max]), true
	}
	return string(b), false
}

type dockerBackend struct {
	cli *client.Client
}

func (b *dockerBackend) Exec(ctx context.Context, containerID string, opts container.ExecOptions) (*execOutput, error) {
	resp, err := b.cli.ContainerExecCreate(ctx, containerID, opts)
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := b.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		attach.Close()
		<-copied
		return nil, ctx.Err()
	}

	inspect, err := b.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	slog.Debug("docker exec finished", "container_id", containerID, "exec_id", resp.ID, "exit_code", inspect.ExitCode)
	return &execOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: inspect.ExitCode}, nil
}
