package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/agentconsole/internal/types"
)

func TestRunSimple(t *testing.T) {
	res, err := Run(context.Background(), []string{"echo", "hello"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("expected 'hello', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.ExitCode)
	}
}

func TestRunNoShellInterpretation(t *testing.T) {
	res, err := Run(context.Background(), []string{"echo", "$(id)", ";", "rm", "-rf", "/"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "$(id) ; rm -rf /" {
		t.Errorf("arguments were interpreted: %q", res.Stdout)
	}
}

func TestRunSeparateStreams(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "out" || strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("unexpected streams: stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestRunMerged(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, Options{Merge: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "out\nerr\n" {
		t.Errorf("expected merged output in order, got %q", res.Stdout)
	}
	if res.Stderr != "" {
		t.Errorf("expected empty stderr when merged, got %q", res.Stderr)
	}
}

func TestRunExitCode(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "exit 3"}, Options{})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	start := time.Now()
	res, err := Run(context.Background(), []string{"sh", "-c", "sleep 10 & sleep 10"}, Options{Timeout: 200 * time.Millisecond})
	if !errors.Is(err, types.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if res == nil || !res.TimedOut {
		t.Fatalf("expected timed out result, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), []string{"definitely-not-a-real-binary-xyz"}, Options{})
	if !errors.Is(err, types.ErrToolUnavailable) {
		t.Errorf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestRunEmptyArgv(t *testing.T) {
	if _, err := Run(context.Background(), nil, Options{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRunTruncates(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "printf 'abcdefghij'"}, Options{MaxOutputBytes: 4})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "abcd" || !res.Truncated {
		t.Errorf("expected truncated 'abcd', got %q truncated=%v", res.Stdout, res.Truncated)
	}
}

func TestRunStdinAndEnv(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", `read line; echo "$line $GREETING"`}, Options{
		Stdin: "hi\n",
		Env:   []string{"GREETING=there"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hi there" {
		t.Errorf("got %q", res.Stdout)
	}
}

func TestRunParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, []string{"sleep", "5"}, Options{Timeout: 10 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
