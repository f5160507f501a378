// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidName and ErrDuplicateName satisfy errors.Is(err, ErrInvalidInput).
	ErrInvalidName   = fmt.Errorf("%w: invalid session name", ErrInvalidInput)
	ErrDuplicateName = fmt.Errorf("%w: duplicate session name", ErrInvalidInput)

	ErrNotFound            = errors.New("not found")
	ErrCommandNotAllowed   = errors.New("command not allowed")
	ErrToolUnavailable     = errors.New("tool unavailable")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrTimedOut            = errors.New("timed out")
	ErrHandleNotFound      = errors.New("resume handle not found in output")
	ErrHandleStale         = errors.New("resume handle changed")
	ErrStorage             = errors.New("storage failure")
)
