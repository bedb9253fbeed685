package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the domain, application and adapter layers.
var (
	ErrInvalidTransition = errors.New("invalid build transition")
	ErrBuildNotFound     = errors.New("build not found")
	ErrBuildClosed       = errors.New("build is closed")
	ErrInvalidScreenshot = errors.New("invalid screenshot")
	ErrNoActiveBuild     = errors.New("no active build")

	ErrPortInUse      = errors.New("port in use")
	ErrAlreadyStarted = errors.New("server already started")

	ErrTestCommandFailed      = errors.New("test command failed")
	ErrTestCommandInterrupted = errors.New("test command interrupted")

	ErrTokenRequired = errors.New("api token required")
)

// ValidationError reports invalid run options before any resource is acquired.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid run options: " + strings.Join(e.Problems, "; ")
}

// TestCommandReason refines why a test command did not succeed.
type TestCommandReason string

const (
	ReasonExitCode  TestCommandReason = "exit-code"
	ReasonSpawn     TestCommandReason = "spawn"
	ReasonNotFound  TestCommandReason = "not-found"
	ReasonSignal    TestCommandReason = "signal"
	ReasonCancelled TestCommandReason = "cancelled" //nolint:misspell // Consistent with BuildStatusCancelled.
	ReasonTimeout   TestCommandReason = "timeout"
)

// TestCommandError is returned by the process executor when the command did
// not exit cleanly. Kind is ErrTestCommandFailed or ErrTestCommandInterrupted
// and is matched by errors.Is.
type TestCommandError struct {
	Kind     error
	Reason   TestCommandReason
	ExitCode int
	Err      error
}

func (e *TestCommandError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	switch e.Reason {
	case ReasonExitCode:
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	case "":
	default:
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is matches the error kind so callers can use errors.Is(err, ErrTestCommandFailed).
func (e *TestCommandError) Is(target error) bool {
	return target == e.Kind
}

func (e *TestCommandError) Unwrap() error {
	return e.Err
}

// IsInterrupted reports whether err reflects operator cancellation or timeout
// rather than a failing test command.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrTestCommandInterrupted)
}

// ErrUploadFailed wraps remote screenshot upload failures so adapters can
// distinguish them from local validation problems.
var ErrUploadFailed = errors.New("screenshot upload failed")
