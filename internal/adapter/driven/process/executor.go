// Package process implements the ProcessExecutor port by running the test
// command through the system shell.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProcessExecutor = (*Executor)(nil)

const (
	exitCommandNotFound = 127
	exitInterrupted     = 130 // 128 + SIGINT, reported by shells for interrupted children.

	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the shell itself has exited.
	waitDelay = 2 * time.Second
)

// Executor runs one test command in its own process group so cancellation
// reaches every process the command spawned.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Dir    string

	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	finished  bool
	cancelled bool
}

// NewExecutor creates an Executor that inherits the parent's standard streams.
func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger,
	}
}

// Execute runs command via the shell and blocks until it exits or ctx is
// cancelled. Cancellation kills the whole process group.
func (e *Executor) Execute(ctx context.Context, command string, env map[string]string) error {
	cmd := exec.Command(shell(), shellFlag(), command)
	cmd.Dir = e.Dir
	cmd.Stdin = e.Stdin
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.WaitDelay = waitDelay
	restoreTerminal := setProcessGroup(cmd, e.Stdin)

	e.mu.Lock()
	if e.cmd != nil {
		e.mu.Unlock()
		return &model.TestCommandError{
			Kind:   model.ErrTestCommandFailed,
			Reason: model.ReasonSpawn,
			Err:    errors.New("executor already used"),
		}
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return interruptedError(ctx)
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		e.reclaimTerminal(restoreTerminal)
		return &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonSpawn, Err: err}
	}
	e.cmd = cmd
	e.mu.Unlock()

	e.logger.Debug("test command started", "pid", cmd.Process.Pid, "command", command)

	stopWatch := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			e.Cancel()
		case <-stopWatch:
		}
	}()

	waitErr := cmd.Wait()
	close(stopWatch)
	<-watchDone
	e.reclaimTerminal(restoreTerminal)

	e.mu.Lock()
	e.finished = true
	cancelled := e.cancelled
	e.mu.Unlock()

	if waitErr != nil && (ctx.Err() != nil || cancelled) {
		return interruptedError(ctx)
	}
	return classify(waitErr)
}

// Cancel forcibly kills the process group. It is a no-op before Execute has
// started the command and after it has exited.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || e.cmd.Process == nil || e.finished {
		return
	}
	e.cancelled = true
	if err := killProcessGroup(e.cmd.Process); err != nil {
		e.logger.Debug("kill test command", "pid", e.cmd.Process.Pid, "error", err)
	}
}

func (e *Executor) reclaimTerminal(restore func() error) {
	if err := restore(); err != nil {
		e.logger.Warn("could not restore terminal foreground group", "error", err)
	}
}

// classify maps the result of Wait onto the test command error taxonomy.
func classify(waitErr error) error {
	if waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonSpawn, Err: waitErr}
	}

	if interruptedBySignal(exitErr) {
		return &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: model.ReasonSignal, ExitCode: exitErr.ExitCode()}
	}

	code := exitErr.ExitCode()
	switch code {
	case exitInterrupted:
		return &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: model.ReasonSignal, ExitCode: code}
	case exitCommandNotFound:
		return &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonNotFound, ExitCode: code}
	default:
		return &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonExitCode, ExitCode: code}
	}
}

func interruptedError(ctx context.Context) error {
	reason := model.ReasonCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = model.ReasonTimeout
	}
	return &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: reason, ExitCode: -1, Err: context.Cause(ctx)}
}

// mergeEnv appends overrides to base. Keys are sorted so the resulting
// environment is deterministic; later entries win for duplicate keys.
func mergeEnv(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}
