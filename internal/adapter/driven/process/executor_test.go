//go:build !windows

package process_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shotrun/internal/adapter/driven/process"
	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

func newTestExecutor(t *testing.T) (*process.Executor, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer
	e := process.NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Stdin = strings.NewReader("")
	e.Stdout = &out
	e.Stderr = io.Discard
	return e, &out
}

func requireCommandError(t *testing.T, err error) *model.TestCommandError {
	t.Helper()

	var cmdErr *model.TestCommandError
	require.True(t, errors.As(err, &cmdErr), "expected *model.TestCommandError, got %T: %v", err, err)
	return cmdErr
}

func TestExecute_Success(t *testing.T) {
	e, out := newTestExecutor(t)

	err := e.Execute(context.Background(), "echo hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
}

func TestExecute_NonZeroExit(t *testing.T) {
	e, _ := newTestExecutor(t)

	err := e.Execute(context.Background(), "exit 3", nil)
	require.ErrorIs(t, err, model.ErrTestCommandFailed)

	cmdErr := requireCommandError(t, err)
	assert.Equal(t, model.ReasonExitCode, cmdErr.Reason)
	assert.Equal(t, 3, cmdErr.ExitCode)
}

func TestExecute_CommandNotFound(t *testing.T) {
	e, _ := newTestExecutor(t)

	err := e.Execute(context.Background(), "definitely-not-a-real-command-shotrun", nil)
	require.ErrorIs(t, err, model.ErrTestCommandFailed)
	assert.Equal(t, model.ReasonNotFound, requireCommandError(t, err).Reason)
}

func TestExecute_InjectsEnvironment(t *testing.T) {
	e, out := newTestExecutor(t)

	env := map[string]string{
		"SHOTRUN_BUILD_ID":   "build-42",
		"SHOTRUN_SERVER_URL": "http://127.0.0.1:1234",
	}
	err := e.Execute(context.Background(), `printf '%s %s' "$SHOTRUN_BUILD_ID" "$SHOTRUN_SERVER_URL"`, env)
	require.NoError(t, err)
	assert.Equal(t, "build-42 http://127.0.0.1:1234", out.String())
}

func TestExecute_OverridesInheritedEnvironment(t *testing.T) {
	t.Setenv("SHOTRUN_ENABLED", "true")
	e, out := newTestExecutor(t)

	err := e.Execute(context.Background(), `printf '%s' "$SHOTRUN_ENABLED"`, map[string]string{"SHOTRUN_ENABLED": "false"})
	require.NoError(t, err)
	assert.Equal(t, "false", out.String())
}

func TestExecute_ContextCancelKillsProcess(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	err := e.Execute(ctx, "sleep 30", nil)

	assert.Less(t, time.Since(start), 10*time.Second)
	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
	assert.Equal(t, model.ReasonCancelled, requireCommandError(t, err).Reason)
}

func TestExecute_TimeoutIsInterruption(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := e.Execute(ctx, "sleep 30", nil)
	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
	assert.Equal(t, model.ReasonTimeout, requireCommandError(t, err).Reason)
}

func TestExecute_KillsWholeProcessGroup(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	// The background sleep would keep running if only the shell were killed.
	err := e.Execute(ctx, "sleep 30 & sleep 30; wait", nil)

	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecute_Exit130IsInterruption(t *testing.T) {
	e, _ := newTestExecutor(t)

	// Shells report a child killed by SIGINT as exit status 130.
	err := e.Execute(context.Background(), "exit 130", nil)
	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
	assert.Equal(t, model.ReasonSignal, requireCommandError(t, err).Reason)
}

func TestExecute_AlreadyCancelledContext(t *testing.T) {
	e, out := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, "echo should-not-run", nil)
	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
	assert.Empty(t, out.String())
}

func TestExecute_SingleUse(t *testing.T) {
	e, _ := newTestExecutor(t)

	require.NoError(t, e.Execute(context.Background(), "true", nil))

	err := e.Execute(context.Background(), "true", nil)
	require.ErrorIs(t, err, model.ErrTestCommandFailed)
	assert.Equal(t, model.ReasonSpawn, requireCommandError(t, err).Reason)
}

func TestCancel_ExplicitCancelInterrupts(t *testing.T) {
	e, _ := newTestExecutor(t)

	time.AfterFunc(100*time.Millisecond, e.Cancel)

	err := e.Execute(context.Background(), "sleep 30", nil)
	require.ErrorIs(t, err, model.ErrTestCommandInterrupted)
}

func TestCancel_SafeBeforeAndAfterExecute(t *testing.T) {
	e, _ := newTestExecutor(t)

	assert.NotPanics(t, e.Cancel)
	require.NoError(t, e.Execute(context.Background(), "true", nil))
	assert.NotPanics(t, e.Cancel)
	assert.NotPanics(t, e.Cancel)
}
