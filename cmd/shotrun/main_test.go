package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

var configKeys = []string{
	"SHOTRUN_API_TOKEN", "SHOTRUN_API_URL", "SHOTRUN_PORT", "SHOTRUN_TIMEOUT",
	"SHOTRUN_BUILD_NAME", "SHOTRUN_BRANCH", "SHOTRUN_COMMIT", "SHOTRUN_ENVIRONMENT",
	"SHOTRUN_ALLOW_NO_TOKEN", "SHOTRUN_WAIT", "SHOTRUN_WAIT_TIMEOUT", "SHOTRUN_SET_BASELINE",
	"SHOTRUN_LOCAL", "SHOTRUN_SCREENSHOT_DIR", "SHOTRUN_DB_PATH", "SHOTRUN_MAX_UPLOAD_BYTES",
	"SHOTRUN_GITHUB_TOKEN", "SHOTRUN_GITHUB_REPO", "SHOTRUN_LOG_LEVEL", "SHOTRUN_LOG_FORMAT",
	"GITHUB_HEAD_REF", "GITHUB_REF_NAME", "GITHUB_SHA", "GITHUB_REPOSITORY",
	"CI_COMMIT_REF_NAME", "CI_COMMIT_SHA",
}

// cliEnv blanks every config variable and points storage at a temp dir.
func cliEnv(t *testing.T) string {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Setenv("SHOTRUN_SCREENSHOT_DIR", filepath.Join(dir, "screenshots"))
	t.Setenv("SHOTRUN_DB_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("SHOTRUN_LOG_LEVEL", "error")
	return dir
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	err := newApp(ctx, &stdout, &stderr).Run(append([]string{"shotrun"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"command exit code", &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonExitCode, ExitCode: 3}, 3},
		{"command not found", &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonNotFound, ExitCode: 127}, 127},
		{"out of range code", &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonExitCode, ExitCode: 300}, exitFailure},
		{"interrupted", &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: model.ReasonTimeout}, exitInterrupted},
		{"wrapped command error", fmt.Errorf("run: %w", &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonExitCode, ExitCode: 2}), 2},
		{"comparisons failed", errComparisonsFailed, exitFailure},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestCommandFromArgs(t *testing.T) {
	assert.Equal(t, "npm test", commandFromArgs([]string{"--", "npm test"}), "single argument is a shell command")
	assert.Equal(t, "npm test", commandFromArgs([]string{"--", "npm", "test"}))
	assert.Empty(t, commandFromArgs([]string{"--"}))
	assert.Empty(t, commandFromArgs(nil))

	argvs := [][]string{
		{"go", "test", "./...", "-run", "Foo"},
		{"npx", "playwright", "test", "--grep", "login page"},
		{"printf", `[%s]\n`, "it's $HOME; `x` *"},
	}
	for _, argv := range argvs {
		got, err := shellquote.Split(commandFromArgs(argv))
		require.NoError(t, err)
		assert.Equal(t, argv, got)
	}
}

func TestCommandFromArgs_ShellSeesOriginalArgv(t *testing.T) {
	command := commandFromArgs([]string{"--", "printf", `[%s]\n`, "login page", "it's"})

	out, err := exec.Command("sh", "-c", command).Output()
	require.NoError(t, err)
	assert.Equal(t, "[login page]\n[it's]\n", string(out))
}

func TestPrintSummary(t *testing.T) {
	t.Run("passed with comparisons", func(t *testing.T) {
		var buf bytes.Buffer
		printSummary(&buf, &model.RunResult{
			BuildID:             "b-1",
			BuildURL:            "https://example.test/builds/b-1",
			Status:              model.BuildStatusCompleted,
			ScreenshotsCaptured: 2,
			Comparisons:         &model.ComparisonSummary{Total: 2, Passed: 1, Failed: 1},
		}, nil)

		out := buf.String()
		assert.Contains(t, out, "Tests passed")
		assert.Contains(t, out, "Build:       b-1 (completed)")
		assert.Contains(t, out, "URL:         https://example.test/builds/b-1")
		assert.Contains(t, out, "Screenshots: 2")
		assert.Contains(t, out, "Comparisons: 2 total, 1 passed, 1 failed, 0 new")
	})

	t.Run("disabled", func(t *testing.T) {
		var buf bytes.Buffer
		err := &model.TestCommandError{Kind: model.ErrTestCommandFailed, Reason: model.ReasonExitCode, ExitCode: 1}
		printSummary(&buf, &model.RunResult{}, err)

		out := buf.String()
		assert.Contains(t, out, "Tests failed")
		assert.Contains(t, out, "intake was disabled")
		assert.NotContains(t, out, "Build:")
	})

	t.Run("interrupted", func(t *testing.T) {
		var buf bytes.Buffer
		err := &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: model.ReasonSignal}
		printSummary(&buf, &model.RunResult{BuildID: "b-2", Status: model.BuildStatusCancelled}, err)
		assert.Contains(t, buf.String(), "Tests interrupted")
	})
}

func TestReporter(t *testing.T) {
	var buf bytes.Buffer
	r := newReporter(&buf)

	r.handle(model.Event{Kind: model.EventServerReady, URL: "http://127.0.0.1:47392"})
	r.handle(model.Event{Kind: model.EventBuildCreated, BuildID: "b-1"})
	r.handle(model.Event{Kind: model.EventScreenshotCaptured, Name: "home", Count: 1})
	r.handle(model.Event{Kind: model.EventBuildFinalizeFailed, Message: "api down"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "shotrun: intake server listening on http://127.0.0.1:47392", lines[0])
	assert.Equal(t, "shotrun: build b-1 created", lines[1])
	assert.Equal(t, `shotrun: captured "home" (1)`, lines[2])
	assert.Equal(t, "shotrun: warning: could not finalize build: api down", lines[3])
}

func TestPrintBuilds_Empty(t *testing.T) {
	var buf bytes.Buffer
	printBuilds(&buf, nil)
	assert.Equal(t, "no builds recorded\n", buf.String())
}

func TestApp_LocalRunRecordsHistory(t *testing.T) {
	cliEnv(t)

	stdout, _, err := runApp(t, "run", "--local", "--port", "0", "--build-name", "nightly", "--", "true")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Tests passed")
	assert.Contains(t, stdout, "(completed)")

	stdout, _, err = runApp(t, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "nightly")
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "local")
}

func TestApp_RunPropagatesExitCode(t *testing.T) {
	cliEnv(t)

	_, _, err := runApp(t, "run", "--local", "--port", "0", "--", "exit 4")
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))
}

func TestApp_RunRequiresCommand(t *testing.T) {
	cliEnv(t)

	_, _, err := runApp(t, "run", "--local")
	require.Error(t, err)
}

func TestApp_HistoryShowAndRemove(t *testing.T) {
	cliEnv(t)

	_, _, err := runApp(t, "run", "--local", "--port", "0", "--", "true")
	require.NoError(t, err)

	stdout, _, err := runApp(t, "history", "--limit", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	id := strings.Fields(lines[1])[0]

	stdout, _, err = runApp(t, "history", "show", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Build:       "+id)
	assert.Contains(t, stdout, "Screenshots: 0")

	stdout, _, err = runApp(t, "history", "rm", id)
	require.NoError(t, err)
	assert.Contains(t, stdout, "removed build "+id)

	_, _, err = runApp(t, "history", "show", id)
	require.ErrorIs(t, err, model.ErrBuildNotFound)
}

func TestApp_HistoryDisabled(t *testing.T) {
	cliEnv(t)
	t.Setenv("SHOTRUN_DB_PATH", "")

	_, _, err := runApp(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
