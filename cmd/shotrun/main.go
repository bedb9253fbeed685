// Command shotrun runs a test command with a local screenshot intake server
// and reports the captured screenshots as a visual-regression build.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/shotrun/internal/config"
	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// Version of shotrun being run
const Version = "v0.1.0"

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// errComparisonsFailed marks a run whose command passed but whose visual
// comparisons reported differences.
var errComparisonsFailed = errors.New("visual comparisons failed")

func main() {
	// SIGINT and SIGTERM cancel the run; teardown still happens.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := exitCode(newApp(ctx, os.Stdout, os.Stderr).Run(os.Args))
	stop()
	os.Exit(code)
}

func newApp(ctx context.Context, stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "shotrun"
	app.Usage = "run tests and collect screenshots for visual review"
	app.Version = Version
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Commands = []cli.Command{
		runCommand(ctx, stdout, stderr),
		historyCommand(ctx, stdout, stderr),
	}
	return app
}

// exitCode maps a run error to the process exit status: the test command's
// own code when it failed, 130 when interrupted, 1 for anything else.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var cmdErr *model.TestCommandError
	if errors.As(err, &cmdErr) {
		if errors.Is(cmdErr, model.ErrTestCommandInterrupted) {
			return exitInterrupted
		}
		if cmdErr.Reason == model.ReasonExitCode || cmdErr.Reason == model.ReasonNotFound {
			if cmdErr.ExitCode > 0 && cmdErr.ExitCode < 256 {
				return cmdErr.ExitCode
			}
		}
		return exitFailure
	}

	if !errors.Is(err, errComparisonsFailed) {
		slog.Error("shotrun failed", "error", err)
	}
	return exitFailure
}

// setupLogger installs the process-wide logger described by cfg and returns it.
func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
