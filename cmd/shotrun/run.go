package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/urfave/cli"

	apiadapter "github.com/ericfisherdev/shotrun/internal/adapter/driven/api"
	"github.com/ericfisherdev/shotrun/internal/adapter/driven/filestore"
	githubadapter "github.com/ericfisherdev/shotrun/internal/adapter/driven/github"
	"github.com/ericfisherdev/shotrun/internal/adapter/driven/process"
	sqliteadapter "github.com/ericfisherdev/shotrun/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/shotrun/internal/adapter/driving/http"
	"github.com/ericfisherdev/shotrun/internal/application"
	"github.com/ericfisherdev/shotrun/internal/config"
	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

func runCommand(ctx context.Context, stdout, stderr io.Writer) cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "run a test command with screenshot intake",
		ArgsUsage: "-- <command...>",
		// Flags belonging to the test command must stay where they are.
		SkipArgReorder: true,
		Flags: []cli.Flag{
			cli.IntFlag{Name: "port", Usage: "intake server port (0 picks a free port)"},
			cli.DurationFlag{Name: "timeout", Usage: "kill the test command after this long"},
			cli.StringFlag{Name: "build-name", Usage: "build display name"},
			cli.StringFlag{Name: "branch", Usage: "git branch of the build"},
			cli.StringFlag{Name: "commit", Usage: "git commit SHA of the build"},
			cli.StringFlag{Name: "environment", Usage: "environment label, e.g. test or staging"},
			cli.BoolFlag{Name: "allow-no-token", Usage: "run the command without intake when no API token is set"},
			cli.BoolFlag{Name: "wait", Usage: "wait for remote comparisons after the run"},
			cli.DurationFlag{Name: "wait-timeout", Usage: "give up waiting for comparisons after this long"},
			cli.BoolFlag{Name: "set-baseline", Usage: "accept this build's screenshots as the new baseline"},
			cli.BoolFlag{Name: "local", Usage: "keep screenshots on disk and skip the remote API"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyRunFlags(cfg, c)
			logger := setupLogger(cfg, stderr)

			command := commandFromArgs(c.Args())
			return executeRun(ctx, cfg, command, logger, stdout, stderr)
		},
	}
}

// applyRunFlags overlays explicitly set flags on the environment config.
func applyRunFlags(cfg *config.Config, c *cli.Context) {
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("wait-timeout") {
		cfg.WaitTimeout = c.Duration("wait-timeout")
	}
	for name, dst := range map[string]*string{
		"build-name":  &cfg.BuildName,
		"branch":      &cfg.Branch,
		"commit":      &cfg.Commit,
		"environment": &cfg.Environment,
	} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	cfg.AllowNoToken = cfg.AllowNoToken || c.Bool("allow-no-token")
	cfg.Wait = cfg.Wait || c.Bool("wait")
	cfg.SetBaseline = cfg.SetBaseline || c.Bool("set-baseline")
	cfg.Local = cfg.Local || c.Bool("local")
}

// commandFromArgs turns the positional arguments into one shell command line.
// A leading "--" separator is dropped. A single argument is taken verbatim as
// a shell command; several arguments are quoted so the shell sees the same
// argv the user typed.
func commandFromArgs(args []string) string {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	switch len(args) {
	case 0:
		return ""
	case 1:
		return strings.TrimSpace(args[0])
	default:
		return shellquote.Join(args...)
	}
}

func executeRun(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger, stdout, stderr io.Writer) error {
	deps, cleanup, err := wireRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	reporter := newReporter(stderr)
	sub := deps.Bus.Subscribe(reporter.handle)

	runner := application.NewRunner(deps)
	result, runErr := runner.Run(ctx, cfg.RunOptions(command))

	// Flush progress output before the summary.
	sub.Unsubscribe()

	if result != nil {
		printSummary(stdout, result, runErr)
	}
	if runErr != nil {
		return runErr
	}
	if result != nil && result.Failed {
		return errComparisonsFailed
	}
	return nil
}

// wireRunner builds the runner's adapters from cfg. Optional integrations
// (history, commit status) that fail to initialize are logged and skipped.
func wireRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (application.RunnerDeps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	bus := application.NewEventBus(logger)
	closers = append(closers, bus.Close)

	deps := application.RunnerDeps{
		Bus:    bus,
		Logger: logger,
		Wait:   application.DefaultWaitPolicy(),
		NewServer: func(port int, intake *application.IntakeService) application.IntakeServer {
			h := httphandler.NewHandler(intake, cfg.MaxUploadBytes, logger)
			return httphandler.NewServer(port, httphandler.NewServeMux(h, logger), logger)
		},
		NewExecutor: func() driven.ProcessExecutor {
			return process.NewExecutor(logger)
		},
	}
	deps.Wait.Timeout = cfg.WaitTimeout

	if cfg.HasAPIToken() {
		client, err := apiadapter.NewClient(cfg.APIURL, cfg.APIToken, logger)
		if err != nil {
			cleanup()
			return application.RunnerDeps{}, nil, err
		}
		deps.API = client
		logger.Debug("remote build api configured", "url", cfg.APIURL)
	}

	files, err := filestore.New(cfg.ScreenshotDir)
	if err != nil {
		cleanup()
		return application.RunnerDeps{}, nil, err
	}
	deps.Files = files

	if cfg.DBPath != "" {
		db, err := openHistory(ctx, cfg.DBPath)
		if err != nil {
			logger.Warn("build history disabled", "path", cfg.DBPath, "error", err)
		} else {
			closers = append(closers, func() {
				if closeErr := db.Close(); closeErr != nil {
					logger.Error("error closing database", "error", closeErr)
				}
			})
			deps.Store = sqliteadapter.NewBuildRepo(db)
		}
	}

	if cfg.HasCommitStatus() {
		gh, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubRepo, logger)
		if err != nil {
			logger.Warn("commit status publishing disabled", "repo", cfg.GitHubRepo, "error", err)
		} else {
			deps.Statuses = gh
		}
	}

	return deps, cleanup, nil
}

func openHistory(ctx context.Context, path string) (*sqliteadapter.DB, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := sqliteadapter.NewDB(openCtx, path)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

// reporter prints run events as progress lines.
type reporter struct {
	w io.Writer
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w}
}

func (r *reporter) handle(ev model.Event) {
	switch ev.Kind {
	case model.EventServerReady:
		fmt.Fprintf(r.w, "shotrun: intake server listening on %s\n", ev.URL)
	case model.EventBuildCreated:
		if ev.URL != "" {
			fmt.Fprintf(r.w, "shotrun: build %s created (%s)\n", ev.BuildID, ev.URL)
		} else {
			fmt.Fprintf(r.w, "shotrun: build %s created\n", ev.BuildID)
		}
	case model.EventScreenshotCaptured:
		fmt.Fprintf(r.w, "shotrun: captured %q (%d)\n", ev.Name, ev.Count)
	case model.EventBuildFinalizeFailed:
		fmt.Fprintf(r.w, "shotrun: warning: could not finalize build: %s\n", ev.Message)
	case model.EventError:
		fmt.Fprintf(r.w, "shotrun: warning: %s\n", ev.Message)
	case model.EventProgress:
		fmt.Fprintf(r.w, "shotrun: %s\n", ev.Message)
	}
}

func printSummary(w io.Writer, result *model.RunResult, runErr error) {
	fmt.Fprintln(w)
	switch {
	case runErr == nil:
		fmt.Fprintln(w, "Tests passed")
	case errors.Is(runErr, model.ErrTestCommandInterrupted):
		fmt.Fprintf(w, "Tests interrupted: %v\n", runErr)
	default:
		fmt.Fprintf(w, "Tests failed: %v\n", runErr)
	}

	if result.BuildID == "" {
		fmt.Fprintln(w, "Screenshot intake was disabled for this run")
		return
	}

	fmt.Fprintf(w, "Build:       %s (%s)\n", result.BuildID, result.Status)
	if result.BuildURL != "" {
		fmt.Fprintf(w, "URL:         %s\n", result.BuildURL)
	}
	fmt.Fprintf(w, "Screenshots: %d\n", result.ScreenshotsCaptured)
	if c := result.Comparisons; c != nil {
		fmt.Fprintf(w, "Comparisons: %d total, %d passed, %d failed, %d new\n", c.Total, c.Passed, c.Failed, c.New)
	}
}
