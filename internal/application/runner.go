package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

const (
	// defaultKillGrace bounds how long the runner waits for an executor to
	// return after it has been cancelled.
	defaultKillGrace = 5 * time.Second
	// defaultTeardownTimeout bounds finalize plus server shutdown.
	defaultTeardownTimeout = 20 * time.Second
)

var errRunTimeout = errors.New("run timeout exceeded")

// IntakeServer is the screenshot intake listener driven by the runner.
type IntakeServer interface {
	// Start binds the listener and returns its host:port address.
	Start(ctx context.Context) (string, error)
	// Stop releases the listener. It is safe to call more than once.
	Stop(ctx context.Context) error
}

// ServerFactory builds the intake server for one run.
type ServerFactory func(port int, intake *IntakeService) IntakeServer

// ExecutorFactory builds a fresh process executor for one run.
type ExecutorFactory func() driven.ProcessExecutor

// RunnerDeps holds the collaborators of a Runner. API, Files, Store and
// Statuses may be nil.
type RunnerDeps struct {
	API         driven.BuildAPI
	Files       driven.ScreenshotStore
	Store       driven.BuildStore
	Statuses    driven.CommitStatusPublisher
	NewServer   ServerFactory
	NewExecutor ExecutorFactory
	Bus         *EventBus
	Logger      *slog.Logger
	Wait        WaitPolicy
}

// Runner sequences the intake server, the build lifecycle and the test
// command for a run, and guarantees finalize-then-stop on every exit path.
// A Runner may serve concurrent runs; each run gets its own build, server
// and executor.
type Runner struct {
	manager         *BuildManager
	api             driven.BuildAPI
	files           driven.ScreenshotStore
	newServer       ServerFactory
	newExecutor     ExecutorFactory
	bus             *EventBus
	logger          *slog.Logger
	wait            WaitPolicy
	killGrace       time.Duration
	teardownTimeout time.Duration
}

// NewRunner creates a Runner from its dependencies.
func NewRunner(deps RunnerDeps) *Runner {
	wait := deps.Wait
	if wait == (WaitPolicy{}) {
		wait = DefaultWaitPolicy()
	}
	return &Runner{
		manager:         NewBuildManager(deps.API, deps.Store, deps.Statuses, deps.Bus, deps.Logger),
		api:             deps.API,
		files:           deps.Files,
		newServer:       deps.NewServer,
		newExecutor:     deps.NewExecutor,
		bus:             deps.Bus,
		logger:          deps.Logger,
		wait:            wait,
		killGrace:       defaultKillGrace,
		teardownTimeout: defaultTeardownTimeout,
	}
}

// Manager exposes the runner's build manager for read-only inspection.
func (r *Runner) Manager() *BuildManager {
	return r.manager
}

// Run executes one invocation. Cancelling ctx (for example from a SIGINT
// handler) or exceeding opts.Timeout kills the test command and proceeds
// through the same teardown as a normal exit.
//
// Once any resource has been acquired, Run returns a non-nil result even
// when err is non-nil, so callers can still report counts. A test command
// failure is returned unchanged after teardown and matches
// model.ErrTestCommandFailed or model.ErrTestCommandInterrupted.
func (r *Runner) Run(ctx context.Context, opts model.RunOptions) (*model.RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	mode, err := opts.ResolveMode(r.api != nil)
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, errRunTimeout)
		defer cancel()
	}

	if mode == model.ModeDisabled {
		return r.runDisabled(ctx, opts)
	}

	intake := NewIntakeService(r.manager, r.api, r.files, r.bus, r.logger)
	srv := r.newServer(opts.Port, intake)

	addr, err := srv.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start intake server: %w", err)
	}
	serverURL := "http://" + addr
	r.logger.Info("intake server ready", "url", serverURL)
	r.bus.Publish(model.Event{Kind: model.EventServerReady, Message: "intake server ready", URL: serverURL})

	build, err := r.manager.CreateBuild(ctx, opts, mode)
	if err != nil {
		// No build exists yet; the server still has to go.
		if tdErr := r.teardown(ctx, "", model.FinalizeResult{}, srv); tdErr != nil {
			r.logger.Warn("teardown after failed build creation reported errors", "error", tdErr)
		}
		return nil, fmt.Errorf("create build: %w", err)
	}
	defer r.manager.Release(build.ID)

	var captured atomic.Int64
	sub := r.bus.Subscribe(func(ev model.Event) {
		if ev.BuildID == build.ID {
			captured.Add(1)
		}
	}, model.EventScreenshotCaptured)

	intake.Bind(build.ID, mode)
	if _, err := r.manager.StartBuild(build.ID); err != nil {
		r.logger.Warn("could not mark build running", "build_id", build.ID, "error", err)
	}

	r.progress(build.ID, "running test command: "+opts.Command)
	start := time.Now()
	runErr := r.execute(ctx, opts.Command, ChildEnv(serverURL, build.ID, true, opts.SetBaseline))
	elapsed := time.Since(start)

	r.progress(build.ID, "finalizing build")
	if tdErr := r.teardown(ctx, build.ID, finalizeResultFor(runErr, elapsed), srv); tdErr != nil {
		r.bus.Publish(model.Event{Kind: model.EventError, Message: tdErr.Error(), BuildID: build.ID, Err: tdErr})
	}

	// The server is stopped, so no further screenshot events can arrive.
	sub.Unsubscribe()

	final, _ := r.manager.Snapshot(build.ID)
	result := newRunResult(final, runErr, int(captured.Load()))

	if runErr != nil {
		return result, runErr
	}

	if opts.Wait && mode == model.ModeAPI {
		r.awaitComparisons(ctx, opts, result)
	}

	return result, nil
}

// runDisabled runs the command without a server or build.
func (r *Runner) runDisabled(ctx context.Context, opts model.RunOptions) (*model.RunResult, error) {
	r.logger.Info("no api token configured, running without screenshot intake")
	r.progress("", "running test command without screenshot intake")

	runErr := r.execute(ctx, opts.Command, ChildEnv("", "", false, opts.SetBaseline))
	result := newRunResult(model.Build{}, runErr, 0)
	return result, runErr
}

// execute runs the command and returns promptly after cancellation even if
// the executor fails to observe the context.
func (r *Runner) execute(ctx context.Context, command string, env map[string]string) error {
	executor := r.newExecutor()
	done := make(chan error, 1)
	go func() {
		done <- executor.Execute(ctx, command, env)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	r.logger.Warn("run cancelled, terminating test command", "cause", context.Cause(ctx))
	executor.Cancel()

	select {
	case err := <-done:
		// nil here means the command finished just as it was cancelled.
		return err
	case <-time.After(r.killGrace):
		r.logger.Error("test command did not exit after cancellation", "grace", r.killGrace)
		return interruptedError(ctx)
	}
}

// teardown finalizes the build (when one exists) and then stops the server.
// Both steps always run; the aggregated error is advisory.
func (r *Runner) teardown(ctx context.Context, buildID string, result model.FinalizeResult, srv IntakeServer) error {
	tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.teardownTimeout)
	defer cancel()

	var steps []teardownStep
	if buildID != "" {
		steps = append(steps, teardownStep{
			name: "finalize build",
			run: func(ctx context.Context) error {
				if _, ok := r.manager.FinalizeBuild(ctx, buildID, result); !ok {
					return fmt.Errorf("%w: %s", model.ErrBuildNotFound, buildID)
				}
				return nil
			},
		})
	}
	steps = append(steps, teardownStep{name: "stop intake server", run: srv.Stop})

	return runTeardown(tdCtx, r.logger, steps...)
}

func (r *Runner) awaitComparisons(ctx context.Context, opts model.RunOptions, result *model.RunResult) {
	policy := r.wait
	if opts.WaitTimeout > 0 {
		policy.Timeout = opts.WaitTimeout
	}

	r.progress(result.BuildID, "waiting for comparisons")
	summary, err := waitForProcessing(ctx, r.api, result.BuildID, policy)
	if err != nil {
		r.logger.Warn("comparisons not available", "build_id", result.BuildID, "error", err)
		r.bus.Publish(model.Event{Kind: model.EventError, Message: err.Error(), BuildID: result.BuildID, Err: err})
		return
	}

	result.Comparisons = &summary
	result.Failed = summary.Failed > 0
	r.logger.Info("comparisons ready",
		"build_id", result.BuildID,
		"total", summary.Total,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"new", summary.New,
	)
}

func (r *Runner) progress(buildID, msg string) {
	r.bus.Publish(model.Event{Kind: model.EventProgress, Message: msg, BuildID: buildID})
}

func finalizeResultFor(runErr error, elapsed time.Duration) model.FinalizeResult {
	return model.FinalizeResult{
		Success:   runErr == nil,
		Cancelled: model.IsInterrupted(runErr),
		Elapsed:   elapsed,
	}
}

func newRunResult(build model.Build, runErr error, captured int) *model.RunResult {
	result := &model.RunResult{
		BuildID:             build.ID,
		BuildURL:            build.URL,
		Status:              build.Status,
		ScreenshotsCaptured: captured,
	}
	if runErr == nil {
		result.TestsPassed = 1
	} else {
		result.TestsFailed = 1
	}
	return result
}

func interruptedError(ctx context.Context) error {
	reason := model.ReasonCancelled
	if errors.Is(context.Cause(ctx), errRunTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = model.ReasonTimeout
	}
	return &model.TestCommandError{Kind: model.ErrTestCommandInterrupted, Reason: reason, Err: context.Cause(ctx)}
}
