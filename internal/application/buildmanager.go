package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// defaultFinalizeTimeout bounds the remote and persistence calls made while
// finalizing, which run detached from the caller's (possibly cancelled) context.
const defaultFinalizeTimeout = 15 * time.Second

// BuildManager is the single owner of build state. Builds are stored as
// values keyed by ID; every mutation happens under mu and replaces the stored
// value, and callers only ever receive copies.
type BuildManager struct {
	mu     sync.Mutex
	builds map[string]model.Build

	api             driven.BuildAPI              // nil when no API token is configured.
	store           driven.BuildStore            // optional history store.
	statuses        driven.CommitStatusPublisher // optional.
	bus             *EventBus
	logger          *slog.Logger
	finalizeTimeout time.Duration
}

// NewBuildManager creates a BuildManager. api, store and statuses may be nil.
func NewBuildManager(
	api driven.BuildAPI,
	store driven.BuildStore,
	statuses driven.CommitStatusPublisher,
	bus *EventBus,
	logger *slog.Logger,
) *BuildManager {
	return &BuildManager{
		builds:          make(map[string]model.Build),
		api:             api,
		store:           store,
		statuses:        statuses,
		bus:             bus,
		logger:          logger,
		finalizeTimeout: defaultFinalizeTimeout,
	}
}

// CreateBuild allocates the run's build. In API mode the remote build is
// created first and its identifier mirrored locally.
func (m *BuildManager) CreateBuild(ctx context.Context, opts model.RunOptions, mode model.Mode) (model.Build, error) {
	var build model.Build

	switch mode {
	case model.ModeLocal:
		build = model.NewBuild(opts, mode)
	case model.ModeAPI:
		if m.api == nil {
			return model.Build{}, fmt.Errorf("create remote build: %w", model.ErrTokenRequired)
		}
		remote, err := m.api.CreateBuild(ctx, model.RemoteBuildMetadata{
			Name:        opts.BuildName,
			Branch:      opts.Branch,
			Commit:      opts.Commit,
			Environment: opts.Environment,
			SetBaseline: opts.SetBaseline,
		})
		if err != nil {
			return model.Build{}, fmt.Errorf("create remote build: %w", err)
		}
		build = model.NewBuildWithID(remote.ID, opts, mode)
		build.URL = remote.URL
	default:
		return model.Build{}, fmt.Errorf("create build: unsupported mode %q", mode)
	}

	m.mu.Lock()
	if _, exists := m.builds[build.ID]; exists {
		m.mu.Unlock()
		return model.Build{}, fmt.Errorf("create build: duplicate build id %s", build.ID)
	}
	m.builds[build.ID] = build
	m.mu.Unlock()

	m.logger.Info("build created", "build_id", build.ID, "mode", mode, "name", build.Name)
	m.bus.Publish(model.Event{
		Kind:    model.EventBuildCreated,
		Message: "build created",
		BuildID: build.ID,
		URL:     build.URL,
	})

	return build.Clone(), nil
}

// StartBuild moves a pending build to running.
func (m *BuildManager) StartBuild(id string) (model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	build, ok := m.builds[id]
	if !ok {
		return model.Build{}, fmt.Errorf("start build: %w: %s", model.ErrBuildNotFound, id)
	}

	next, err := model.Transition(build, model.BuildStatusRunning, nil)
	if err != nil {
		return build.Clone(), fmt.Errorf("start build: %w", err)
	}
	m.builds[id] = next
	return next.Clone(), nil
}

// AttachScreenshot appends s to the build and returns the new screenshot count.
// Attachments are serialized so concurrent submissions never interleave.
func (m *BuildManager) AttachScreenshot(id string, s model.Screenshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	build, ok := m.builds[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrBuildNotFound, id)
	}

	next, err := model.AttachScreenshot(build, id, s)
	if err != nil {
		return len(build.Screenshots), err
	}
	m.builds[id] = next
	return len(next.Screenshots), nil
}

// FinalizeBuild records the run outcome. It never returns an error: a missing
// build, a remote finalize failure or a persistence failure is logged and
// published as an event so it cannot mask the run's real outcome. The returned
// bool is false when the build does not exist.
func (m *BuildManager) FinalizeBuild(ctx context.Context, id string, result model.FinalizeResult) (model.Build, bool) {
	m.mu.Lock()
	build, ok := m.builds[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("finalize requested for unknown build", "build_id", id)
		m.reportFinalizeFailure(id, fmt.Errorf("%w: %s", model.ErrBuildNotFound, id))
		return model.Build{}, false
	}
	if build.IsTerminal() {
		m.mu.Unlock()
		m.logger.Debug("build already finalized", "build_id", id, "status", build.Status)
		return build.Clone(), true
	}
	final := model.Finalize(build, result)
	m.builds[id] = final
	m.mu.Unlock()

	m.logger.Info("build finalized",
		"build_id", id,
		"status", final.Status,
		"screenshots", len(final.Screenshots),
		"elapsed", result.Elapsed.Round(time.Millisecond),
	)

	// The caller's context may already be cancelled by an interrupt; the
	// remote build still has to be closed.
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.finalizeTimeout)
	defer cancel()

	if final.Mode == model.ModeAPI && m.api != nil {
		remoteStatus, err := m.api.FinalizeBuild(detached, id, final.Status == model.BuildStatusCompleted, result.Elapsed)
		if err != nil {
			m.logger.Error("remote finalize failed", "build_id", id, "error", err)
			m.reportFinalizeFailure(id, fmt.Errorf("finalize remote build: %w", err))
		} else {
			m.logger.Debug("remote build finalized", "build_id", id, "remote_status", remoteStatus)
		}
	}

	if m.store != nil {
		if err := m.store.Save(detached, final); err != nil {
			m.logger.Error("failed to persist build", "build_id", id, "error", err)
			m.reportError(id, fmt.Errorf("persist build: %w", err))
		}
	}

	if m.statuses != nil && final.Commit != "" {
		if err := m.statuses.PublishStatus(detached, model.CommitStatusFor(final)); err != nil {
			m.logger.Warn("failed to publish commit status", "build_id", id, "commit", final.Commit, "error", err)
			m.reportError(id, fmt.Errorf("publish commit status: %w", err))
		}
	}

	return final.Clone(), true
}

// Snapshot returns a read-only copy of the build.
func (m *BuildManager) Snapshot(id string) (model.Build, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	build, ok := m.builds[id]
	if !ok {
		return model.Build{}, false
	}
	return build.Clone(), true
}

// Release drops a build once its run result has been returned.
func (m *BuildManager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.builds, id)
}

func (m *BuildManager) reportFinalizeFailure(id string, err error) {
	m.bus.Publish(model.Event{
		Kind:    model.EventBuildFinalizeFailed,
		Message: err.Error(),
		BuildID: id,
		Err:     err,
	})
}

func (m *BuildManager) reportError(id string, err error) {
	m.bus.Publish(model.Event{
		Kind:    model.EventError,
		Message: err.Error(),
		BuildID: id,
		Err:     err,
	})
}
