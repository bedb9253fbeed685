package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// IntakeService routes screenshot submissions to the run's active build. In
// local mode payloads go to the ScreenshotStore (or stay in memory when none
// is configured); in API mode they are uploaded first and the remote
// reference is attached. Submissions are handled concurrently; only the
// final attachment is serialized, inside BuildManager.
type IntakeService struct {
	manager *BuildManager
	api     driven.BuildAPI
	files   driven.ScreenshotStore
	bus     *EventBus
	logger  *slog.Logger

	mu      sync.RWMutex
	buildID string
	mode    model.Mode
}

// NewIntakeService creates an IntakeService with no active build.
func NewIntakeService(
	manager *BuildManager,
	api driven.BuildAPI,
	files driven.ScreenshotStore,
	bus *EventBus,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		manager: manager,
		api:     api,
		files:   files,
		bus:     bus,
		logger:  logger,
	}
}

// Bind makes buildID the active build. Submissions received before Bind are
// rejected with ErrNoActiveBuild.
func (s *IntakeService) Bind(buildID string, mode model.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildID = buildID
	s.mode = mode
}

// ActiveBuild returns the bound build ID, or "" before Bind.
func (s *IntakeService) ActiveBuild() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildID
}

// Submit validates and attaches one screenshot, returning the attached
// screenshot and the build's screenshot count. The build is left untouched
// when any step fails.
func (s *IntakeService) Submit(ctx context.Context, sub model.ScreenshotSubmission) (model.Screenshot, int, error) {
	name, err := sub.Validate()
	if err != nil {
		return model.Screenshot{}, 0, err
	}

	s.mu.RLock()
	buildID, mode := s.buildID, s.mode
	s.mu.RUnlock()

	if buildID == "" {
		return model.Screenshot{}, 0, model.ErrNoActiveBuild
	}
	if sub.BuildID != "" && sub.BuildID != buildID {
		return model.Screenshot{}, 0, fmt.Errorf("%w: %s", model.ErrBuildNotFound, sub.BuildID)
	}

	// Reject early so closed builds never trigger uploads or file writes.
	current, ok := s.manager.Snapshot(buildID)
	if !ok {
		return model.Screenshot{}, 0, fmt.Errorf("%w: %s", model.ErrBuildNotFound, buildID)
	}
	if current.IsTerminal() {
		return model.Screenshot{}, 0, fmt.Errorf("%w: build %s is %s", model.ErrBuildClosed, buildID, current.Status)
	}

	shot := model.Screenshot{
		ID:         uuid.NewString(),
		Name:       name,
		Properties: sub.Properties,
	}

	switch mode {
	case model.ModeAPI:
		ack, err := s.api.UploadScreenshot(ctx, buildID, name, sub.Image, sub.Properties)
		if err != nil {
			s.logger.Error("screenshot upload failed", "build_id", buildID, "name", name, "error", err)
			return model.Screenshot{}, 0, fmt.Errorf("%w: %w", model.ErrUploadFailed, err)
		}
		shot.RemoteID = ack.ID
	default:
		if s.files != nil {
			path, err := s.files.Put(ctx, buildID, name, sub.Image)
			if err != nil {
				return model.Screenshot{}, 0, fmt.Errorf("store screenshot %q: %w", name, err)
			}
			shot.Path = path
		} else {
			shot.Image = sub.Image
		}
	}

	count, err := s.manager.AttachScreenshot(buildID, shot)
	if err != nil {
		// The build can close between the status check above and the attach.
		s.discardPayload(ctx, buildID, shot)
		return model.Screenshot{}, 0, err
	}

	s.logger.Debug("screenshot attached", "build_id", buildID, "name", name, "count", count)
	s.bus.Publish(model.Event{
		Kind:    model.EventScreenshotCaptured,
		Message: "screenshot captured: " + name,
		BuildID: buildID,
		Name:    name,
		Count:   count,
	})

	return shot, count, nil
}

// discardPayload drops a payload that was stored or uploaded for a screenshot
// the build refused. Remote uploads cannot be withdrawn and are only logged.
func (s *IntakeService) discardPayload(ctx context.Context, buildID string, shot model.Screenshot) {
	switch {
	case shot.Path != "" && s.files != nil:
		if err := s.files.Remove(context.WithoutCancel(ctx), shot.Path); err != nil {
			s.logger.Error("failed to remove orphaned screenshot", "build_id", buildID, "path", shot.Path, "error", err)
			return
		}
		s.logger.Debug("removed orphaned screenshot", "build_id", buildID, "path", shot.Path)
	case shot.RemoteID != "":
		s.logger.Warn("uploaded screenshot was not attached to the build",
			"build_id", buildID,
			"name", shot.Name,
			"remote_id", shot.RemoteID,
		)
	}
}
