package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// BuildSummary is the history view of a finalized build.
type BuildSummary struct {
	Build       model.Build
	Screenshots int
}

// HistoryService reads and prunes the persisted build history. It depends
// only on port interfaces; files may be nil when payloads are not kept on disk.
type HistoryService struct {
	store driven.BuildStore
	files driven.ScreenshotStore
}

// NewHistoryService creates a new HistoryService with the required dependencies.
func NewHistoryService(store driven.BuildStore, files driven.ScreenshotStore) *HistoryService {
	return &HistoryService{store: store, files: files}
}

// Recent returns up to limit builds, newest first.
func (s *HistoryService) Recent(ctx context.Context, limit int) ([]model.Build, error) {
	builds, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if builds == nil {
		builds = []model.Build{}
	}
	return builds, nil
}

// Show loads one build with its screenshots.
func (s *HistoryService) Show(ctx context.Context, id string) (*BuildSummary, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrBuildNotFound, id)
	}
	return &BuildSummary{Build: *b, Screenshots: len(b.Screenshots)}, nil
}

// Remove deletes a build's stored payloads and then its history record.
// The record is kept if the payloads cannot be removed, so a retry can
// still find them.
func (s *HistoryService) Remove(ctx context.Context, id string) error {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: %s", model.ErrBuildNotFound, id)
	}

	if s.files != nil && b.Mode == model.ModeLocal {
		if err := s.files.RemoveBuild(ctx, id); err != nil {
			return fmt.Errorf("remove screenshots for build %s: %w", id, err)
		}
	}

	return s.store.Delete(ctx, id)
}
