package driven

import (
	"context"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// BuildStore defines the driven port for persisting finalized builds.
type BuildStore interface {
	Save(ctx context.Context, build model.Build) error
	GetByID(ctx context.Context, id string) (*model.Build, error)
	ListRecent(ctx context.Context, limit int) ([]model.Build, error)
	// Delete removes a build and its screenshot rows. Deleting an unknown
	// build is not an error.
	Delete(ctx context.Context, id string) error
}
