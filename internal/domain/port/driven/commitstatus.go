package driven

import (
	"context"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// CommitStatusPublisher defines the driven port for reporting a build's
// outcome against the commit it tested.
type CommitStatusPublisher interface {
	PublishStatus(ctx context.Context, status model.CommitStatus) error
}
