package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// BuildAPI defines the driven port for the remote build service that performs
// visual comparison. Every call may fail transiently.
type BuildAPI interface {
	CreateBuild(ctx context.Context, meta model.RemoteBuildMetadata) (model.RemoteBuild, error)
	// FinalizeBuild closes the remote build and returns the remote status string.
	FinalizeBuild(ctx context.Context, buildID string, success bool, elapsed time.Duration) (string, error)
	UploadScreenshot(ctx context.Context, buildID, name string, image []byte, props model.ScreenshotProperties) (model.UploadAck, error)
	// GetBuild reports remote processing progress for a finalized build.
	GetBuild(ctx context.Context, buildID string) (model.RemoteBuildState, error)
}
