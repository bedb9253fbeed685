package driven

import "context"

// ScreenshotStore defines the driven port for storing screenshot payloads in
// local mode. Put returns a path that locates the stored payload; Remove
// deletes a single payload by that path.
type ScreenshotStore interface {
	Put(ctx context.Context, buildID, name string, image []byte) (string, error)
	Remove(ctx context.Context, path string) error
	RemoveBuild(ctx context.Context, buildID string) error
}
