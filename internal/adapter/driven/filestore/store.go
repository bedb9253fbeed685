// Package filestore keeps local-mode screenshot payloads on disk.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScreenshotStore = (*Store)(nil)

// Store writes each screenshot to <root>/<build-id>/<name>-<short-id>.png.
// Writes are atomic, so a reader never observes a partially written image.
type Store struct {
	root string
}

// New creates a Store rooted at dir. The directory is created lazily.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve screenshot dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute directory screenshots are written under.
func (s *Store) Root() string { return s.root }

// Put stores image and returns its absolute path. name must already be
// sanitized; the short suffix keeps repeated names from overwriting each other.
func (s *Store) Put(ctx context.Context, buildID, name string, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := s.buildDir(buildID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", name, suffix))

	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("screenshot name %q escapes build dir", name)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(image)); err != nil {
		return "", fmt.Errorf("write screenshot %q: %w", name, err)
	}
	return path, nil
}

// Remove deletes one payload previously returned by Put. A missing file is
// not an error; paths outside the store root are rejected.
func (s *Store) Remove(_ context.Context, path string) error {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %q is outside %s", path, s.root)
	}
	if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove screenshot: %w", err)
	}
	return nil
}

// RemoveBuild deletes every payload stored for buildID.
func (s *Store) RemoveBuild(_ context.Context, buildID string) error {
	dir, err := s.buildDir(buildID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove build dir: %w", err)
	}
	return nil
}

func (s *Store) buildDir(buildID string) (string, error) {
	if buildID == "" || buildID == "." || buildID == ".." || strings.ContainsAny(buildID, `/\`) {
		return "", fmt.Errorf("invalid build id %q", buildID)
	}
	return filepath.Join(s.root, buildID), nil
}
