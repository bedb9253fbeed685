package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
	"github.com/ericfisherdev/shotrun/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildStore = (*BuildRepo)(nil)

// BuildRepo is the SQLite implementation of the BuildStore port. Image bytes
// are never stored; only the file path or remote identifier is kept.
type BuildRepo struct {
	db *DB
}

// NewBuildRepo creates a new BuildRepo backed by the given DB.
func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{db: db}
}

// Save upserts the build and replaces its screenshot rows in one transaction.
func (r *BuildRepo) Save(ctx context.Context, b model.Build) error {
	metadata, err := marshalMap(b.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const upsertQuery = `
		INSERT INTO builds (
			id, name, branch, commit_sha, environment, mode, url, status, metadata, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			branch = excluded.branch,
			commit_sha = excluded.commit_sha,
			environment = excluded.environment,
			mode = excluded.mode,
			url = excluded.url,
			status = excluded.status,
			metadata = excluded.metadata,
			completed_at = excluded.completed_at
	`

	if _, err := tx.ExecContext(ctx, upsertQuery,
		b.ID, b.Name, b.Branch, b.Commit, b.Environment, string(b.Mode), b.URL,
		string(b.Status), metadata, formatTime(b.CreatedAt), nullableTime(b.CompletedAt),
	); err != nil {
		return fmt.Errorf("upsert build %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM screenshots WHERE build_id = ?`, b.ID); err != nil {
		return fmt.Errorf("delete screenshots for build %s: %w", b.ID, err)
	}

	const insertQuery = `
		INSERT INTO screenshots (
			id, build_id, position, name, path, remote_id, browser,
			viewport_width, viewport_height, tags, attached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, s := range b.Screenshots {
		tags, err := marshalMap(s.Properties.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags for screenshot %s: %w", s.Name, err)
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			s.ID, b.ID, i, s.Name, s.Path, s.RemoteID, s.Properties.Browser,
			s.Properties.ViewportWidth, s.Properties.ViewportHeight, tags, formatTime(s.AttachedAt),
		); err != nil {
			return fmt.Errorf("insert screenshot %s for build %s: %w", s.Name, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit build %s: %w", b.ID, err)
	}

	return nil
}

// GetByID returns the build with its screenshots in attachment order, or
// nil if no such build was saved.
func (r *BuildRepo) GetByID(ctx context.Context, id string) (*model.Build, error) {
	const query = `
		SELECT id, name, branch, commit_sha, environment, mode, url, status, metadata, created_at, completed_at
		FROM builds
		WHERE id = ?
	`

	b, err := scanBuild(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get build %s: %w", id, err)
	}

	shots, err := r.screenshots(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Screenshots = shots

	return b, nil
}

// ListRecent returns up to limit builds, newest first. Screenshots are not
// loaded; callers that need them use GetByID.
func (r *BuildRepo) ListRecent(ctx context.Context, limit int) ([]model.Build, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, name, branch, commit_sha, environment, mode, url, status, metadata, created_at, completed_at
		FROM builds
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent builds: %w", err)
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	return builds, nil
}

// Delete removes the build; its screenshot rows cascade.
func (r *BuildRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM builds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete build %s: %w", id, err)
	}
	return nil
}

func (r *BuildRepo) screenshots(ctx context.Context, buildID string) ([]model.Screenshot, error) {
	const query = `
		SELECT id, name, path, remote_id, browser, viewport_width, viewport_height, tags, attached_at
		FROM screenshots
		WHERE build_id = ?
		ORDER BY position
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("list screenshots for build %s: %w", buildID, err)
	}
	defer rows.Close()

	var shots []model.Screenshot
	for rows.Next() {
		var s model.Screenshot
		var tags, attachedAt string
		if err := rows.Scan(
			&s.ID, &s.Name, &s.Path, &s.RemoteID, &s.Properties.Browser,
			&s.Properties.ViewportWidth, &s.Properties.ViewportHeight, &tags, &attachedAt,
		); err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		if s.Properties.Tags, err = unmarshalMap(tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if s.AttachedAt, err = parseTime(attachedAt); err != nil {
			return nil, fmt.Errorf("parse attached_at: %w", err)
		}
		shots = append(shots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screenshots: %w", err)
	}

	return shots, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (*model.Build, error) {
	var b model.Build
	var mode, status, metadata, createdAt string
	var completedAt sql.NullString

	err := s.Scan(
		&b.ID, &b.Name, &b.Branch, &b.Commit, &b.Environment,
		&mode, &b.URL, &status, &metadata, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Mode = model.Mode(mode)
	b.Status = model.BuildStatus(status)

	if b.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		if b.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
	}

	return &b, nil
}

func marshalMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// sortableTime keeps a fixed fraction width so created_at orders lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

// parseTime accepts both the RFC 3339 form written by this package and the
// layouts the driver may hand back for DATETIME columns.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
