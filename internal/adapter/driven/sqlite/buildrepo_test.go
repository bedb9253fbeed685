package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

func makeBuild(id string, createdAt time.Time) model.Build {
	return model.Build{
		ID:          id,
		Name:        "Nightly " + id,
		Branch:      "main",
		Commit:      "abc123",
		Environment: "test",
		Mode:        model.ModeLocal,
		Status:      model.BuildStatusCompleted,
		CreatedAt:   createdAt,
		CompletedAt: createdAt.Add(90 * time.Second),
		Metadata:    map[string]string{"elapsed_ms": "90000"},
		Screenshots: []model.Screenshot{
			{
				ID:   id + "-s1",
				Name: "homepage",
				Path: "/tmp/shots/" + id + "/homepage.png",
				Properties: model.ScreenshotProperties{
					Browser:        "chrome",
					ViewportWidth:  1280,
					ViewportHeight: 720,
					Tags:           map[string]string{"theme": "dark"},
				},
				AttachedAt: createdAt.Add(time.Second),
			},
			{
				ID:         id + "-s2",
				Name:       "homepage",
				RemoteID:   "remote-2",
				AttachedAt: createdAt.Add(2 * time.Second),
			},
		},
	}
}

func TestBuildRepo_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 30, 0, 123000000, time.UTC)
	require.NoError(t, repo.Save(ctx, makeBuild("b1", created)))

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Nightly b1", got.Name)
	assert.Equal(t, "abc123", got.Commit)
	assert.Equal(t, model.ModeLocal, got.Mode)
	assert.Equal(t, model.BuildStatusCompleted, got.Status)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Equal(t, 90*time.Second, got.Elapsed())
	assert.Equal(t, "90000", got.Metadata["elapsed_ms"])

	require.Len(t, got.Screenshots, 2, "duplicate names are kept as separate entries")
	assert.Equal(t, "b1-s1", got.Screenshots[0].ID)
	assert.Equal(t, "/tmp/shots/b1/homepage.png", got.Screenshots[0].Path)
	assert.Equal(t, 1280, got.Screenshots[0].Properties.ViewportWidth)
	assert.Equal(t, "dark", got.Screenshots[0].Properties.Tags["theme"])
	assert.Equal(t, "remote-2", got.Screenshots[1].RemoteID)
	assert.Nil(t, got.Screenshots[1].Image)
}

func TestBuildRepo_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)

	got, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildRepo_Save_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)
	ctx := context.Background()

	b := makeBuild("b1", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	b.Status = model.BuildStatusRunning
	b.CompletedAt = time.Time{}
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CompletedAt.IsZero())

	b.Status = model.BuildStatusFailed
	b.CompletedAt = b.CreatedAt.Add(time.Minute)
	b.Screenshots = b.Screenshots[:1]
	require.NoError(t, repo.Save(ctx, b))

	got, err = repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.BuildStatusFailed, got.Status)
	assert.Equal(t, time.Minute, got.Elapsed())
	assert.Len(t, got.Screenshots, 1)
}

func TestBuildRepo_Save_NilMaps(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)
	ctx := context.Background()

	b := makeBuild("b1", time.Now().UTC())
	b.Metadata = nil
	b.Screenshots = nil
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.Metadata)
	assert.Empty(t, got.Screenshots)
}

func TestBuildRepo_ListRecent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		// Mixed sub-second offsets exercise ordering across fraction widths.
		created := base.Add(time.Duration(i)*time.Second + time.Duration(i*i)*time.Millisecond*100)
		require.NoError(t, repo.Save(ctx, makeBuild(fmt.Sprintf("b%d", i), created)))
	}

	builds, err := repo.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, builds, 3)
	assert.Equal(t, "b4", builds[0].ID)
	assert.Equal(t, "b3", builds[1].ID)
	assert.Equal(t, "b2", builds[2].ID)
	assert.Empty(t, builds[0].Screenshots)

	all, err := repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestBuildRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewBuildRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, makeBuild("b1", time.Now().UTC())))
	require.NoError(t, repo.Delete(ctx, "b1"))

	got, err := repo.GetByID(ctx, "b1")
	require.NoError(t, err)
	assert.Nil(t, got)

	var orphans int
	require.NoError(t, db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM screenshots WHERE build_id = ?`, "b1").Scan(&orphans))
	assert.Zero(t, orphans)

	require.NoError(t, repo.Delete(ctx, "b1"), "deleting twice is a no-op")
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{name: "fixed fraction", input: "2026-03-01T09:00:00.500000000Z", want: time.Date(2026, 3, 1, 9, 0, 0, 500000000, time.UTC)},
		{name: "rfc3339", input: "2026-03-01T09:00:00Z", want: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{name: "sqlite datetime", input: "2026-03-01 09:00:00", want: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseTime("yesterday")
	assert.Error(t, err)
}
