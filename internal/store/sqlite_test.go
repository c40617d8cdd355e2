package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/modelrepo/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func createRepo(t *testing.T, s *SQLiteStore, name string) *models.Repository {
	t.Helper()
	r := &models.Repository{
		Name:      name,
		Path:      "/models/" + name,
		RemoteURL: "https://example.com/" + name + ".git",
		Branch:    "main",
	}
	require.NoError(t, s.CreateRepository(context.Background(), r))
	return r
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Repository CRUD ---

func TestRepositoryCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := createRepo(t, s, "plant")
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "origin", r.Remote, "remote defaults to origin")
	assert.False(t, r.CreatedAt.IsZero())

	got, err := s.GetRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, got.Name)
	assert.Equal(t, r.Path, got.Path)
	assert.Equal(t, r.RemoteURL, got.RemoteURL)
	assert.Equal(t, "main", got.Branch)

	got, err = s.GetRepositoryByName(ctx, "plant")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	got, err = s.GetRepositoryByPath(ctx, "/models/plant")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	r.Branch = "release"
	require.NoError(t, s.UpdateRepository(ctx, r))
	got, err = s.GetRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "release", got.Branch)

	require.NoError(t, s.DeleteRepository(ctx, r.ID))
	_, err = s.GetRepository(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRepositoryByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRepository(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, s.UpdateRepository(ctx, &models.Repository{ID: "nope"}), ErrNotFound)
}

func TestRepository_UniqueNameAndPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createRepo(t, s, "plant")

	err := s.CreateRepository(ctx, &models.Repository{Name: "plant", Path: "/elsewhere"})
	assert.Error(t, err)
	err = s.CreateRepository(ctx, &models.Repository{Name: "other", Path: "/models/plant"})
	assert.Error(t, err)
}

func TestListRepositories_SortedByName(t *testing.T) {
	s := newTestStore(t)
	createRepo(t, s, "zeta")
	createRepo(t, s, "alpha")

	repos, err := s.ListRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "alpha", repos[0].Name)
	assert.Equal(t, "zeta", repos[1].Name)
}

// --- Sync history ---

func TestSyncRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRepo(t, s, "plant")

	base := time.Now().UTC().Add(-time.Hour)
	first := &models.SyncRecord{
		RepositoryID: r.ID,
		Direction:    models.SyncDirectionPull,
		Status:       models.SyncStatusSuccess,
		Phase:        "done",
		PullResult:   "no_op",
		StartedAt:    base,
		EndedAt:      base.Add(time.Second),
	}
	second := &models.SyncRecord{
		RepositoryID: r.ID,
		Direction:    models.SyncDirectionPush,
		Status:       models.SyncStatusSuccess,
		Phase:        "done",
		PullResult:   "conflicts_resolved",
		Conflicts:    []string{"model.xml", "layout.xml"},
		Theirs:       []string{"model.xml"},
		Defaulted:    []string{"layout.xml"},
		CommitID:     "abc123",
		StartedAt:    base.Add(time.Minute),
		EndedAt:      base.Add(2 * time.Minute),
	}
	require.NoError(t, s.CreateSyncRecord(ctx, first))
	require.NoError(t, s.CreateSyncRecord(ctx, second))

	recs, err := s.ListSyncRecords(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID, "newest first")
	assert.Equal(t, []string{"model.xml", "layout.xml"}, recs[0].Conflicts)
	assert.Equal(t, []string{"model.xml"}, recs[0].Theirs)
	assert.Equal(t, []string{"layout.xml"}, recs[0].Defaulted)
	assert.Equal(t, models.SyncDirectionPush, recs[0].Direction)
	assert.WithinDuration(t, second.StartedAt, recs[0].StartedAt, time.Second)
	assert.Empty(t, recs[1].Conflicts)

	limited, err := s.ListSyncRecords(ctx, r.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	last, err := s.LastSyncRecord(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)
}

func TestLastSyncRecord_None(t *testing.T) {
	s := newTestStore(t)
	r := createRepo(t, s, "plant")
	_, err := s.LastSyncRecord(context.Background(), r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordSync_ByPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRepo(t, s, "plant")

	rec := &models.SyncRecord{ID: "session-1", Direction: models.SyncDirectionPull, Status: models.SyncStatusCancelled}
	require.NoError(t, s.RecordSync(ctx, r.Path, rec))
	assert.Equal(t, r.ID, rec.RepositoryID)

	recs, err := s.ListSyncRecords(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "session-1", recs[0].ID)
	assert.Equal(t, models.SyncStatusCancelled, recs[0].Status)
}

func TestRecordSync_UnregisteredSkipped(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordSync(context.Background(), "/not/registered", &models.SyncRecord{Status: models.SyncStatusSuccess})
	assert.NoError(t, err)
}

func TestDeleteRepository_CascadesHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := createRepo(t, s, "plant")
	require.NoError(t, s.CreateSyncRecord(ctx, &models.SyncRecord{
		RepositoryID: r.ID, Direction: models.SyncDirectionPull, Status: models.SyncStatusSuccess,
	}))

	require.NoError(t, s.DeleteRepository(ctx, r.ID))
	recs, err := s.ListSyncRecords(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
