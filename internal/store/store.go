package store

import (
	"context"
	"errors"

	"github.com/joescharf/modelrepo/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for mr.
type Store interface {
	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*models.Repository, error)
	GetRepositoryByPath(ctx context.Context, path string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, r *models.Repository) error
	DeleteRepository(ctx context.Context, id string) error

	// Sync history
	CreateSyncRecord(ctx context.Context, rec *models.SyncRecord) error
	ListSyncRecords(ctx context.Context, repositoryID string, limit int) ([]*models.SyncRecord, error)
	LastSyncRecord(ctx context.Context, repositoryID string) (*models.SyncRecord, error)
	RecordSync(ctx context.Context, repoPath string, rec *models.SyncRecord) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
