package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/modelrepo/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time. The CLI and the MCP server may share a database
	// file, so a single pooled connection plus busy_timeout avoids
	// "database is locked".
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Repositories ---

const repositoryColumns = `id, name, path, remote_url, remote, branch, created_at, updated_at`

func scanRepository(row interface{ Scan(...any) error }) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.ID, &r.Name, &r.Path, &r.RemoteURL, &r.Remote, &r.Branch, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	if r.Remote == "" {
		r.Remote = "origin"
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (`+repositoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Path, r.RemoteURL, r.Remote, r.Branch, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getRepository(ctx context.Context, where, arg string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE `+where+` = ?`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	return s.getRepository(ctx, "id", id)
}

func (s *SQLiteStore) GetRepositoryByName(ctx context.Context, name string) (*models.Repository, error) {
	return s.getRepository(ctx, "name", name)
}

func (s *SQLiteStore) GetRepositoryByPath(ctx context.Context, path string) (*models.Repository, error) {
	return s.getRepository(ctx, "path", path)
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLiteStore) UpdateRepository(ctx context.Context, r *models.Repository) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET name=?, path=?, remote_url=?, remote=?, branch=?, updated_at=? WHERE id=?`,
		r.Name, r.Path, r.RemoteURL, r.Remote, r.Branch, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("repository %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repository: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Sync history ---

const syncColumns = `id, repository_id, direction, status, phase, pull_result, conflicts, theirs, defaulted, commit_id, error, started_at, ended_at`

func pathsJSON(paths []string) string {
	if len(paths) == 0 {
		return "[]"
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func scanSyncRecord(row interface{ Scan(...any) error }) (*models.SyncRecord, error) {
	rec := &models.SyncRecord{}
	var conflicts, theirs, defaulted string
	err := row.Scan(&rec.ID, &rec.RepositoryID, &rec.Direction, &rec.Status, &rec.Phase, &rec.PullResult,
		&conflicts, &theirs, &defaulted, &rec.CommitID, &rec.Error, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(conflicts), &rec.Conflicts)
	_ = json.Unmarshal([]byte(theirs), &rec.Theirs)
	_ = json.Unmarshal([]byte(defaulted), &rec.Defaulted)
	return rec, nil
}

func (s *SQLiteStore) CreateSyncRecord(ctx context.Context, rec *models.SyncRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = rec.StartedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_sessions (`+syncColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RepositoryID, string(rec.Direction), string(rec.Status), rec.Phase, rec.PullResult,
		pathsJSON(rec.Conflicts), pathsJSON(rec.Theirs), pathsJSON(rec.Defaulted),
		rec.CommitID, rec.Error, rec.StartedAt.UTC(), rec.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create sync record: %w", err)
	}
	return nil
}

// ListSyncRecords returns the newest records first. limit <= 0 returns all.
func (s *SQLiteStore) ListSyncRecords(ctx context.Context, repositoryID string, limit int) ([]*models.SyncRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM sync_sessions WHERE repository_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*models.SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) LastSyncRecord(ctx context.Context, repositoryID string) (*models.SyncRecord, error) {
	recs, err := s.ListSyncRecords(ctx, repositoryID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("sync record for %s: %w", repositoryID, ErrNotFound)
	}
	return recs[0], nil
}

// RecordSync stores rec against the repository registered at repoPath.
// History is kept for registered repositories only; others are skipped.
func (s *SQLiteStore) RecordSync(ctx context.Context, repoPath string, rec *models.SyncRecord) error {
	r, err := s.GetRepositoryByPath(ctx, repoPath)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.RepositoryID = r.ID
	return s.CreateSyncRecord(ctx, rec)
}
