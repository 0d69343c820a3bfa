package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/store/sqlite/migrations"
)

// DefaultInsertBatchSize is the transaction size for InsertChunks.
const DefaultInsertBatchSize = 100

// Store implements store.ProjectStore, store.AssetStore and store.ChunkStore.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var (
	_ store.ProjectStore = (*Store)(nil)
	_ store.AssetStore   = (*Store)(nil)
	_ store.ChunkStore   = (*Store)(nil)
)

// Open opens (creating if needed) the database file at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies every NNN_name.up.sql above the recorded version, each in
// its own transaction.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, formatTime(s.now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==================== Projects ====================

// GetOrCreateProject returns the project, inserting it on first reference.
func (s *Store) GetOrCreateProject(ctx context.Context, projectID string) (*store.Project, error) {
	if err := store.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (project_id, created_at) VALUES (?, ?) ON CONFLICT(project_id) DO NOTHING",
		projectID, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("creating project %s: %w", projectID, err)
	}
	return s.GetProject(ctx, projectID)
}

// GetProject returns store.ErrNotFound for unknown projects.
func (s *Store) GetProject(ctx context.Context, projectID string) (*store.Project, error) {
	var (
		p       store.Project
		created string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, created_at FROM projects WHERE project_id = ?", projectID,
	).Scan(&p.ID, &p.ProjectID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", projectID, err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// ==================== Assets ====================

// CreateAsset inserts asset and sets its ID. Names are globally unique.
func (s *Store) CreateAsset(ctx context.Context, asset *store.Asset) error {
	cfg, err := marshalJSON(asset.Config)
	if err != nil {
		return fmt.Errorf("marshalling asset config: %w", err)
	}
	if asset.PushedAt.IsZero() {
		asset.PushedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO assets (project_id, type, name, size, config, pushed_at) VALUES (?, ?, ?, ?, ?, ?)",
		asset.ProjectID, asset.Type, asset.Name, asset.Size, cfg, formatTime(asset.PushedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("asset %s: %w", asset.Name, store.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("creating asset %s: %w", asset.Name, err)
	}
	asset.ID, err = res.LastInsertId()
	return err
}

const assetColumns = "id, project_id, type, name, size, config, pushed_at"

func scanAsset(row interface{ Scan(...any) error }) (*store.Asset, error) {
	var (
		a      store.Asset
		cfg    sql.NullString
		pushed string
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Name, &a.Size, &cfg, &pushed); err != nil {
		return nil, err
	}
	var err error
	if a.Config, err = unmarshalJSON(cfg); err != nil {
		return nil, fmt.Errorf("decoding asset config: %w", err)
	}
	a.PushedAt = parseTime(pushed)
	return &a, nil
}

// GetAsset looks an asset up by project and name.
func (s *Store) GetAsset(ctx context.Context, projectID, name string) (*store.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE project_id = ? AND name = ?", projectID, name)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting asset %s: %w", name, err)
	}
	return a, nil
}

// ListAssets returns a project's assets of one type, oldest first.
func (s *Store) ListAssets(ctx context.Context, projectID, assetType string) ([]store.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE project_id = ? AND type = ? ORDER BY id",
		projectID, assetType)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	defer rows.Close()

	assets := []store.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// ==================== Chunks ====================

// InsertChunks validates every chunk up front, then writes them in
// transactions of batchSize.
func (s *Store) InsertChunks(ctx context.Context, chunks []store.DataChunk, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}
	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	inserted := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		n, err := s.insertChunkBatch(ctx, chunks[start:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *Store) insertChunkBatch(ctx context.Context, batch []store.DataChunk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (project_id, asset_id, text, metadata, chunk_order) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range batch {
		md, err := marshalJSON(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshalling chunk metadata: %w", err)
		}
		var assetID sql.NullInt64
		if c.AssetID != 0 {
			assetID = sql.NullInt64{Int64: c.AssetID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.ProjectID, assetID, c.Text, md, c.Order); err != nil {
			return 0, fmt.Errorf("inserting chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing chunks: %w", err)
	}
	return len(batch), nil
}

// GetChunksPage returns a 1-based page ordered by chunk id.
func (s *Store) GetChunksPage(ctx context.Context, projectID string, page, pageSize int) ([]store.DataChunk, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, asset_id, text, metadata, chunk_order
		 FROM chunks WHERE project_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		projectID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("reading chunks page %d: %w", page, err)
	}
	defer rows.Close()

	chunks := []store.DataChunk{}
	for rows.Next() {
		var (
			c       store.DataChunk
			assetID sql.NullInt64
			md      sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &assetID, &c.Text, &md, &c.Order); err != nil {
			return nil, err
		}
		c.AssetID = assetID.Int64
		if c.Metadata, err = unmarshalJSON(md); err != nil {
			return nil, fmt.Errorf("decoding chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByProject removes every chunk of a project.
func (s *Store) DeleteChunksByProject(ctx context.Context, projectID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE project_id = ?", projectID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteChunksByAsset removes the chunks produced from one asset.
func (s *Store) DeleteChunksByAsset(ctx context.Context, projectID string, assetID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE project_id = ? AND asset_id = ?", projectID, assetID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountChunks returns the number of chunks stored for a project.
func (s *Store) CountChunks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE project_id = ?", projectID).Scan(&n)
	return n, err
}
