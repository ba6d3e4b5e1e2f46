// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides extension registry persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// busy_timeout is per connection, so it goes in the DSN where every
	// pooled connection picks it up.
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database lives per connection, so pin the pool to one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS extensions (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			url           TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			version       TEXT NOT NULL DEFAULT '',
			author        TEXT NOT NULL DEFAULT '',
			registered_at TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_extensions_name ON extensions(name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('extensions') WHERE name = 'icon_url'`,
			apply:  `ALTER TABLE extensions ADD COLUMN icon_url TEXT NOT NULL DEFAULT ''`,
			column: "icon_url",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('extensions') WHERE name = 'homepage_url'`,
			apply:  `ALTER TABLE extensions ADD COLUMN homepage_url TEXT NOT NULL DEFAULT ''`,
			column: "homepage_url",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to extensions: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "extensions")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const extensionColumns = `id, name, url, title, description, version, author, icon_url, homepage_url, registered_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtension(row rowScanner) (*Extension, error) {
	var ext Extension
	var registeredAtStr, updatedAtStr string

	if err := row.Scan(
		&ext.ID,
		&ext.Name,
		&ext.URL,
		&ext.Title,
		&ext.Description,
		&ext.Version,
		&ext.Author,
		&ext.IconURL,
		&ext.HomepageURL,
		&registeredAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	ext.RegisteredAt, err = time.Parse(time.RFC3339, registeredAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	ext.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &ext, nil
}

// ListExtensions returns all extensions ordered by name.
func (s *SQLiteStore) ListExtensions(ctx context.Context) ([]*Extension, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+extensionColumns+` FROM extensions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying extensions: %w", err)
	}
	defer rows.Close()

	var exts []*Extension
	for rows.Next() {
		ext, err := scanExtension(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning extension: %w", err)
		}
		exts = append(exts, ext)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating extensions: %w", err)
	}

	return exts, nil
}

// GetExtension retrieves an extension by name.
// Returns nil, nil if the extension doesn't exist.
func (s *SQLiteStore) GetExtension(ctx context.Context, name string) (*Extension, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extensionColumns+` FROM extensions WHERE name = ?`, name)

	ext, err := scanExtension(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying extension: %w", err)
	}
	return ext, nil
}

// UpsertExtension inserts the extension or replaces the row with the same name.
// The original id and registered_at survive a replace. The stored row is
// re-read and returned.
func (s *SQLiteStore) UpsertExtension(ctx context.Context, ext *Extension) (*Extension, error) {
	e, err := prepareUpsert(ext)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	registeredAt := e.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = now
	}

	query := `
		INSERT INTO extensions (` + extensionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			version = excluded.version,
			author = excluded.author,
			icon_url = excluded.icon_url,
			homepage_url = excluded.homepage_url,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.Name,
		e.URL,
		e.Title,
		e.Description,
		e.Version,
		e.Author,
		e.IconURL,
		e.HomepageURL,
		registeredAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting extension: %w", err)
	}

	stored, err := s.GetExtension(ctx, e.Name)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("extension %q missing after upsert: %w", e.Name, ErrNotFound)
	}

	s.logger.Debug("upserted extension", "name", stored.Name, "url", stored.URL)
	return stored, nil
}

// DeleteExtension removes an extension by name. Absent names are a no-op.
func (s *SQLiteStore) DeleteExtension(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM extensions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting extension: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		s.logger.Debug("deleted extension", "name", name)
	}
	return nil
}
