// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers database creation, migrations, persistence across reopen, and concurrent upserts

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.UpsertExtension(ctx, &Extension{Name: "calc", URL: "http://x"})
	require.NoError(t, err)

	got, err := store.GetExtension(ctx, "calc")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	stored, err := first.UpsertExtension(ctx, &Extension{Name: "calc", URL: "http://x", Version: "1.0.0"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetExtension(ctx, "calc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, "1.0.0", got.Version)
}

func TestSQLiteStore_MigratesLegacySchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// A database created before icon_url/homepage_url existed
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE extensions (
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
		INSERT INTO extensions (id, name, url, registered_at, updated_at)
		VALUES ('legacy-id', 'old', 'http://old', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetExtension(context.Background(), "old")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "legacy-id", got.ID)
	assert.Empty(t, got.IconURL)
	assert.Empty(t, got.HomepageURL)

	// Running migrations again is a no-op
	require.NoError(t, store.runMigrations())
}

func TestSQLiteStore_ConcurrentUpserts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the writers target the same name
			name := "shared"
			if i%2 == 0 {
				name = fmt.Sprintf("ext-%d", i)
			}
			if _, err := store.UpsertExtension(ctx, &Extension{Name: name, URL: "http://x"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent upsert failed: %v", err)
	}

	exts, err := store.ListExtensions(ctx)
	require.NoError(t, err)
	assert.Len(t, exts, 11, "10 distinct names plus one shared record")
}
