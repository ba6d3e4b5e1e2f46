// ABOUTME: Behavioral tests shared by every ExtensionStore implementation
// ABOUTME: Covers ordering, absent lookups, upsert idempotence, and idempotent delete

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// forEachStore runs fn against the SQLite and in-memory implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func TestStore_ListOrderedByName(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, name := range []string{"weather", "calc", "notes"} {
			_, err := s.UpsertExtension(ctx, &Extension{Name: name, URL: "http://example.com/" + name})
			require.NoError(t, err)
		}

		exts, err := s.ListExtensions(ctx)
		require.NoError(t, err)
		require.Len(t, exts, 3)
		assert.Equal(t, "calc", exts[0].Name)
		assert.Equal(t, "notes", exts[1].Name)
		assert.Equal(t, "weather", exts[2].Name)
	})
}

func TestStore_ListEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		exts, err := s.ListExtensions(context.Background())
		require.NoError(t, err)
		assert.Empty(t, exts)
	})
}

func TestStore_GetAbsentReturnsNil(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ext, err := s.GetExtension(context.Background(), "nope")
		require.NoError(t, err)
		assert.Nil(t, ext)
	})
}

func TestStore_UpsertRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		stored, err := s.UpsertExtension(ctx, &Extension{
			Name:        "calc",
			URL:         "http://x/calc/",
			Title:       "Calculator",
			Description: "Adds numbers",
			Version:     "1.2.0",
			Author:      "Jesse",
			IconURL:     "http://x/icon.png",
			HomepageURL: "http://x",
		})
		require.NoError(t, err)

		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, "http://x/calc", stored.URL, "trailing slash should be trimmed")
		assert.False(t, stored.RegisteredAt.IsZero())
		assert.False(t, stored.UpdatedAt.IsZero())

		got, err := s.GetExtension(ctx, "calc")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, stored.ID, got.ID)
		assert.Equal(t, "Calculator", got.Title)
		assert.Equal(t, "Adds numbers", got.Description)
		assert.Equal(t, "1.2.0", got.Version)
		assert.Equal(t, "Jesse", got.Author)
		assert.Equal(t, "http://x/icon.png", got.IconURL)
		assert.Equal(t, "http://x", got.HomepageURL)
	})
}

func TestStore_UpsertTwiceYieldsOneRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := &Extension{Name: "calc", URL: "http://x/calc", Title: "v1"}

		first, err := s.UpsertExtension(ctx, rec)
		require.NoError(t, err)
		second, err := s.UpsertExtension(ctx, rec)
		require.NoError(t, err)

		exts, err := s.ListExtensions(ctx)
		require.NoError(t, err)
		assert.Len(t, exts, 1)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestStore_UpsertReplacesFieldsKeepsIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		original, err := s.UpsertExtension(ctx, &Extension{
			Name:         "calc",
			URL:          "http://old",
			Title:        "Old",
			RegisteredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)

		replaced, err := s.UpsertExtension(ctx, &Extension{
			Name:  "calc",
			URL:   "http://new",
			Title: "New",
		})
		require.NoError(t, err)

		assert.Equal(t, original.ID, replaced.ID)
		assert.True(t, original.RegisteredAt.Equal(replaced.RegisteredAt), "registered_at should survive replace")
		assert.Equal(t, "http://new", replaced.URL)
		assert.Equal(t, "New", replaced.Title)
	})
}

func TestStore_UpsertDoesNotMutateInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		rec := &Extension{Name: "calc", URL: "http://x/calc///"}
		_, err := s.UpsertExtension(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, "http://x/calc///", rec.URL)
		assert.Empty(t, rec.ID)
	})
}

func TestStore_UpsertValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.UpsertExtension(ctx, &Extension{Name: "Bad Name", URL: "http://x"})
		assert.True(t, errors.Is(err, ErrInvalidName), "got %v", err)

		_, err = s.UpsertExtension(ctx, &Extension{Name: "ok", URL: "ftp://x"})
		assert.True(t, errors.Is(err, ErrInvalidURL), "got %v", err)

		exts, err := s.ListExtensions(ctx)
		require.NoError(t, err)
		assert.Empty(t, exts, "invalid records must not be stored")
	})
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.UpsertExtension(ctx, &Extension{Name: "calc", URL: "http://x"})
		require.NoError(t, err)

		require.NoError(t, s.DeleteExtension(ctx, "calc"))
		require.NoError(t, s.DeleteExtension(ctx, "calc"), "second delete should not fail")
		require.NoError(t, s.DeleteExtension(ctx, "never-existed"))

		got, err := s.GetExtension(ctx, "calc")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestValidateExtensionName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"calc", true},
		{"expense-tracker", true},
		{"my_app2", true},
		{"0day", true},
		{"", false},
		{"-leading", false},
		{"Upper", false},
		{"has space", false},
		{"slash/name", false},
		{"a123456789012345678901234567890123456789012345678901234567890123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExtensionName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://x/calc", "http://x/calc", false},
		{"https://app.example.com/", "https://app.example.com", false},
		{"  https://app.example.com/api//  ", "https://app.example.com/api", false},
		{"", "", true},
		{"/", "", true},
		{"app.example.com", "", true},
		{"ftp://example.com", "", true},
		{"https://", "", true},
		{"https://example.com/?q=1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
