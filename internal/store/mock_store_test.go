// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on copy semantics and injected failures specific to the in-memory implementation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	_, err := store.UpsertExtension(ctx, &Extension{Name: "calc", URL: "http://x", Title: "Calc"})
	require.NoError(t, err)

	got, err := store.GetExtension(ctx, "calc")
	require.NoError(t, err)
	got.Title = "mutated"

	again, err := store.GetExtension(ctx, "calc")
	require.NoError(t, err)
	assert.Equal(t, "Calc", again.Title, "callers must not be able to mutate stored records")
}

func TestMockStore_Fail(t *testing.T) {
	store := NewMockStore()
	store.Fail()
	ctx := context.Background()

	_, err := store.ListExtensions(ctx)
	assert.Error(t, err)

	_, err = store.GetExtension(ctx, "calc")
	assert.Error(t, err)
}
