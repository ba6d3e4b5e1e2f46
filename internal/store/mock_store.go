// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	extensions map[string]*Extension // keyed by name

	// ListErr and GetErr force failures for error-path tests.
	ListErr error
	GetErr  error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		extensions: make(map[string]*Extension),
	}
}

// ListExtensions returns copies of all extensions sorted by name.
func (m *MockStore) ListExtensions(ctx context.Context) ([]*Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	exts := make([]*Extension, 0, len(m.extensions))
	for _, e := range m.extensions {
		cp := *e
		exts = append(exts, &cp)
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i].Name < exts[j].Name })
	return exts, nil
}

// GetExtension returns a copy of the named extension, or nil if absent.
func (m *MockStore) GetExtension(ctx context.Context, name string) (*Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}

	e, ok := m.extensions[name]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// UpsertExtension stores the extension keyed by name.
func (m *MockStore) UpsertExtension(ctx context.Context, ext *Extension) (*Extension, error) {
	e, err := prepareUpsert(ext)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Second)
	if existing, ok := m.extensions[e.Name]; ok {
		e.ID = existing.ID
		e.RegisteredAt = existing.RegisteredAt
	} else {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.RegisteredAt.IsZero() {
			e.RegisteredAt = now
		}
	}
	e.UpdatedAt = now

	m.extensions[e.Name] = e
	cp := *e
	return &cp, nil
}

// DeleteExtension removes the named extension if present.
func (m *MockStore) DeleteExtension(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.extensions, name)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// errMockUnavailable is a convenience failure for tests that need one.
var errMockUnavailable = errors.New("mock store unavailable")

// Fail makes subsequent list and get calls return an error.
func (m *MockStore) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListErr = errMockUnavailable
	m.GetErr = errMockUnavailable
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
