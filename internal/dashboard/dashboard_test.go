// ABOUTME: Tests for the HTML dashboard pages
// ABOUTME: Renders against MockStore and a stub capability fetcher

package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

type stubFetcher struct {
	caps []extension.Capability
	err  error
}

func (s stubFetcher) Capabilities(ctx context.Context, baseURL string) ([]extension.Capability, error) {
	return s.caps, s.err
}

func newTestDashboard(t *testing.T, fetcher CapabilityFetcher) (*http.ServeMux, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	_, err := s.UpsertExtension(context.Background(), &store.Extension{
		Name:        "calc",
		URL:         "http://calc.local",
		Title:       "Calc",
		Description: "Does **arithmetic** <script>alert(1)</script>",
		Version:     "1.0.0",
		Author:      "jv",
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(Config{Store: s, Fetcher: fetcher}).RegisterRoutes(mux)
	return mux, s
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	mux, _ := newTestDashboard(t, stubFetcher{})

	rec := get(mux, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "Calc")
	assert.Contains(t, body, "v1.0.0")
	assert.Contains(t, body, "http://calc.local")
	assert.Contains(t, body, "<strong>arithmetic</strong>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "1 extension registered")
}

func TestIndex_Empty(t *testing.T) {
	mux := http.NewServeMux()
	New(Config{Store: store.NewMockStore(), Fetcher: stubFetcher{}}).RegisterRoutes(mux)

	rec := get(mux, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No extensions registered yet.")
}

func TestIndex_RegistryError(t *testing.T) {
	mux, s := newTestDashboard(t, stubFetcher{})
	s.Fail()

	rec := get(mux, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not read the extension registry")
}

func TestExtensionPage(t *testing.T) {
	mux, _ := newTestDashboard(t, stubFetcher{caps: []extension.Capability{{
		Name:        "add",
		Description: "Add two numbers",
		Parameters: []extension.Parameter{
			{Name: "op", Type: "string", Required: true, Enum: []string{"add", "sub"}},
		},
	}}})

	rec := get(mux, "/extensions/calc")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Add two numbers")
	assert.Contains(t, body, "required")
	assert.Contains(t, body, "add | sub")
}

func TestExtensionPage_CapabilitiesError(t *testing.T) {
	mux, _ := newTestDashboard(t, stubFetcher{err: errors.New("connection refused")})

	rec := get(mux, "/extensions/calc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not fetch capabilities: connection refused")
}

func TestExtensionPage_NotFound(t *testing.T) {
	mux, _ := newTestDashboard(t, stubFetcher{})

	rec := get(mux, "/extensions/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownPathIsNotDashboard(t *testing.T) {
	mux, _ := newTestDashboard(t, stubFetcher{})

	rec := get(mux, "/not-a-page")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
