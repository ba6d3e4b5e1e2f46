// ABOUTME: Tests for the list_extensions and use tool handlers.
// ABOUTME: Drives use through a real extension client against an httptest calc extension.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

type staticCatalog string

func (c staticCatalog) Render(ctx context.Context) string { return string(c) }

type failingExecutor struct {
	calls int
}

func (f *failingExecutor) Execute(ctx context.Context, baseURL, action string, params map[string]any) (*extension.ExecuteResult, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

// calcExtension answers /execute with a scripted envelope.
func calcExtension(t *testing.T, envelope string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(envelope))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestTools(t *testing.T, envelope string) (*Tools, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	_, err := s.UpsertExtension(context.Background(), &store.Extension{
		Name:        "calc",
		URL:         calcExtension(t, envelope),
		Title:       "Calc",
		Description: "Arithmetic",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	tools := New(Config{
		Store:    s,
		Catalog:  staticCatalog("catalog"),
		Executor: extension.NewClient(extension.ClientConfig{}),
	})
	return tools, s
}

func TestListExtensions_DelegatesToCatalog(t *testing.T) {
	tools := New(Config{Store: store.NewMockStore(), Catalog: staticCatalog("[calc] Arithmetic")})
	assert.Equal(t, "[calc] Arithmetic", tools.ListExtensions(context.Background()))
}

func TestUse_Success(t *testing.T) {
	tools, _ := newTestTools(t, `{"success":true,"data":5}`)

	out := tools.Use(context.Background(), "calc", "add", map[string]any{"a": 2, "b": 3})
	assert.Equal(t, "5", out)
}

func TestUse_SuccessObjectIsIndented(t *testing.T) {
	tools, _ := newTestTools(t, `{"success":true,"data":{"result":5,"ops":["add"]}}`)

	out := tools.Use(context.Background(), "calc", "add", nil)
	assert.Equal(t, "{\n  \"result\": 5,\n  \"ops\": [\n    \"add\"\n  ]\n}", out)
}

func TestUse_NullDataIsDone(t *testing.T) {
	for _, envelope := range []string{`{"success":true,"data":null}`, `{"success":true}`} {
		tools, _ := newTestTools(t, envelope)
		assert.Equal(t, "Done.", tools.Use(context.Background(), "calc", "clear", map[string]any{}))
	}
}

func TestUse_ExtensionReportedFailure(t *testing.T) {
	tools, _ := newTestTools(t, `{"success":false,"error":"bad input"}`)

	out := tools.Use(context.Background(), "calc", "add", map[string]any{"a": "x"})
	assert.Contains(t, out, "Error: bad input")
	assert.Contains(t, out, "list_extensions")
}

func TestUse_UnknownExtension(t *testing.T) {
	executor := &failingExecutor{}
	s := store.NewMockStore()
	for _, name := range []string{"weather", "calc"} {
		_, err := s.UpsertExtension(context.Background(), &store.Extension{Name: name, URL: "http://" + name})
		require.NoError(t, err)
	}
	tools := New(Config{Store: s, Executor: executor})

	out := tools.Use(context.Background(), "nope", "add", nil)
	assert.Equal(t, "Extension 'nope' not found. Registered extensions: calc, weather", out)
	assert.Zero(t, executor.calls, "execute must not run for an unknown extension")
}

func TestUse_UnknownExtensionEmptyRegistry(t *testing.T) {
	tools := New(Config{Store: store.NewMockStore(), Executor: &failingExecutor{}})

	out := tools.Use(context.Background(), "nope", "add", nil)
	assert.Equal(t, "Extension 'nope' not found. Registered extensions: none", out)
}

func TestUse_StoreError(t *testing.T) {
	s := store.NewMockStore()
	s.Fail()
	executor := &failingExecutor{}
	tools := New(Config{Store: s, Executor: executor})

	out := tools.Use(context.Background(), "calc", "add", nil)
	assert.Contains(t, out, "Error looking up extension 'calc':")
	assert.Zero(t, executor.calls)
}

func TestUse_TransportFailure(t *testing.T) {
	s := store.NewMockStore()
	_, err := s.UpsertExtension(context.Background(), &store.Extension{Name: "calc", URL: "http://calc"})
	require.NoError(t, err)
	tools := New(Config{Store: s, Executor: &failingExecutor{}})

	out := tools.Use(context.Background(), "calc", "add", nil)
	assert.Equal(t, "Error calling calc/add: connection refused", out)
}

func TestToolDescriptors(t *testing.T) {
	list := ListExtensionsTool()
	assert.Equal(t, "list_extensions", list.Name)

	data, err := json.Marshal(list.InputSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(data))

	use := UseTool()
	assert.Equal(t, "use", use.Name)

	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	data, err = json.Marshal(use.InputSchema)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"extension", "action", "parameters"}, schema.Required)
	assert.Equal(t, "string", schema.Properties["extension"]["type"])
	assert.Equal(t, "string", schema.Properties["action"]["type"])
	assert.Equal(t, "object", schema.Properties["parameters"]["type"])
}
