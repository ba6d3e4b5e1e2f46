// ABOUTME: The two agent-facing tools, list_extensions and use.
// ABOUTME: Handlers always produce text; failures are described rather than raised.

package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/jesseverse/internal/auth"
	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

// Tool names exposed to agents.
const (
	ToolListExtensions = "list_extensions"
	ToolUse            = "use"
)

// Catalog renders the capability listing.
type Catalog interface {
	Render(ctx context.Context) string
}

// Executor runs an action on an extension.
type Executor interface {
	Execute(ctx context.Context, baseURL, action string, params map[string]any) (*extension.ExecuteResult, error)
}

// Config holds the dependencies of the tool handlers.
type Config struct {
	Store    store.ExtensionStore
	Catalog  Catalog
	Executor Executor
	Logger   *slog.Logger
}

// Tools implements the hub's tool handlers. It holds no per-request state.
type Tools struct {
	store    store.ExtensionStore
	catalog  Catalog
	executor Executor
	logger   *slog.Logger
}

// New creates the tool handlers.
func New(cfg Config) *Tools {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{
		store:    cfg.Store,
		catalog:  cfg.Catalog,
		executor: cfg.Executor,
		logger:   logger.With("component", "hub"),
	}
}

// ListExtensions returns the live capability catalog.
func (t *Tools) ListExtensions(ctx context.Context) string {
	return t.catalog.Render(ctx)
}

// Use runs action on the named extension and describes the outcome as text.
func (t *Tools) Use(ctx context.Context, name, action string, params map[string]any) string {
	logger := t.logger.With("extension", name, "action", action)
	if ac := auth.FromContext(ctx); ac != nil {
		logger = logger.With("principal", ac.PrincipalID)
	}

	ext, err := t.store.GetExtension(ctx, name)
	if err != nil {
		logger.Error("extension lookup failed", "error", err)
		return fmt.Sprintf("Error looking up extension '%s': %v", name, err)
	}
	if ext == nil {
		return fmt.Sprintf("Extension '%s' not found. Registered extensions: %s", name, t.knownNames(ctx))
	}

	result, err := t.executor.Execute(ctx, ext.URL, action, params)
	if err != nil {
		logger.Warn("extension call failed", "error", err)
		return fmt.Sprintf("Error calling %s/%s: %v", name, action, err)
	}

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "Unknown error"
		}
		logger.Debug("extension reported failure", "error", msg)
		return fmt.Sprintf("Error: %s\nCall %s to re-check the action name and its parameter names.", msg, ToolListExtensions)
	}

	if !result.HasData() {
		return "Done."
	}
	return formatData(result.Data)
}

func (t *Tools) knownNames(ctx context.Context) string {
	exts, err := t.store.ListExtensions(ctx)
	if err != nil || len(exts) == 0 {
		return "none"
	}
	names := make([]string, len(exts))
	for i, e := range exts {
		names[i] = e.Name
	}
	return strings.Join(names, ", ")
}

// formatData pretty-prints the extension's payload without reinterpreting it.
func formatData(data json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Indent(&b, data, "", "  "); err != nil {
		return string(data)
	}
	return b.String()
}
