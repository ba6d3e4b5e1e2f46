// ABOUTME: Capability aggregator that fans out /capabilities over all registered extensions
// ABOUTME: Produces the agent-facing text catalog, preferring partial results over failure

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

// DefaultMaxConcurrency bounds concurrent /capabilities fetches.
const DefaultMaxConcurrency = 8

// EmptyRegistryMessage is returned when no extensions are registered.
const EmptyRegistryMessage = "No extensions registered yet. Add one via POST /api/extensions."

// CapabilityFetcher fetches the live capability list of one extension.
type CapabilityFetcher interface {
	Capabilities(ctx context.Context, baseURL string) ([]extension.Capability, error)
}

// Config holds the aggregator's dependencies.
type Config struct {
	Store          store.ExtensionStore
	Fetcher        CapabilityFetcher
	MaxConcurrency int
	Logger         *slog.Logger
}

// Aggregator builds the capability catalog. Nothing is cached; every call
// reflects the registry and the extensions as they are now.
type Aggregator struct {
	store          store.ExtensionStore
	fetcher        CapabilityFetcher
	maxConcurrency int
	logger         *slog.Logger
}

// Entry is one extension's slot in the catalog. Exactly one of
// Capabilities or Err is meaningful.
type Entry struct {
	Extension    *store.Extension
	Capabilities []extension.Capability
	Err          error
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Aggregator{
		store:          cfg.Store,
		fetcher:        cfg.Fetcher,
		maxConcurrency: maxConcurrency,
		logger:         logger.With("component", "catalog"),
	}
}

// Collect lists the registry and fetches capabilities for every extension
// concurrently. Entries follow registry order regardless of which fetch
// finishes first. Only a registry failure is returned as an error.
func (a *Aggregator) Collect(ctx context.Context) ([]Entry, error) {
	exts, err := a.store.ListExtensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing extensions: %w", err)
	}

	entries := make([]Entry, len(exts))
	p := pool.New().WithMaxGoroutines(a.maxConcurrency)
	for i, ext := range exts {
		entries[i].Extension = ext
		p.Go(func() {
			caps, err := a.fetcher.Capabilities(ctx, ext.URL)
			if err != nil {
				a.logger.Warn("failed to fetch capabilities", "extension", ext.Name, "error", err)
				entries[i].Err = err
				return
			}
			entries[i].Capabilities = caps
		})
	}
	p.Wait()

	return entries, nil
}

// Render returns the full text catalog for an agent. It never fails: a
// registry error becomes an explanatory line, and a failing extension is
// shown with its cause instead of being dropped.
func (a *Aggregator) Render(ctx context.Context) string {
	entries, err := a.Collect(ctx)
	if err != nil {
		a.logger.Error("failed to read extension registry", "error", err)
		return fmt.Sprintf("Could not read the extension registry: %v", err)
	}
	if len(entries) == 0 {
		return EmptyRegistryMessage
	}

	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		blocks = append(blocks, FormatEntry(e))
	}
	return strings.Join(blocks, "\n\n")
}

// FormatEntry renders one extension block: a header line followed by its
// capabilities, or a single line explaining why there are none.
func FormatEntry(e Entry) string {
	var b strings.Builder

	summary := e.Extension.Description
	if summary == "" {
		summary = e.Extension.Title
	}
	fmt.Fprintf(&b, "[%s] %s", e.Extension.Name, summary)

	switch {
	case e.Err != nil:
		fmt.Fprintf(&b, "\n  (could not fetch capabilities: %v)", e.Err)
	case len(e.Capabilities) == 0:
		b.WriteString("\n  (no capabilities returned)")
	default:
		for _, c := range e.Capabilities {
			b.WriteString("\n")
			b.WriteString(FormatCapability(c))
		}
	}
	return b.String()
}

// FormatCapability renders an action line and its parameter lines.
func FormatCapability(c extension.Capability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  • %s: %s", c.Name, c.Description)

	if len(c.Parameters) == 0 {
		b.WriteString("\n      (no parameters)")
		return b.String()
	}
	for _, p := range c.Parameters {
		b.WriteString("\n      - ")
		b.WriteString(FormatParameter(p))
	}
	return b.String()
}

// FormatParameter renders one parameter as
// "{name} ({type}, required|optional)[ — {description}][  [values: a | b]]".
// An example is appended only when there is no enum.
func FormatParameter(p extension.Parameter) string {
	requirement := "optional"
	if p.Required {
		requirement = "required"
	}

	line := fmt.Sprintf("%s (%s, %s)", p.Name, p.Type, requirement)
	if p.Description != "" {
		line += " — " + p.Description
	}
	if len(p.Enum) > 0 {
		line += "  [values: " + strings.Join(p.Enum, " | ") + "]"
	} else if p.Example != nil {
		line += "  e.g. " + formatExample(p.Example)
	}
	return line
}

// formatExample renders an example value as compact JSON so strings stay
// visibly quoted and objects keep their shape.
func formatExample(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
