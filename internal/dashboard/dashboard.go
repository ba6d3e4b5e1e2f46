// ABOUTME: Read-only HTML dashboard listing registered extensions and their live capabilities
// ABOUTME: Server-rendered from embedded templates; descriptions are rendered from Markdown

package dashboard

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// CapabilityFetcher fetches the live capabilities of one extension.
type CapabilityFetcher interface {
	Capabilities(ctx context.Context, baseURL string) ([]extension.Capability, error)
}

// Config holds dashboard dependencies.
type Config struct {
	Store   store.ExtensionStore
	Fetcher CapabilityFetcher
	Logger  *slog.Logger
}

// Dashboard serves the HTML pages.
type Dashboard struct {
	store   store.ExtensionStore
	fetcher CapabilityFetcher
	logger  *slog.Logger

	indexTmpl     *template.Template
	extensionTmpl *template.Template
}

// New creates a Dashboard. It panics if the embedded templates are broken.
func New(cfg Config) *Dashboard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{
		store:         cfg.Store,
		fetcher:       cfg.Fetcher,
		logger:        logger.With("component", "dashboard"),
		indexTmpl:     parse("templates/base.html", "templates/index.html"),
		extensionTmpl: parse("templates/base.html", "templates/extension.html"),
	}
}

func parse(files ...string) *template.Template {
	return template.Must(template.New("base").Funcs(templateFuncs).ParseFS(templateFS, files...))
}

// RegisterRoutes registers the dashboard pages on mux.
func (d *Dashboard) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", d.handleIndex)
	mux.HandleFunc("GET /extensions/{name}", d.handleExtension)
}

type extensionView struct {
	*store.Extension
	DescriptionHTML template.HTML
}

type indexData struct {
	Title      string
	Count      int
	Extensions []extensionView
	Error      string
}

type extensionData struct {
	Title             string
	Count             int
	Extension         extensionView
	Capabilities      []extension.Capability
	CapabilitiesError string
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Title: "Extensions"}

	exts, err := d.store.ListExtensions(r.Context())
	if err != nil {
		d.logger.Error("failed to list extensions", "error", err)
		data.Error = err.Error()
	}
	for _, ext := range exts {
		data.Extensions = append(data.Extensions, d.view(ext))
	}
	data.Count = len(data.Extensions)

	d.render(w, d.indexTmpl, data)
}

func (d *Dashboard) handleExtension(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ext, err := d.store.GetExtension(r.Context(), name)
	if err != nil {
		d.logger.Error("failed to get extension", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if ext == nil {
		http.NotFound(w, r)
		return
	}

	data := extensionData{
		Title:     ext.Title,
		Extension: d.view(ext),
	}
	if exts, err := d.store.ListExtensions(r.Context()); err == nil {
		data.Count = len(exts)
	}

	caps, err := d.fetcher.Capabilities(r.Context(), ext.URL)
	if err != nil {
		data.CapabilitiesError = err.Error()
	}
	data.Capabilities = caps

	d.render(w, d.extensionTmpl, data)
}

func (d *Dashboard) view(ext *store.Extension) extensionView {
	return extensionView{
		Extension:       ext,
		DescriptionHTML: d.markdown(ext.Description),
	}
}

// markdown renders an extension description. goldmark drops raw HTML by
// default, so the output is safe to embed.
func (d *Dashboard) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		d.logger.Warn("failed to convert markdown", "error", err)
		return template.HTML("<p>" + template.HTMLEscapeString(src) + "</p>")
	}
	return template.HTML(buf.String())
}

func (d *Dashboard) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		d.logger.Error("failed to render page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
