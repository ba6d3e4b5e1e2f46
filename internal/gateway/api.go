// ABOUTME: REST registry API: list, inspect, register, remove, preview and probe extensions.
// ABOUTME: Writes are guarded by the admin middleware; reads and health checks are public.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/jesseverse/internal/auth"
	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/refresh"
	"github.com/2389/jesseverse/internal/store"
)

// maxAPIBodySize bounds JSON request bodies on the REST API (1MB).
const maxAPIBodySize = 1 << 20

// ExtensionResponse is the JSON form of a registered extension.
type ExtensionResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Version      string    `json:"version"`
	Author       string    `json:"author,omitempty"`
	IconURL      string    `json:"icon_url,omitempty"`
	HomepageURL  string    `json:"homepage_url,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RegisterRequest is the body of POST /api/extensions.
type RegisterRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PreviewResponse is returned by GET /api/extensions/register.
type PreviewResponse struct {
	Info         *extension.Info `json:"info"`
	Capabilities json.RawMessage `json:"capabilities"`
}

// ProbeResponse is returned by GET /api/extensions/probe.
type ProbeResponse struct {
	URL            string `json:"url"`
	InfoOK         bool   `json:"info_ok"`
	CapabilitiesOK bool   `json:"capabilities_ok"`
	LatencyMS      int64  `json:"latency_ms"`
	Error          string `json:"error,omitempty"`
}

func toExtensionResponse(ext *store.Extension) ExtensionResponse {
	return ExtensionResponse{
		ID:           ext.ID,
		Name:         ext.Name,
		URL:          ext.URL,
		Title:        ext.Title,
		Description:  ext.Description,
		Version:      ext.Version,
		Author:       ext.Author,
		IconURL:      ext.IconURL,
		HomepageURL:  ext.HomepageURL,
		RegisteredAt: ext.RegisteredAt,
		UpdatedAt:    ext.UpdatedAt,
	}
}

// registerAPIRoutes registers the REST routes on mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	admin := auth.AdminMiddleware(g.config.Auth.APIKey, g.adminVerifier)

	mux.HandleFunc("GET /api/health", g.handleAPIHealth)
	mux.HandleFunc("GET /api/protocol/schema", g.handleProtocolSchema)

	mux.HandleFunc("GET /api/extensions", g.handleListExtensions)
	mux.HandleFunc("GET /api/extensions/register", g.handlePreviewExtension)
	mux.HandleFunc("GET /api/extensions/probe", g.handleProbeExtension)
	mux.HandleFunc("GET /api/extensions/{name}", g.handleGetExtension)
	mux.HandleFunc("GET /api/extensions/{name}/capabilities", g.handleExtensionCapabilities)

	mux.Handle("POST /api/extensions", admin(http.HandlerFunc(g.handleRegisterExtension)))
	mux.Handle("POST /api/extensions/refresh", admin(http.HandlerFunc(g.handleRefresh)))
	mux.Handle("DELETE /api/extensions/{name}", admin(http.HandlerFunc(g.handleDeleteExtension)))
	mux.Handle("POST /api/extensions/{name}/execute", admin(http.HandlerFunc(g.handleExecute)))
}

func (g *Gateway) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy", "app": AppName})
}

func (g *Gateway) handleProtocolSchema(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.validator.Documents())
}

func (g *Gateway) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	exts, err := g.store.ListExtensions(r.Context())
	if err != nil {
		g.logger.Error("failed to list extensions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ExtensionResponse, 0, len(exts))
	for _, ext := range exts {
		resp = append(resp, toExtensionResponse(ext))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// lookupExtension resolves the {name} path value, answering 404/500 itself
// when the extension cannot be returned.
func (g *Gateway) lookupExtension(w http.ResponseWriter, r *http.Request) *store.Extension {
	name := r.PathValue("name")
	ext, err := g.store.GetExtension(r.Context(), name)
	if err != nil {
		g.logger.Error("failed to get extension", "extension", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil
	}
	if ext == nil {
		g.sendJSONError(w, http.StatusNotFound, "extension not found: "+name)
		return nil
	}
	return ext
}

func (g *Gateway) handleGetExtension(w http.ResponseWriter, r *http.Request) {
	ext := g.lookupExtension(w, r)
	if ext == nil {
		return
	}
	g.sendJSON(w, http.StatusOK, toExtensionResponse(ext))
}

func (g *Gateway) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	ext := g.lookupExtension(w, r)
	if ext == nil {
		return
	}
	if err := g.store.DeleteExtension(r.Context(), ext.Name); err != nil {
		g.logger.Error("failed to delete extension", "extension", ext.Name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.logger.Info("extension removed", "extension", ext.Name, "by", principal(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterExtension validates an extension against the protocol and
// stores it. Re-registering an existing name replaces its URL and metadata.
func (g *Gateway) handleRegisterExtension(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodySize)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := store.ValidateExtensionName(req.Name); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseURL, err := store.NormalizeURL(req.URL)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, caps, err := g.inspect(r, baseURL)
	if err != nil {
		g.logger.Warn("extension registration rejected", "extension", req.Name, "url", baseURL, "error", err)
		g.sendJSONError(w, extensionErrorStatus(err), err.Error())
		return
	}

	stored, err := g.store.UpsertExtension(r.Context(), &store.Extension{
		Name:        req.Name,
		URL:         baseURL,
		Title:       info.Title,
		Description: info.Description,
		Version:     info.Version,
		Author:      info.Author,
		IconURL:     info.IconURL,
		HomepageURL: info.HomepageURL,
	})
	if err != nil {
		g.logger.Error("failed to store extension", "extension", req.Name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("extension registered",
		"extension", stored.Name,
		"url", stored.URL,
		"version", stored.Version,
		"capabilities", len(caps),
		"by", principal(r),
	)
	g.sendJSON(w, http.StatusCreated, toExtensionResponse(stored))
}

// inspect fetches and validates /info and /capabilities for baseURL.
func (g *Gateway) inspect(r *http.Request, baseURL string) (*extension.Info, json.RawMessage, error) {
	ctx := r.Context()

	info, err := g.extensions.Info(ctx, baseURL)
	if err != nil {
		return nil, nil, err
	}
	rawInfo, err := json.Marshal(info)
	if err != nil {
		return nil, nil, err
	}
	if err := g.validator.ValidateInfo(rawInfo); err != nil {
		return nil, nil, err
	}

	caps, err := g.extensions.CapabilitiesRaw(ctx, baseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := g.validator.ValidateCapabilities(caps); err != nil {
		return nil, nil, err
	}
	return info, caps, nil
}

// extensionErrorStatus maps an extension failure to an HTTP status: the
// extension answered but broke the protocol (422) or could not be reached (502).
func extensionErrorStatus(err error) int {
	if errors.Is(err, extension.ErrInvalidInfo) || errors.Is(err, extension.ErrProtocolViolation) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func (g *Gateway) handlePreviewExtension(w http.ResponseWriter, r *http.Request) {
	baseURL, err := store.NormalizeURL(r.URL.Query().Get("url"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, caps, err := g.inspect(r, baseURL)
	if err != nil {
		g.sendJSONError(w, extensionErrorStatus(err), err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, PreviewResponse{Info: info, Capabilities: caps})
}

func (g *Gateway) handleProbeExtension(w http.ResponseWriter, r *http.Request) {
	baseURL, err := store.NormalizeURL(r.URL.Query().Get("url"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ProbeResponse{URL: baseURL}
	start := time.Now()
	if _, err := g.extensions.Info(r.Context(), baseURL); err != nil {
		resp.Error = err.Error()
	} else {
		resp.InfoOK = true
		if _, err := g.extensions.Capabilities(r.Context(), baseURL); err != nil {
			resp.Error = err.Error()
		} else {
			resp.CapabilitiesOK = true
		}
	}
	resp.LatencyMS = time.Since(start).Milliseconds()

	g.sendJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleExtensionCapabilities(w http.ResponseWriter, r *http.Request) {
	ext := g.lookupExtension(w, r)
	if ext == nil {
		return
	}

	caps, err := g.extensions.CapabilitiesRaw(r.Context(), ext.URL)
	if err != nil {
		g.logger.Warn("failed to fetch capabilities", "extension", ext.Name, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(caps)
}

func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req extension.ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBodySize)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Action == "" {
		g.sendJSONError(w, http.StatusBadRequest, "action is required")
		return
	}

	ext := g.lookupExtension(w, r)
	if ext == nil {
		return
	}

	result, err := g.extensions.Execute(r.Context(), ext.URL, req.Action, req.Parameters)
	if err != nil {
		g.logger.Warn("execute failed", "extension", ext.Name, "action", req.Action, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := g.refresher.RunOnce(r.Context())
	switch {
	case errors.Is(err, refresh.ErrAlreadyRunning):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		g.logger.Error("refresh failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, report)
}

// principal names the authenticated caller for audit logs.
func principal(r *http.Request) string {
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		return authCtx.PrincipalID
	}
	return ""
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
