// ABOUTME: Thin REST client for the jesseverse registry API
// ABOUTME: Adds admin credentials and turns {"error": ...} bodies into Go errors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient calls the hub's REST API.
type apiClient struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// extension mirrors the hub's extension JSON.
type extension struct {
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

type parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type capability struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []parameter `json:"parameters,omitempty"`
}

type preview struct {
	Info struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Version     string `json:"version"`
		Author      string `json:"author,omitempty"`
	} `json:"info"`
	Capabilities []capability `json:"capabilities"`
}

type probeReport struct {
	URL            string `json:"url"`
	InfoOK         bool   `json:"info_ok"`
	CapabilitiesOK bool   `json:"capabilities_ok"`
	LatencyMS      int64  `json:"latency_ms"`
	Error          string `json:"error,omitempty"`
}

type executeResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type refreshReport struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// apiError is a non-2xx answer from the hub.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) list(ctx context.Context) ([]extension, error) {
	var exts []extension
	err := c.do(ctx, http.MethodGet, "/api/extensions", nil, &exts)
	return exts, err
}

func (c *apiClient) get(ctx context.Context, name string) (*extension, error) {
	var ext extension
	if err := c.do(ctx, http.MethodGet, "/api/extensions/"+url.PathEscape(name), nil, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

func (c *apiClient) capabilities(ctx context.Context, name string) ([]capability, error) {
	var caps []capability
	err := c.do(ctx, http.MethodGet, "/api/extensions/"+url.PathEscape(name)+"/capabilities", nil, &caps)
	return caps, err
}

func (c *apiClient) register(ctx context.Context, name, extURL string) (*extension, error) {
	var ext extension
	body := map[string]string{"name": name, "url": extURL}
	if err := c.do(ctx, http.MethodPost, "/api/extensions", body, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

func (c *apiClient) remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/extensions/"+url.PathEscape(name), nil, nil)
}

func (c *apiClient) preview(ctx context.Context, extURL string) (*preview, error) {
	var p preview
	if err := c.do(ctx, http.MethodGet, "/api/extensions/register?url="+url.QueryEscape(extURL), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *apiClient) probe(ctx context.Context, extURL string) (*probeReport, error) {
	var p probeReport
	if err := c.do(ctx, http.MethodGet, "/api/extensions/probe?url="+url.QueryEscape(extURL), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *apiClient) execute(ctx context.Context, name, action string, params map[string]any) (*executeResult, error) {
	var res executeResult
	body := map[string]any{"action": action, "parameters": params}
	if err := c.do(ctx, http.MethodPost, "/api/extensions/"+url.PathEscape(name)+"/execute", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) refresh(ctx context.Context) (*refreshReport, error) {
	var r refreshReport
	if err := c.do(ctx, http.MethodPost, "/api/extensions/refresh", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
