// ABOUTME: HTTP client for the three-call extension contract with per-call timeouts
// ABOUTME: Every failure is a single CallError carrying its cause; calls are never retried

package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Default per-call timeouts. Execute gets longer because actions may do real work.
const (
	DefaultInfoTimeout         = 10 * time.Second
	DefaultCapabilitiesTimeout = 10 * time.Second
	DefaultExecuteTimeout      = 30 * time.Second
)

// MaxResponseBodySize caps how much of an extension response is read (4MB).
const MaxResponseBodySize = 4 << 20

// Call names used in errors and logs.
const (
	CallInfo         = "info"
	CallCapabilities = "capabilities"
	CallExecute      = "execute"
)

// CallError is the single failure condition for any extension call: a
// transport error, timeout, non-2xx status, or malformed body.
type CallError struct {
	Call   string // info, capabilities or execute
	URL    string // full URL that was called
	Status int    // HTTP status, zero when no response was received
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Call, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Call, e.URL, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Prober is the subset of Client used by callers that only read metadata
// and execute actions. It exists so tests can substitute a fake.
type Prober interface {
	Info(ctx context.Context, baseURL string) (*Info, error)
	Capabilities(ctx context.Context, baseURL string) ([]Capability, error)
	Execute(ctx context.Context, baseURL, action string, params map[string]any) (*ExecuteResult, error)
}

// ClientConfig holds configuration for the extension client.
type ClientConfig struct {
	HTTPClient          *http.Client
	InfoTimeout         time.Duration
	CapabilitiesTimeout time.Duration
	ExecuteTimeout      time.Duration
	Logger              *slog.Logger
}

// Client speaks the extension contract. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	http                *http.Client
	infoTimeout         time.Duration
	capabilitiesTimeout time.Duration
	executeTimeout      time.Duration
	logger              *slog.Logger
}

// NewClient creates a Client, filling unset timeouts with the defaults.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		http:                httpClient,
		infoTimeout:         cfg.InfoTimeout,
		capabilitiesTimeout: cfg.CapabilitiesTimeout,
		executeTimeout:      cfg.ExecuteTimeout,
		logger:              logger,
	}
	if c.infoTimeout <= 0 {
		c.infoTimeout = DefaultInfoTimeout
	}
	if c.capabilitiesTimeout <= 0 {
		c.capabilitiesTimeout = DefaultCapabilitiesTimeout
	}
	if c.executeTimeout <= 0 {
		c.executeTimeout = DefaultExecuteTimeout
	}
	return c
}

// Info fetches GET {baseURL}/info and validates the required fields.
// Transport failures are *CallError; a reachable extension with bad metadata
// yields ErrInvalidInfo.
func (c *Client) Info(ctx context.Context, baseURL string) (*Info, error) {
	raw, err := c.do(ctx, CallInfo, http.MethodGet, baseURL+"/info", c.infoTimeout, nil)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &CallError{Call: CallInfo, URL: baseURL + "/info", Err: fmt.Errorf("malformed response body: %w", err)}
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}

// CapabilitiesRaw fetches GET {baseURL}/capabilities and returns the body
// after checking it is a JSON array.
func (c *Client) CapabilitiesRaw(ctx context.Context, baseURL string) (json.RawMessage, error) {
	url := baseURL + "/capabilities"
	raw, err := c.do(ctx, CallCapabilities, http.MethodGet, url, c.capabilitiesTimeout, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &CallError{Call: CallCapabilities, URL: url, Err: fmt.Errorf("%w: /capabilities must return a JSON array", ErrProtocolViolation)}
	}
	return json.RawMessage(trimmed), nil
}

// Capabilities fetches and decodes GET {baseURL}/capabilities.
func (c *Client) Capabilities(ctx context.Context, baseURL string) ([]Capability, error) {
	raw, err := c.CapabilitiesRaw(ctx, baseURL)
	if err != nil {
		return nil, err
	}

	caps, err := DecodeCapabilities(raw)
	if err != nil {
		return nil, &CallError{Call: CallCapabilities, URL: baseURL + "/capabilities", Err: err}
	}
	return caps, nil
}

// Execute posts {action, parameters} to {baseURL}/execute and returns the
// extension's envelope as-is. A nil params map is sent as {}.
func (c *Client) Execute(ctx context.Context, baseURL, action string, params map[string]any) (*ExecuteResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	url := baseURL + "/execute"

	raw, err := c.do(ctx, CallExecute, http.MethodPost, url, c.executeTimeout, ExecuteRequest{
		Action:     action,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}

	var result ExecuteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &CallError{Call: CallExecute, URL: url, Err: fmt.Errorf("malformed response body: %w", err)}
	}
	return &result, nil
}

// do performs one HTTP exchange bounded by timeout and returns the raw body
// of a 2xx response.
func (c *Client) do(ctx context.Context, call, method, url string, timeout time.Duration, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &CallError{Call: call, URL: url, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &CallError{Call: call, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		c.logger.Debug("extension call failed", "call", call, "url", url, "error", err)
		return nil, &CallError{Call: call, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize+1))
	if err != nil {
		return nil, &CallError{Call: call, URL: url, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if len(data) > MaxResponseBodySize {
		return nil, &CallError{Call: call, URL: url, Status: resp.StatusCode, Err: errors.New("response body too large")}
	}

	c.logger.Debug("extension call",
		"call", call,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{Call: call, URL: url, Status: resp.StatusCode, Err: errors.New(statusDetail(resp.StatusCode, data))}
	}
	return data, nil
}

// statusDetail summarizes a failed response, preferring a short body excerpt.
func statusDetail(status int, body []byte) string {
	excerpt := strings.TrimSpace(string(body))
	if excerpt == "" {
		return http.StatusText(status)
	}
	const maxExcerpt = 200
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt] + "..."
	}
	return excerpt
}

var _ Prober = (*Client)(nil)
