// ABOUTME: Wire types for the extension HTTP contract (/info, /capabilities, /execute)
// ABOUTME: Includes semantic validation of /info and decoding helpers for capabilities

package extension

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Protocol errors
var (
	// ErrInvalidInfo means /info answered but is missing required fields or
	// carries a malformed version.
	ErrInvalidInfo = errors.New("invalid extension info")

	// ErrProtocolViolation means an extension answered with a body whose
	// shape breaks the contract, such as a non-array /capabilities.
	ErrProtocolViolation = errors.New("extension protocol violation")
)

// Info is the metadata an extension reports from GET /info.
type Info struct {
	Title       string `json:"title" jsonschema:"description=Human-readable display name"`
	Description string `json:"description" jsonschema:"description=One-line summary of what the extension does"`
	Version     string `json:"version" jsonschema:"description=Semantic version such as 1.0.0"`
	Author      string `json:"author,omitempty"`
	IconURL     string `json:"icon_url,omitempty"`
	HomepageURL string `json:"homepage_url,omitempty"`
}

// Capability is one action an extension exposes via GET /capabilities.
type Capability struct {
	Name        string      `json:"name" jsonschema:"description=Action name accepted by /execute"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Parameter describes one input of a Capability. When Enum is present the
// agent should only send listed values, and Example is not shown.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type" jsonschema:"description=JSON type hint such as string or number"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Example     any      `json:"example,omitempty"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// ExecuteResult is the extension's own result envelope. Data is relayed
// without reinterpreting its shape.
type ExecuteResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HasData reports whether the result carries a non-null payload.
func (r *ExecuteResult) HasData() bool {
	trimmed := bytes.TrimSpace(r.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Validate checks the required /info fields and that Version parses as semver.
func (i *Info) Validate() error {
	var missing []string
	if strings.TrimSpace(i.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(i.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(i.Version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required field(s): %s", ErrInvalidInfo, strings.Join(missing, ", "))
	}

	if _, err := semver.NewVersion(i.Version); err != nil {
		return fmt.Errorf("%w: version %q is not a semantic version: %v", ErrInvalidInfo, i.Version, err)
	}
	return nil
}

// DecodeCapabilities parses a /capabilities body. Anything other than a JSON
// array is a protocol violation.
func DecodeCapabilities(raw []byte) ([]Capability, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: /capabilities must return a JSON array", ErrProtocolViolation)
	}

	var caps []Capability
	if err := json.Unmarshal(trimmed, &caps); err != nil {
		return nil, fmt.Errorf("%w: malformed capabilities: %v", ErrProtocolViolation, err)
	}
	return caps, nil
}
