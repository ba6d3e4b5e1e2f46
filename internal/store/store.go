// ABOUTME: Store interface and data types for the jesseverse extension registry
// ABOUTME: Defines the Extension record, name/URL validation, and the ExtensionStore interface

package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Validation errors for extension records
var (
	ErrInvalidName = errors.New("invalid extension name")
	ErrInvalidURL  = errors.New("invalid extension url")
)

// Extension is a registered extension backend.
// Name is the unique, URL-safe key; URL never carries a trailing slash.
type Extension struct {
	ID           string
	Name         string
	URL          string
	Title        string
	Description  string
	Version      string
	Author       string
	IconURL      string
	HomepageURL  string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// ExtensionStore is the registry view the hub core depends on.
type ExtensionStore interface {
	// ListExtensions returns every extension ordered by name ascending.
	ListExtensions(ctx context.Context) ([]*Extension, error)

	// GetExtension returns the named extension, or nil with no error if absent.
	GetExtension(ctx context.Context, name string) (*Extension, error)

	// UpsertExtension inserts or replaces the record keyed on name and
	// returns the stored row.
	UpsertExtension(ctx context.Context, ext *Extension) (*Extension, error)

	// DeleteExtension removes the named extension. Deleting an absent name
	// is not an error.
	DeleteExtension(ctx context.Context, name string) error
}

// Store is an ExtensionStore that owns a closable resource.
type Store interface {
	ExtensionStore
	Close() error
}

var extensionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateExtensionName checks that name is a lowercase slug usable in URL paths.
func ValidateExtensionName(name string) error {
	if !extensionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (use lowercase letters, digits, '-' or '_', max 63 chars)", ErrInvalidName, name)
	}
	return nil
}

// NormalizeURL validates an extension base URL and strips trailing slashes
// so that "{url}/info" concatenation is unambiguous.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: query and fragment are not allowed", ErrInvalidURL)
	}

	return trimmed, nil
}

// prepareUpsert validates and normalizes a record before it is written.
// The caller's struct is never modified.
func prepareUpsert(ext *Extension) (*Extension, error) {
	if ext == nil {
		return nil, errors.New("extension is required")
	}
	if err := ValidateExtensionName(ext.Name); err != nil {
		return nil, err
	}
	normalized, err := NormalizeURL(ext.URL)
	if err != nil {
		return nil, err
	}

	e := *ext
	e.URL = normalized
	return &e, nil
}
