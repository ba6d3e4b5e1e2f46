// ABOUTME: Tests for schema reflection and validation of extension responses
// ABOUTME: Ensures the generated documents accept valid bodies and reject contract breaks

package extension

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidator_Documents(t *testing.T) {
	v := newTestValidator(t)
	docs := v.Documents()

	require.Contains(t, docs, "info")
	require.Contains(t, docs, "capabilities")

	var info map[string]any
	require.NoError(t, json.Unmarshal(docs["info"], &info))
	assert.Equal(t, "object", info["type"])
	assert.ElementsMatch(t, []any{"title", "description", "version"}, info["required"])

	var caps map[string]any
	require.NoError(t, json.Unmarshal(docs["capabilities"], &caps))
	assert.Equal(t, "array", caps["type"])
}

func TestValidator_ValidateInfo(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", calcInfo, false},
		{"extra fields allowed", `{"title":"t","description":"d","version":"1.0.0","extra":true}`, false},
		{"missing version", `{"title":"t","description":"d"}`, true},
		{"wrong type", `{"title":1,"description":"d","version":"1.0.0"}`, true},
		{"array", `[]`, true},
		{"not json", `nope`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInfo([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProtocolViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_ValidateCapabilities(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", calcCapabilities, false},
		{"empty array", `[]`, false},
		{"no parameters", `[{"name":"ping","description":"Ping"}]`, false},
		{"enum values", `[{"name":"x","description":"d","parameters":[{"name":"op","type":"string","required":false,"enum":["a","b"]}]}]`, false},
		{"object not array", `{"name":"add","description":"d"}`, true},
		{"missing name", `[{"description":"d"}]`, true},
		{"parameter missing required flag", `[{"name":"x","description":"d","parameters":[{"name":"a","type":"number"}]}]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCapabilities([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProtocolViolation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
