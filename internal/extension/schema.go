// ABOUTME: JSON Schema documents for the extension contract, reflected from the wire types
// ABOUTME: Compiles them once and validates raw /info and /capabilities bodies against them

package extension

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	infoSchemaURL         = "info.json"
	capabilitiesSchemaURL = "capabilities.json"
)

// Validator checks extension responses against the published schemas.
// It is immutable after construction and safe for concurrent use.
type Validator struct {
	documents    map[string]json.RawMessage
	info         *sjsonschema.Schema
	capabilities *sjsonschema.Schema
}

// NewValidator reflects the Info and Capability types into JSON Schema and
// compiles them.
func NewValidator() (*Validator, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}

	infoDoc, err := json.MarshalIndent(reflector.Reflect(&Info{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling info schema: %w", err)
	}
	capsDoc, err := json.MarshalIndent(reflector.Reflect([]Capability{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling capabilities schema: %w", err)
	}

	info, err := compileSchema(infoSchemaURL, infoDoc)
	if err != nil {
		return nil, err
	}
	caps, err := compileSchema(capabilitiesSchemaURL, capsDoc)
	if err != nil {
		return nil, err
	}

	return &Validator{
		documents: map[string]json.RawMessage{
			"info":         infoDoc,
			"capabilities": capsDoc,
		},
		info:         info,
		capabilities: caps,
	}, nil
}

func compileSchema(url string, doc []byte) (*sjsonschema.Schema, error) {
	c := sjsonschema.NewCompiler()
	c.Draft = sjsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("adding %s: %w", url, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", url, err)
	}
	return schema, nil
}

// Documents returns the schema documents keyed by "info" and "capabilities".
func (v *Validator) Documents() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(v.documents))
	for k, doc := range v.documents {
		out[k] = doc
	}
	return out
}

// ValidateInfo checks a raw /info body. Failures wrap ErrProtocolViolation.
func (v *Validator) ValidateInfo(raw []byte) error {
	return validate(v.info, raw)
}

// ValidateCapabilities checks a raw /capabilities body. Failures wrap
// ErrProtocolViolation.
func (v *Validator) ValidateCapabilities(raw []byte) error {
	return validate(v.capabilities, raw)
}

func validate(schema *sjsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrProtocolViolation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}
