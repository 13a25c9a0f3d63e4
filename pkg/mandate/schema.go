package mandate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// Stage payloads are loosely structured at the wire level; each stage
// type carries a fixed, versioned JSON Schema here. Unknown and missing
// fields are rejected explicitly, never accessed defensively.
const (
	intentSchemaJSON = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["description"],
		"additionalProperties": false,
		"properties": {
			"description": {"type": "string", "minLength": 1},
			"constraints": {
				"type": "object",
				"additionalProperties": false,
				"properties": {
					"max_amount": {"type": "integer", "minimum": 1},
					"merchants": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}`

	cartSchemaJSON = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["items", "total"],
		"additionalProperties": false,
		"properties": {
			"items": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["sku", "quantity", "unit_price"],
					"additionalProperties": false,
					"properties": {
						"sku": {"type": "string", "minLength": 1},
						"quantity": {"type": "integer", "minimum": 1},
						"unit_price": {"type": "integer", "minimum": 0}
					}
				}
			},
			"total": {"type": "integer", "minimum": 0}
		}
	}`

	paymentSchemaJSON = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["amount", "currency", "merchant", "scope"],
		"additionalProperties": false,
		"properties": {
			"amount": {"type": "integer", "minimum": 1},
			"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
			"merchant": {"type": "string", "minLength": 1},
			"scope": {"type": "string", "enum": ["on-chain", "checkout", "api"]},
			"wallet_ref": {"type": "string"},
			"description": {"type": "string"}
		}
	}`
)

// supportedSchemas constrains the schema versions this kernel accepts.
var supportedSchemas = semver.MustParse("1.0.0")

// SchemaRegistry validates stage payloads against their per-type schema.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[contracts.StageType]*jsonschema.Schema
}

// NewSchemaRegistry compiles the built-in v1 stage schemas.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[contracts.StageType]*jsonschema.Schema)}
	for st, src := range map[contracts.StageType]string{
		contracts.StageIntent:  intentSchemaJSON,
		contracts.StageCart:    cartSchemaJSON,
		contracts.StagePayment: paymentSchemaJSON,
	} {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("payguard://schemas/%s/v1.json", st)
		if err := c.AddResource(url, bytes.NewReader([]byte(src))); err != nil {
			return nil, fmt.Errorf("schema %s: %w", st, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", st, err)
		}
		r.schemas[st] = schema
	}
	return r, nil
}

// Validate checks the stage's declared schema version and validates its
// payload against the schema for its type.
func (r *SchemaRegistry) Validate(s *contracts.Stage) error {
	ver, err := semver.NewVersion(s.SchemaVersion)
	if err != nil {
		return fmt.Errorf("stage %s: invalid schema version %q: %w", s.ID, s.SchemaVersion, err)
	}
	if ver.Major() != supportedSchemas.Major() {
		return fmt.Errorf("stage %s: unsupported schema version %s", s.ID, s.SchemaVersion)
	}

	r.mu.RLock()
	schema, ok := r.schemas[s.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("stage %s: unknown stage type %q", s.ID, s.Type)
	}

	var payload any
	if err := jsonUnmarshalStrictNumber(s.Payload, &payload); err != nil {
		return fmt.Errorf("stage %s: payload is not valid JSON: %w", s.ID, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("stage %s: payload rejected: %w", s.ID, err)
	}
	return nil
}

// jsonUnmarshalStrictNumber decodes JSON preserving number precision so
// large minor-unit amounts survive schema validation intact.
func jsonUnmarshalStrictNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
