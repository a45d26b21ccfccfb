package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/arqio/verdict/pkg/schema"
)

// tableSchemaJSON is the JSON Schema for DecisionTable validation.
// Embedded as a constant to avoid filesystem dependencies.
const tableSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://arqio.dev/schemas/verdict/decision-table.json",
  "type": "object",
  "required": ["id", "hit_policy", "inputs", "outputs", "rules"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1
    },
    "name": { "type": "string" },
    "hit_policy": {
      "type": "string",
      "enum": ["first", "unique", "any", "priority", "collect", "collect-sum", "collect-min", "collect-max", "collect-count"]
    },
    "status": {
      "type": "string",
      "enum": ["draft", "published", "archived"]
    },
    "version": {
      "type": "integer",
      "minimum": 0
    },
    "inputs": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/input" }
    },
    "outputs": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/output" }
    },
    "rules": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/rule" }
    },
    "test_cases": {
      "type": "array",
      "items": { "$ref": "#/$defs/test_case" }
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "input": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "label": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["string", "number", "boolean", "date", "list"]
        },
        "required": { "type": "boolean" },
        "allowed_values": { "type": "array" },
        "default": {}
      },
      "additionalProperties": false
    },
    "output": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "label": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["string", "number", "boolean", "object", "list", "date"]
        },
        "default": {}
      },
      "additionalProperties": false
    },
    "rule": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "priority": { "type": "integer" },
        "disabled": { "type": "boolean" },
        "conditions": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/condition" }
        },
        "outputs": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/output_spec" }
        },
        "annotation": { "type": "string" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["op"],
      "properties": {
        "op": {
          "type": "string",
          "enum": ["eq", "neq", "gt", "gte", "lt", "lte", "between", "in", "contains", "starts", "ends", "regex", "empty", "any"]
        },
        "value": {}
      },
      "additionalProperties": false
    },
    "output_spec": {
      "type": "object",
      "properties": {
        "value": {},
        "expression": { "type": "string" }
      },
      "additionalProperties": false
    },
    "test_case": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "name": { "type": "string" },
        "facts": { "type": ["object", "null"] },
        "expected": { "type": ["object", "null"] },
        "last_outcome": {
          "type": "string",
          "enum": ["passed", "failed"]
        },
        "last_run_at": {
          "type": "string",
          "format": "date-time"
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator runs the structural validation stage using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	tableSchema *jsonschema.Schema

	// mu guards the cache of compiled derived facts schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the decision-table
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(tableSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal decision-table schema: %w", err)
	}
	if err := c.AddResource("https://arqio.dev/schemas/verdict/decision-table.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add decision-table schema resource: %w", err)
	}

	tblSchema, err := c.Compile("https://arqio.dev/schemas/verdict/decision-table.json")
	if err != nil {
		return nil, fmt.Errorf("compile decision-table schema: %w", err)
	}

	return &JSONSchemaValidator{
		tableSchema: tblSchema,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateTable validates a DecisionTable against the embedded JSON Schema,
// then applies the structural checks JSON Schema cannot express: duplicate
// ids within the input, output, rule, and test-case collections.
func (v *JSONSchemaValidator) ValidateTable(table *schema.DecisionTable) error {
	if table == nil {
		return schema.NewError(schema.ErrCodeValidation, "decision table is nil")
	}

	doc, err := toJSONValue(table)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize decision table").WithCause(err)
	}

	if err := v.tableSchema.Validate(doc); err != nil {
		return toVerdictError(err)
	}

	var violations []string
	violations = appendDuplicateIDs(violations, "inputs", len(table.Inputs), func(i int) string { return table.Inputs[i].ID })
	violations = appendDuplicateIDs(violations, "outputs", len(table.Outputs), func(i int) string { return table.Outputs[i].ID })
	violations = appendDuplicateIDs(violations, "rules", len(table.Rules), func(i int) string { return table.Rules[i].ID })
	violations = appendDuplicateIDs(violations, "test_cases", len(table.TestCases), func(i int) string { return table.TestCases[i].ID })
	if len(violations) > 0 {
		msg := violations[0]
		if len(violations) > 1 {
			msg = fmt.Sprintf("validation failed with %d errors", len(violations))
		}
		return schema.NewError(schema.ErrCodeValidation, msg).
			WithDetails(map[string]any{"violations": violations})
	}

	return nil
}

// ValidateFacts validates a fact payload against a JSON Schema derived from
// the table's declared Inputs. The derived schema is compiled and cached for
// subsequent calls against the same table shape. This is a pre-flight
// diagnostic for callers; evaluation itself re-checks required Inputs.
func (v *JSONSchemaValidator) ValidateFacts(table *schema.DecisionTable, facts map[string]any) error {
	if table == nil {
		return schema.NewError(schema.ErrCodeValidation, "decision table is nil")
	}

	raw, err := FactsSchema(table)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to derive facts schema").WithCause(err)
	}

	compiled, err := v.getOrCompile(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid derived facts schema").WithCause(err)
	}

	if facts == nil {
		facts = map[string]any{}
	}
	doc, err := toJSONValue(facts)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize facts").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toVerdictError(err)
	}

	return nil
}

// FactsSchema derives a JSON Schema document for a table's fact payload from
// its declared Inputs: property types follow Input.Type, required Inputs
// become required properties, and allowed_values become enums. Null is always
// admitted since an explicitly null fact is legal for any Input.
func FactsSchema(table *schema.DecisionTable) ([]byte, error) {
	props := make(map[string]any, len(table.Inputs))
	required := make([]string, 0)
	for _, in := range table.Inputs {
		props[in.ID] = factPropertySchema(in)
		if in.Required {
			required = append(required, in.ID)
		}
	}

	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func factPropertySchema(in schema.Input) map[string]any {
	var prop map[string]any
	switch in.Type {
	case schema.InputNumber:
		prop = map[string]any{"type": []string{"number", "null"}}
	case schema.InputBoolean:
		prop = map[string]any{"type": []string{"boolean", "null"}}
	case schema.InputDate:
		prop = map[string]any{
			"type": []string{"string", "null"},
			"anyOf": []any{
				map[string]any{"format": "date-time"},
				map[string]any{"format": "date"},
			},
		}
	case schema.InputList:
		prop = map[string]any{"type": []string{"array", "null"}}
	default:
		prop = map[string]any{"type": []string{"string", "null"}}
	}
	if len(in.AllowedValues) > 0 {
		enum := make([]any, 0, len(in.AllowedValues)+1)
		enum = append(enum, in.AllowedValues...)
		enum = append(enum, nil)
		prop["enum"] = enum
	}
	return prop
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each derived schema gets a unique URL and a fresh compiler to avoid
	// resource collisions.
	url := fmt.Sprintf("verdict://facts-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// appendDuplicateIDs records ids appearing more than once in a collection.
func appendDuplicateIDs(violations []string, collection string, n int, idAt func(int) string) []string {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := idAt(i)
		if _, exists := seen[id]; exists {
			violations = append(violations, fmt.Sprintf("/%s: duplicate id %q", collection, id))
			continue
		}
		seen[id] = struct{}{}
	}
	return violations
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toVerdictError converts a jsonschema.ValidationError into a VerdictError
// with one message per leaf violation.
func toVerdictError(err error) *schema.VerdictError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
