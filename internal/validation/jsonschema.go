package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rloza/tramite/pkg/schema"
)

// procedureSchemaJSON is the JSON Schema applied at the procedure ingestion
// boundary. Step configs stay loosely typed here; executors validate their
// own fields at execution time.
const procedureSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tramite.dev/schemas/procedure.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "id": { "type": "string" },
    "organization_id": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "created_at": {},
    "updated_at": {}
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "action"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "title": { "type": "string" },
        "action": {
          "type": "string",
          "enum": ["INPUT", "APPROVAL", "MANUAL_TASK", "NEGOTIATION", "INSPECTION",
                   "AI_PARSE", "DB_INSERT", "GENERATE_DOC", "SEND_EMAIL", "GOOGLE_SHEET",
                   "HTTP_CALL", "COMPUTE", "COMPARE", "VALIDATE", "GATEWAY"]
        },
        "config": { "type": "object" },
        "routes": { "$ref": "#/$defs/routes" },
        "assignment": { "$ref": "#/$defs/assignment" },
        "output_variable": { "type": "string" }
      }
    },
    "routes": {
      "type": "object",
      "properties": {
        "on_success_step_id": { "type": "string" },
        "on_failure_step_id": { "type": "string" },
        "default_next_step_id": { "type": "string" },
        "conditions": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        }
      }
    },
    "condition": {
      "type": "object",
      "required": ["next_step_id"],
      "properties": {
        "variable": { "type": "string" },
        "operator": {
          "type": "string",
          "enum": ["EQUALS", "NOT_EQUALS", "GREATER_THAN", "LESS_THAN",
                   "CONTAINS", "IS_EMPTY", "IS_NOT_EMPTY"]
        },
        "value": {},
        "expression": { "type": "string" },
        "next_step_id": { "type": "string", "minLength": 1 }
      }
    },
    "assignment": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["STARTER", "SPECIFIC_USER", "TEAM_QUEUE"]
        },
        "assignee_id": { "type": "string" }
      }
    }
  }
}`

// ProcedureValidator checks procedures at ingestion: JSON Schema structure
// first, then the semantic rules the schema cannot express.
// Safe for concurrent use.
type ProcedureValidator struct {
	procedureSchema *jsonschema.Schema
}

// NewProcedureValidator compiles the embedded procedure schema.
func NewProcedureValidator() (*ProcedureValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(procedureSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal procedure schema: %w", err)
	}
	if err := c.AddResource("https://tramite.dev/schemas/procedure.json", doc); err != nil {
		return nil, fmt.Errorf("add procedure schema resource: %w", err)
	}
	compiled, err := c.Compile("https://tramite.dev/schemas/procedure.json")
	if err != nil {
		return nil, fmt.Errorf("compile procedure schema: %w", err)
	}

	return &ProcedureValidator{procedureSchema: compiled}, nil
}

// Validate runs the structural and semantic checks.
func (v *ProcedureValidator) Validate(p *schema.Procedure) error {
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "procedure is nil")
	}

	doc, err := toJSONValue(p)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize procedure").WithCause(err)
	}
	if err := v.procedureSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return validateSemantics(p)
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

// toEngineError converts a jsonschema.ValidationError into an EngineError
// with the violating locations enumerated.
func toEngineError(err error) *schema.EngineError {
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
