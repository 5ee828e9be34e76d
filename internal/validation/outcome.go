package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// outcomeSchemaJSON is the JSON Schema a worker's stdout document must
// satisfy before the engine trusts it as a step outcome. Embedded as a
// constant to avoid filesystem dependencies.
const outcomeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowline.dev/schemas/outcome.json",
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": { "type": "boolean" },
    "result": { "type": ["object", "null"] },
    "error": { "type": "string" },
    "logs": {
      "type": "array",
      "items": { "type": "string" }
    },
    "errors": {
      "type": "array",
      "items": { "type": "string" }
    },
    "memory_used": {
      "type": "integer",
      "minimum": 0
    },
    "peak_memory": {
      "type": "integer",
      "minimum": 0
    }
  },
  "additionalProperties": false
}`

// OutcomeValidator checks worker output documents and optional per-job input
// schemas. It is safe for concurrent use.
type OutcomeValidator struct {
	outcomeSchema *jsonschema.Schema

	// mu guards the cache for dynamic input schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewOutcomeValidator compiles the embedded outcome schema once.
func NewOutcomeValidator() (*OutcomeValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(outcomeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal outcome schema: %w", err)
	}
	if err := c.AddResource("https://flowline.dev/schemas/outcome.json", doc); err != nil {
		return nil, fmt.Errorf("add outcome schema resource: %w", err)
	}
	compiled, err := c.Compile("https://flowline.dev/schemas/outcome.json")
	if err != nil {
		return nil, fmt.Errorf("compile outcome schema: %w", err)
	}

	return &OutcomeValidator{
		outcomeSchema: compiled,
		cache:         make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateOutcome checks raw worker stdout against the outcome schema and
// decodes it into a StepOutcome.
func (v *OutcomeValidator) ValidateOutcome(raw []byte) (schema.StepOutcome, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.StepOutcome{}, schema.NewError(schema.ErrCodeValidation,
			"worker output is not valid JSON").WithCause(err)
	}
	if err := v.outcomeSchema.Validate(doc); err != nil {
		return schema.StepOutcome{}, toFlowError(err)
	}

	var outcome schema.StepOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return schema.StepOutcome{}, schema.NewError(schema.ErrCodeValidation,
			"decode worker output").WithCause(err)
	}
	return outcome, nil
}

// ValidateInput validates resolved inputs against a JSON Schema provided as
// raw bytes. The compiled schema is cached for subsequent calls.
func (v *OutcomeValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}

	compiled, err := v.compiledInputSchema(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// compiledInputSchema compiles an input schema the first time it is seen;
// the lock is held across compilation so a schema is never compiled twice.
func (v *OutcomeValidator) compiledInputSchema(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("flowline://input-schema/%d", len(v.cache))

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

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// leaf violation messages.
func toFlowError(err error) *schema.FlowError {
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
	return schema.NewErrorf(schema.ErrCodeValidation,
		"validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
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
