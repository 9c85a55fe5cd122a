package validation

import "github.com/weftlabs/weft/pkg/schema"

// Validator checks workflow definitions and run data for correctness.
// Uses JSON Schema Draft 2020-12 for input/output validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
	ValidateOutput(output map[string]any, outputSchema []byte) error
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (pointer targets, typed config payloads)
// 3. Reachability (steps no path can reach)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator() (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: later stages assume a well-shaped document.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def))

	// Reachability assumes all pointer targets resolve.
	if result.Valid() {
		result.Merge(validateReachability(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateInput validates run input against the definition's input schema.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateData(input, inputSchema)
}

// ValidateOutput validates run output against the definition's output schema.
func (wv *WorkflowValidator) ValidateOutput(output map[string]any, outputSchema []byte) error {
	return wv.jsonSchema.ValidateData(output, outputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	engineErr, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if engineErr.Details != nil {
		if violations, ok := engineErr.Details["violations"].([]string); ok {
			for _, violation := range violations {
				result.AddError("/", schema.ErrCodeValidation, violation)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, engineErr.Message)
	return result
}
