package connect

import (
	"context"

	"github.com/weftlabs/weft/internal/expressions"
	"github.com/weftlabs/weft/pkg/schema"
)

// TransformConnector reshapes its payload with a jq expression.
//
// Config keys: expression (required). The payload is the jq input
// document; the transformed value is the action output.
type TransformConnector struct {
	engine *expressions.GoJQEngine
}

// NewTransformConnector creates a transform connector backed by gojq.
func NewTransformConnector() *TransformConnector {
	return &TransformConnector{engine: expressions.NewGoJQEngine()}
}

func (c *TransformConnector) Invoke(ctx context.Context, config map[string]any, payload map[string]any) (any, error) {
	expression := stringParam(config, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform: expression is required")
	}
	return c.engine.Evaluate(ctx, expression, payload)
}
