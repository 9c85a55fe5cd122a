package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestExprEngineEvaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `x == 1`, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(ctx, `x == 1`, map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, false, out)

	out, err = e.Evaluate(ctx, `user.tier == "gold" && count > 2`, map[string]any{
		"user":  map[string]any{"tier": "gold"},
		"count": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngineDeterministic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"x": 2}

	for i := 0; i < 10; i++ {
		out, err := e.Evaluate(context.Background(), `x == 1`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	}
}

func TestExprEngineCompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `x ==`, nil)
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, schema.ErrCodeValidation, engineErr.Code)
}

func TestCELEngineEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `vars.x == 1`, map[string]any{"x": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `vars.tier == "gold"`, map[string]any{"tier": "silver"})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestCELEngineCompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `vars.x ==`, nil)
	require.Error(t, err)
}

func TestGoJQEngineEvaluate(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.items | length`, map[string]any{
		"items": []any{"a", "b", "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	// Multiple outputs collect into a list.
	out, err = e.Evaluate(context.Background(), `.items[]`, map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}
