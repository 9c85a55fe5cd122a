package vars

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/schema"
)

func TestSetGetOverwrite(t *testing.T) {
	s := New(nil)

	_, ok := s.Get("x")
	assert.False(t, ok)

	s.Set("x", 1)
	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	s.Set("x", "replaced")
	v, _ = s.Get("x")
	assert.Equal(t, "replaced", v)
	assert.Equal(t, 1, s.Len())
}

func TestSetDeepCopiesValues(t *testing.T) {
	s := New(nil)

	payload := map[string]any{"items": []any{"a", "b"}}
	s.Set("order", payload)

	// Mutating the original must not affect the store.
	payload["items"].([]any)[0] = "mutated"

	v, _ := s.Get("order")
	items := v.(map[string]any)["items"].([]any)
	assert.Equal(t, "a", items[0])
}

func TestResolvePaths(t *testing.T) {
	s := New(map[string]any{
		"input": map[string]any{
			"user":  map[string]any{"name": "ada"},
			"items": []any{"first", map[string]any{"sku": "X1"}},
		},
	})

	v, err := s.Resolve("input.user.name")
	require.NoError(t, err)
	assert.Equal(t, "ada", v)

	v, err = s.Resolve("input.items.0")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = s.Resolve("input.items.1.sku")
	require.NoError(t, err)
	assert.Equal(t, "X1", v)
}

func TestResolveErrors(t *testing.T) {
	s := New(map[string]any{
		"input": map[string]any{"items": []any{"only"}},
	})

	cases := []string{
		"",
		"missing",
		"input.nope",
		"input.items.5",
		"input.items.not_a_number",
		"input.items.0.deeper",
	}
	for _, path := range cases {
		_, err := s.Resolve(path)
		require.Error(t, err, path)
		var engineErr *schema.EngineError
		require.ErrorAs(t, err, &engineErr, path)
		assert.Equal(t, schema.ErrCodeVariableResolution, engineErr.Code, path)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(map[string]any{"count": 1})

	snap := s.Snapshot()
	snap["count"] = 99
	snap["extra"] = true

	v, _ := s.Get("count")
	assert.Equal(t, 1, v)
	_, ok := s.Get("extra")
	assert.False(t, ok)
}

func TestCloneIsolation(t *testing.T) {
	parent := New(map[string]any{"shared": "original"})

	branch := parent.Clone()
	branch.Set("shared", "branch-write")
	branch.Set("local", true)

	v, _ := parent.Get("shared")
	assert.Equal(t, "original", v)
	_, ok := parent.Get("local")
	assert.False(t, ok)

	// And the parent's later writes stay invisible to the clone.
	parent.Set("later", 1)
	_, ok = branch.Get("later")
	assert.False(t, ok)
}
