// Package vars implements the per-run variable store: the single source of
// truth for interpolation and inter-step data passing. One store is owned by
// exactly one execution; parallel branches work on clones that are merged
// back under single-writer semantics at the join point.
package vars

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// InputKey is the reserved key under which the start step seeds the run's
// initial input.
const InputKey = "input"

// Store holds one execution's key/value bindings. Values are deep-copied on
// write so callers can never mutate stored state through retained references.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates a Store seeded with the given initial bindings (deep-copied).
func New(initial map[string]any) *Store {
	return &Store{values: deepCopyMap(initial, true)}
}

// Set binds key to a deep copy of value. Keys are created on first write;
// later writes overwrite.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = deepCopyAny(value)
}

// Delete removes a top-level binding, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Get returns the value bound to key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Resolve walks a dot-delimited path from the store root through nested maps
// and lists (numeric segments index lists). Missing paths return a
// VARIABLE_RESOLUTION error.
func (s *Store) Resolve(path string) (any, error) {
	if path == "" {
		return nil, schema.NewError(schema.ErrCodeVariableResolution, "empty variable path")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	segments := strings.Split(path, ".")
	root, ok := s.values[segments[0]]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeVariableResolution,
			"variable %q not found", segments[0]).
			WithDetails(map[string]any{"path": path})
	}

	current := root
	for _, seg := range segments[1:] {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeVariableResolution,
					"field %q not found in path %q", seg, path).
					WithDetails(map[string]any{"path": path})
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, schema.NewErrorf(schema.ErrCodeVariableResolution,
					"invalid list index %q in path %q", seg, path).
					WithDetails(map[string]any{"path": path})
			}
			current = v[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeVariableResolution,
				"cannot traverse into %T at %q in path %q", current, seg, path).
				WithDetails(map[string]any{"path": path})
		}
	}

	return current, nil
}

// Snapshot returns a deep copy of all current bindings.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.values, false)
}

// Clone returns an independent copy of the store. Used to give parallel
// branches an isolated view seeded from the parent: branches never observe
// each other's writes mid-flight.
func (s *Store) Clone() *Store {
	return &Store{values: s.Snapshot()}
}

// Len returns the number of top-level bindings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// deepCopyMap deep-copies a map[string]any. When allocEmpty is set, a nil
// source yields an empty map (a Store always has a non-nil value map).
func deepCopyMap(m map[string]any, allocEmpty bool) map[string]any {
	if m == nil {
		if allocEmpty {
			return make(map[string]any)
		}
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices; primitives are value types.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val, false)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
