package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/vars"
	"github.com/weftlabs/weft/pkg/schema"
)

// Interpolation syntax (engine contract):
//
//	${path.to.value}      replaced with the variable store value at that
//	                      dot-path; a missing path fails the step with
//	                      VARIABLE_RESOLUTION (fail-closed).
//	${path:-fallback}     per-field opt-out: substitutes the literal
//	                      fallback (possibly empty) when the path is missing.
//
// A string that consists of exactly one token resolves to the underlying
// structured value; a token embedded in a longer string is stringified.
// Nested interpolation is rejected.

// HasToken reports whether s contains any ${...} reference.
func HasToken(s string) bool {
	return strings.Contains(s, "${")
}

// ResolveValue interpolates every string reachable through v (walking maps
// and slices) against the store. Strings that are exactly one token keep the
// resolved value's structure.
func ResolveValue(v any, store *vars.Store) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, store)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := ResolveValue(item, store)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := ResolveValue(item, store)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString interpolates all tokens in s, stringifying each resolved
// value. Use ResolveValue when structured results matter.
func ResolveString(s string, store *vars.Store) (string, error) {
	v, err := resolveString(s, store)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}

// resolveString handles the whole-token structural case, then falls back to
// token-by-token string substitution.
func resolveString(s string, store *vars.Store) (any, error) {
	if !HasToken(s) {
		return s, nil
	}

	// Whole-token: "${a.b}" returns the structured value.
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		inner := s[2 : len(s)-1]
		if !strings.Contains(inner, "${") && !strings.Contains(inner, "}") {
			return resolveToken(inner, store)
		}
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${ expression")
		}
		end += start

		token := strings.TrimSpace(s[start:end])
		if strings.Contains(token, "${") {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${...} cannot contain ${")
		}
		if token == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${}")
		}

		val, err := resolveToken(token, store)
		if err != nil {
			return nil, err
		}
		result.WriteString(Stringify(val))

		i = end + 1
	}

	return result.String(), nil
}

// resolveToken resolves one path token, honoring the ":-fallback" opt-out.
func resolveToken(token string, store *vars.Store) (any, error) {
	path := token
	fallback := ""
	hasFallback := false
	if idx := strings.Index(token, ":-"); idx != -1 {
		path = strings.TrimSpace(token[:idx])
		fallback = token[idx+2:]
		hasFallback = true
	}

	val, err := store.Resolve(path)
	if err != nil {
		if hasFallback {
			return fallback, nil
		}
		return nil, err
	}
	return val, nil
}

// Stringify renders a resolved value for embedding inside a longer string.
// Complex types are JSON-encoded inline.
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
