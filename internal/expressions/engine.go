// Package expressions provides the engine's expression surface: boolean
// branch/loop conditions (expr-lang by default, CEL opt-in), jq transforms,
// and ${path} interpolation over the variable store.
package expressions

import "context"

// Engine evaluates a side-effect-free expression against a data environment.
// Implementations: Expr (default condition language), CEL, GoJQ (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
