package expressions

import (
	"context"

	"github.com/arqio/verdict/pkg/schema"
)

// Engine evaluates derived-output expressions. It is an injected capability:
// the evaluation core never depends on a specific expression syntax.
// Three implementations: Expr (default), CEL, GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ByName returns the engine registered under name. An empty name selects the
// default Expr engine.
func ByName(name string) (Engine, error) {
	switch name {
	case "", "expr":
		return NewExprEngine(), nil
	case "cel":
		return NewCELEngine()
	case "jq":
		return NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "unknown expression engine %q", name)
	}
}
