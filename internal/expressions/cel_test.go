package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCELEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*CELEngine)(nil)
}

func TestCEL_FactAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := Scope(map[string]any{"amount": 1500.0, "region": "eu"}, nil)

	out, err := e.Evaluate(context.Background(), "facts.amount * 0.1", data)
	require.NoError(t, err)
	assert.Equal(t, 150.0, out)

	out, err = e.Evaluate(context.Background(), `facts.region == "eu" ? "silver" : "bronze"`, data)
	require.NoError(t, err)
	assert.Equal(t, "silver", out)
}

func TestCEL_PriorOutputReference(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := Scope(
		map[string]any{"amount": 100.0},
		map[string]any{"tier": "gold"},
	)

	out, err := e.Evaluate(context.Background(), `outputs.tier == "gold"`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingScopeKeysDefaultToEmptyMaps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "size(outputs)", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "facts.amount >", map[string]any{})
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeExpression, verr.Code)
}

func TestCEL_EvaluationError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Key lookup on a map without the key is a CEL runtime error.
	data := Scope(map[string]any{}, nil)
	_, err = e.Evaluate(context.Background(), "facts.amount + 1.0", data)
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeExpression, verr.Code)
}
