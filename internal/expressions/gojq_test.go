package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqio/verdict/pkg/schema"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*GoJQEngine)(nil)
}

func TestGoJQ_FactAccess(t *testing.T) {
	e := NewGoJQEngine()
	data := Scope(map[string]any{"amount": 1500.0, "scores": []any{10, 20, 5}}, nil)

	out, err := e.Evaluate(context.Background(), ".facts.amount * 0.1", data)
	require.NoError(t, err)
	assert.Equal(t, 150.0, out)

	out, err = e.Evaluate(context.Background(), ".facts.scores | add", data)
	require.NoError(t, err)
	assert.Equal(t, 35.0, out)
}

func TestGoJQ_IntFactsAreNormalized(t *testing.T) {
	e := NewGoJQEngine()
	data := Scope(map[string]any{"n": 7}, nil)

	out, err := e.Evaluate(context.Background(), ".facts.n + 1", data)
	require.NoError(t, err)
	assert.Equal(t, 8.0, out)
}

func TestGoJQ_MultipleOutputsCollect(t *testing.T) {
	e := NewGoJQEngine()
	data := Scope(map[string]any{"scores": []any{1.0, 2.0}}, nil)

	out, err := e.Evaluate(context.Background(), ".facts.scores[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".facts | |", map[string]any{})
	require.Error(t, err)
	var verr *schema.VerdictError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeExpression, verr.Code)
}

func TestGoJQ_SandboxBlocksEnv(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}
