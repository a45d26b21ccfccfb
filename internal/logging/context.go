package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	tableIDKey ctxKey = iota
	evaluationIDKey
	testCaseIDKey
)

// WithTableID returns a context with the decision table ID set.
func WithTableID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tableIDKey, id)
}

// WithEvaluationID returns a context with the evaluation ID set.
func WithEvaluationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, evaluationIDKey, id)
}

// WithTestCaseID returns a context with the test case ID set.
func WithTestCaseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, testCaseIDKey, id)
}

// TableID extracts the decision table ID from the context, or "" if absent.
func TableID(ctx context.Context) string {
	v, _ := ctx.Value(tableIDKey).(string)
	return v
}

// EvaluationID extracts the evaluation ID from the context, or "" if absent.
func EvaluationID(ctx context.Context) string {
	v, _ := ctx.Value(evaluationIDKey).(string)
	return v
}

// TestCaseID extracts the test case ID from the context, or "" if absent.
func TestCaseID(ctx context.Context) string {
	v, _ := ctx.Value(testCaseIDKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if tID := TableID(ctx); tID != "" {
		logger = logger.With(slog.String("table_id", tID))
	}
	if eID := EvaluationID(ctx); eID != "" {
		logger = logger.With(slog.String("evaluation_id", eID))
	}
	if tcID := TestCaseID(ctx); tcID != "" {
		logger = logger.With(slog.String("test_case_id", tcID))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := TableID(ctx); v != "" {
		r.AddAttrs(slog.String("table_id", v))
	}
	if v := EvaluationID(ctx); v != "" {
		r.AddAttrs(slog.String("evaluation_id", v))
	}
	if v := TestCaseID(ctx); v != "" {
		r.AddAttrs(slog.String("test_case_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
