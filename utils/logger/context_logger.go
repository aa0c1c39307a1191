package logger

import (
	"context"
	"log/slog"
)

type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserIDKey    ContextKey = "user_id"
	// Gateway-specific keys follow the OTel attribute style.
	OperationKey ContextKey = "iam.operation"
	StrategyKey  ContextKey = "iam.strategy"
	GuardKey     ContextKey = "iam.guard"
)

var contextKeys = []ContextKey{RequestIDKey, UserIDKey, OperationKey, StrategyKey, GuardKey}

// GlobalContext is set by Init.
var GlobalContext = NewContextLogger(slog.Default())

// ContextLogger enriches log records with request-scoped values from ctx.
type ContextLogger struct {
	logger *slog.Logger
}

func NewContextLogger(logger *slog.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger carrying every known key present in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	var fields []any
	for _, key := range contextKeys {
		if v := ctx.Value(key); v != nil {
			fields = append(fields, string(key), v)
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogDuration records how long an operation took.
func (cl *ContextLogger) LogDuration(ctx context.Context, operation string, durationMs int64) {
	cl.WithContext(ctx).InfoContext(ctx, "operation completed",
		"operation", operation,
		"duration_ms", durationMs,
	)
}

func (cl *ContextLogger) LogError(ctx context.Context, operation string, err error) {
	cl.WithContext(ctx).ErrorContext(ctx, "operation failed",
		"operation", operation,
		"error", err,
	)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func WithStrategy(ctx context.Context, strategy string) context.Context {
	return context.WithValue(ctx, StrategyKey, strategy)
}

func WithGuard(ctx context.Context, guard string) context.Context {
	return context.WithValue(ctx, GuardKey, guard)
}

// RequestIDFromContext returns the request ID stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}
