package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	userIDKey    contextKey = "user_id"
)

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// ContextLogger attaches call identifiers carried in a context to log lines.
type ContextLogger struct {
	logger *zap.SugaredLogger
}

func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger annotated with any identifiers found in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.SugaredLogger {
	var fields []interface{}
	for _, key := range []contextKey{sessionIDKey, userIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, string(key), v)
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) Infow(ctx context.Context, msg string, kv ...interface{}) {
	cl.WithContext(ctx).Infow(msg, kv...)
}

func (cl *ContextLogger) Warnw(ctx context.Context, msg string, kv ...interface{}) {
	cl.WithContext(ctx).Warnw(msg, kv...)
}

func (cl *ContextLogger) Debugw(ctx context.Context, msg string, kv ...interface{}) {
	cl.WithContext(ctx).Debugw(msg, kv...)
}

func (cl *ContextLogger) Errorw(ctx context.Context, err error, msg string, kv ...interface{}) {
	cl.WithContext(ctx).With("error", err).Errorw(msg, kv...)
}
