package logger

import "context"

type contextKey string

const TraceIDKey contextKey = "trace_id"
const InstanceIDKey contextKey = "instance_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InstanceIDKey, id)
}

func GetInstanceID(ctx context.Context) string {
	if id, ok := ctx.Value(InstanceIDKey).(string); ok {
		return id
	}
	return ""
}
