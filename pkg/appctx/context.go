// Package appctx carries request-scoped identity through the call chain.
package appctx

import "context"

type ContextKey string

var (
	RequestIDKey    = ContextKey("X-Request-Id")
	SourceSystemKey = ContextKey("X-Source-System")
	ActorKey        = ContextKey("X-Actor")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetSourceSystem(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceSystemKey, source)
}

func GetSourceSystem(ctx context.Context) string {
	value, ok := ctx.Value(SourceSystemKey).(string)
	if !ok {
		return ""
	}
	return value
}

// SetActor records the staff member or job performing review dispositions.
func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func GetActor(ctx context.Context) string {
	value, ok := ctx.Value(ActorKey).(string)
	if !ok {
		return ""
	}
	return value
}
