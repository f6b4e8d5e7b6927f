package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// DetachTraceContextFrom copies the trace span from src into baseCtx, so an
// evaluation goroutine inherits baseCtx's cancellation (SIGTERM) while its
// spans stay linked to the request that started it.
func DetachTraceContextFrom(src, baseCtx context.Context) context.Context {
	sc := trace.SpanContextFromContext(src)
	if !sc.IsValid() {
		return baseCtx
	}
	return trace.ContextWithRemoteSpanContext(baseCtx, sc)
}
