// Package tracing provides OpenTelemetry tracing integration.
//
// Spans are created around the operational HTTP surface (via Middleware) and
// around each component's handler loops (via StartSpan). Trace context
// propagates in W3C format; exporter wiring is left to deployment.
//
// Example usage:
//
//	import "catchup-pipeline/internal/observability/tracing"
//
//	func main() {
//	    shutdown := tracing.InitTracer()
//	    defer func() { _ = shutdown(context.Background()) }()
//	}
//
//	func handleEvent(ctx context.Context) {
//	    ctx, span := tracing.StartSpan(ctx, "cluster-article")
//	    defer span.End()
//	    // ... handle event ...
//	}
package tracing
