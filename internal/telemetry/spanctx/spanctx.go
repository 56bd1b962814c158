// Package spanctx wraps a mesh event as an OpenTelemetry span; the
// topology engine's DIO transmission is the one event that calls it.
// It generalizes the teacher's lookuptrace idiom (a tracer
// opened around one named operation, closed on return) from "gRPC
// lookup" to "topology/slope event"; there is no gRPC metadata
// propagation here because motes never make RPCs.
package spanctx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aqmesh/topology"

var tracer = otel.Tracer(tracerName)

// Start opens a span for the named mesh operation and returns the
// derived context plus an end func. Callers should `defer end(err)`.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
