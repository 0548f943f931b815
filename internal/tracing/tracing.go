// Package tracing wires OpenTelemetry spans around node operations.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "replicawatch"

// Setup installs a global tracer provider exporting to w when enable is
// true. w defaults to stderr. The returned function flushes and stops the
// provider and should be deferred.
func Setup(enable bool, w io.Writer) (func(context.Context) error, error) {
	if !enable {
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		w = os.Stderr
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartNodeSpan starts a span for one operation against node. The returned
// function ends the span and records err on it when non-nil. With no
// provider installed the global no-op tracer is used.
func StartNodeSpan(ctx context.Context, op, node string) (context.Context, func(err error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "node."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("replicawatch.node", node),
			attribute.String("replicawatch.op", op),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
