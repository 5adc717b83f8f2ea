package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "dockeragent-core"

// Tracer wraps OpenTelemetry spans around the three core call sites:
// gateway dispatch, executor run, and trajectory finalize.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer resolves a tracer from the global provider; with no provider
// installed every span is a no-op, so callers never guard on nil.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartSpan opens a span named dockeragent.<name>.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dockeragent."+name, trace.WithAttributes(attrs...))
}

// EndSpan closes the span, recording err as the span's status when set.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Attribute keys shared by gateway, executor, and trajectory spans.
var (
	AttrRunID      = attribute.Key("dockeragent.run_id")
	AttrSubcommand = attribute.Key("dockeragent.gateway.subcommand")
	AttrExitCode   = attribute.Key("dockeragent.gateway.exit_code")
	AttrCodeHash   = attribute.Key("dockeragent.executor.code_hash")
	AttrDurationMS = attribute.Key("dockeragent.duration_ms")
)
