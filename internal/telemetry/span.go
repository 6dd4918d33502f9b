// Package telemetry provides the metrics registry's HTTP exposition, the
// tracing span model with pluggable context propagation, and the local
// observability server (/metrics, /healthz, /events).
package telemetry

import (
	"crypto/rand"

	"go.opentelemetry.io/otel/trace"
)

// Span is the propagation-facing span identity: a 16-byte TraceId, an
// 8-byte SpanId, an optional parent link, a sampling flag, and an
// ordered trace state. It reuses go.opentelemetry.io/otel/trace's
// TraceID/SpanID types since they are already fixed-size 16/8-byte
// arrays matching this shape exactly.
type Span struct {
	TraceID      trace.TraceID
	SpanID       trace.SpanID
	ParentSpanID trace.SpanID
	Sampled      bool
	State        trace.TraceState
}

// NewRootSpan generates a fresh TraceID and SpanID with no parent.
func NewRootSpan(sampled bool) Span {
	return Span{
		TraceID: randomTraceID(),
		SpanID:  randomSpanID(),
		Sampled: sampled,
	}
}

// Child derives a new span sharing the parent's TraceID and sampling
// decision, with a fresh SpanID and ParentSpanID set to the parent's.
func (s Span) Child() Span {
	return Span{
		TraceID:      s.TraceID,
		SpanID:       randomSpanID(),
		ParentSpanID: s.SpanID,
		Sampled:      s.Sampled,
		State:        s.State,
	}
}

func randomTraceID() trace.TraceID {
	var id trace.TraceID
	_, _ = rand.Read(id[:])
	return id
}

func randomSpanID() trace.SpanID {
	var id trace.SpanID
	_, _ = rand.Read(id[:])
	return id
}

// SpanContext converts Span to the otel SDK's SpanContext, for handing
// off to a real Tracer when one is configured.
func (s Span) SpanContext() trace.SpanContext {
	flags := trace.TraceFlags(0)
	if s.Sampled {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    s.TraceID,
		SpanID:     s.SpanID,
		TraceFlags: flags,
		TraceState: s.State,
		Remote:     true,
	})
}
