package telemetry

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Propagator converts a Span to and from a carrier's string key=value
// pairs. Extract returns ok=false (never panics) on any malformed input,
// per the strict-parsing rule.
type Propagator interface {
	Inject(s Span) map[string]string
	Extract(carrier map[string]string) (Span, bool)
}

// W3C implements the traceparent/tracestate header pair, version "00" only.
type W3C struct{}

const w3cVersion = "00"

func (W3C) Inject(s Span) map[string]string {
	flags := "00"
	if s.Sampled {
		flags = "01"
	}
	out := map[string]string{
		"traceparent": fmt.Sprintf("%s-%s-%s-%s", w3cVersion, s.TraceID, s.SpanID, flags),
	}
	if ts := s.State.String(); ts != "" {
		out["tracestate"] = ts
	}
	return out
}

func (W3C) Extract(carrier map[string]string) (Span, bool) {
	tp, ok := carrier["traceparent"]
	if !ok {
		return Span{}, false
	}
	parts := strings.Split(tp, "-")
	if len(parts) != 4 || parts[0] != w3cVersion {
		return Span{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[1])
	if err != nil || !traceID.IsValid() {
		return Span{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[2])
	if err != nil || !spanID.IsValid() {
		return Span{}, false
	}
	if len(parts[3]) != 2 {
		return Span{}, false
	}
	sampled := parts[3] == "01"

	state := trace.TraceState{}
	if ts, ok := carrier["tracestate"]; ok {
		parsed, err := trace.ParseTraceState(ts)
		if err != nil {
			return Span{}, false
		}
		state = parsed
	}

	return Span{TraceID: traceID, SpanID: spanID, Sampled: sampled, State: state}, true
}

// B3 implements the single-header form: b3: {trace_id}-{span_id}-{sampled}[-{parent_span_id}].
// No contrib propagator package is in use here; the format is small
// enough to parse directly rather than adding a dependency for it.
type B3 struct{}

func (B3) Inject(s Span) map[string]string {
	sampled := "0"
	if s.Sampled {
		sampled = "1"
	}
	value := fmt.Sprintf("%s-%s-%s", s.TraceID, s.SpanID, sampled)
	if s.ParentSpanID.IsValid() {
		value += "-" + s.ParentSpanID.String()
	}
	return map[string]string{"b3": value}
}

func (B3) Extract(carrier map[string]string) (Span, bool) {
	raw, ok := carrier["b3"]
	if !ok {
		return Span{}, false
	}
	if raw == "0" {
		return Span{}, false // explicit debug-deny per B3 spec; nothing to extract
	}
	parts := strings.Split(raw, "-")
	if len(parts) < 3 {
		return Span{}, false
	}
	traceID, err := trace.TraceIDFromHex(parts[0])
	if err != nil || !traceID.IsValid() {
		return Span{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[1])
	if err != nil || !spanID.IsValid() {
		return Span{}, false
	}
	sampled := parts[2] == "1" || parts[2] == "d"

	span := Span{TraceID: traceID, SpanID: spanID, Sampled: sampled}
	if len(parts) >= 4 {
		parentID, err := trace.SpanIDFromHex(parts[3])
		if err != nil || !parentID.IsValid() {
			return Span{}, false
		}
		span.ParentSpanID = parentID
	}
	return span, true
}

// SSHEnv emits RUSTIBLE_TRACEPARENT/RUSTIBLE_TRACESTATE as shell-quoted
// environment assignments, prefixable to a remote command so the span
// context survives an SSH exec where no header channel exists.
type SSHEnv struct{}

func (SSHEnv) Inject(s Span) map[string]string {
	w3c := W3C{}.Inject(s)
	out := map[string]string{
		"RUSTIBLE_TRACEPARENT": w3c["traceparent"],
	}
	if ts, ok := w3c["tracestate"]; ok {
		out["RUSTIBLE_TRACESTATE"] = ts
	}
	return out
}

func (SSHEnv) Extract(carrier map[string]string) (Span, bool) {
	mapped := map[string]string{}
	if v, ok := carrier["RUSTIBLE_TRACEPARENT"]; ok {
		mapped["traceparent"] = v
	}
	if v, ok := carrier["RUSTIBLE_TRACESTATE"]; ok {
		mapped["tracestate"] = v
	}
	return W3C{}.Extract(mapped)
}

// Prefix renders the SSHEnv carrier as a shell-safe assignment sequence
// that can be prepended to a remote command, e.g.
// "RUSTIBLE_TRACEPARENT='00-...-01' RUSTIBLE_TRACESTATE='...' ".
func Prefix(s Span) string {
	env := SSHEnv{}.Inject(s)
	var b strings.Builder
	for _, key := range []string{"RUSTIBLE_TRACEPARENT", "RUSTIBLE_TRACESTATE"} {
		v, ok := env[key]
		if !ok {
			continue
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(shellQuote(v))
		b.WriteByte(' ')
	}
	return b.String()
}

// shellQuote wraps v in single quotes, escaping any single quote inside
// it via the standard '"'"' technique so the result is safe to splice
// into a /bin/sh -c command line.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
