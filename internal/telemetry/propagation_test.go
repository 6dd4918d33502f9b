package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestW3C_InjectExtractRoundTrips(t *testing.T) {
	span := NewRootSpan(true)
	carrier := W3C{}.Inject(span)

	got, ok := W3C{}.Extract(carrier)
	require.True(t, ok)
	assert.Equal(t, span.TraceID, got.TraceID)
	assert.Equal(t, span.SpanID, got.SpanID)
	assert.True(t, got.Sampled)
}

func TestW3C_Extract_RejectsWrongVersion(t *testing.T) {
	_, ok := W3C{}.Extract(map[string]string{"traceparent": "01-00000000000000000000000000000001-0000000000000001-01"})
	assert.False(t, ok)
}

func TestW3C_Extract_RejectsMissingHeader(t *testing.T) {
	_, ok := W3C{}.Extract(map[string]string{})
	assert.False(t, ok)
}

func TestB3_InjectExtractRoundTrips(t *testing.T) {
	span := NewRootSpan(true).Child()
	carrier := B3{}.Inject(span)

	got, ok := B3{}.Extract(carrier)
	require.True(t, ok)
	assert.Equal(t, span.TraceID, got.TraceID)
	assert.Equal(t, span.SpanID, got.SpanID)
	assert.Equal(t, span.ParentSpanID, got.ParentSpanID)
}

func TestB3_Extract_DebugDenyIsNotExtracted(t *testing.T) {
	_, ok := B3{}.Extract(map[string]string{"b3": "0"})
	assert.False(t, ok)
}

func TestSSHEnv_InjectExtractRoundTrips(t *testing.T) {
	span := NewRootSpan(false)
	carrier := SSHEnv{}.Inject(span)

	got, ok := SSHEnv{}.Extract(carrier)
	require.True(t, ok)
	assert.Equal(t, span.TraceID, got.TraceID)
	assert.Equal(t, span.SpanID, got.SpanID)
}

func TestPrefix_ProducesShellSafeAssignment(t *testing.T) {
	span := NewRootSpan(true)
	prefix := Prefix(span)
	assert.Contains(t, prefix, "RUSTIBLE_TRACEPARENT=")
}

func TestSpan_ChildSharesTraceIDWithNewSpanID(t *testing.T) {
	root := NewRootSpan(true)
	child := root.Child()
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
	assert.Equal(t, root.SpanID, child.ParentSpanID)
}
