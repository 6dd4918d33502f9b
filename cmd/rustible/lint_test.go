package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustible/rustible/internal/analysis"
)

func TestParseSeverity_KnownNames(t *testing.T) {
	sev, err := parseSeverity("warning")
	require.NoError(t, err)
	assert.Equal(t, analysis.SeverityWarning, sev)
}

func TestParseSeverity_UnknownNameErrors(t *testing.T) {
	_, err := parseSeverity("bogus")
	assert.Error(t, err)
}
