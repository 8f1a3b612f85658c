package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_CountsWarningsAndErrors(t *testing.T) {
	sink, err := NewSink("")
	require.NoError(t, err)

	sink.Report(Warning, "truncation", "value truncated", nil)
	sink.Report(Error, "", "undefined symbol FOO", nil)

	counters := sink.Counters()
	assert.Equal(t, 1, counters.Warnings)
	assert.Equal(t, 1, counters.Errors)
	assert.True(t, sink.HasErrors())
	assert.Equal(t, 1, sink.ExitCode())
}

func TestSink_PromotedWarningCountsAsError(t *testing.T) {
	sink, err := NewSink("")
	require.NoError(t, err)

	sink.Promote("truncation")
	sink.Report(Warning, "truncation", "value truncated", nil)

	counters := sink.Counters()
	assert.Equal(t, 0, counters.Warnings)
	assert.Equal(t, 1, counters.Errors)
}

func TestSink_WerrorPromotesEverything(t *testing.T) {
	sink, err := NewSink("")
	require.NoError(t, err)

	sink.Promote("")
	sink.Report(Warning, "obsolete", "obsolete syntax", nil)

	assert.Equal(t, 1, sink.Counters().Errors)
}

func TestCounters_ShouldAbort(t *testing.T) {
	var c Counters
	c.Record(Error)
	c.Record(Error)

	assert.False(t, c.ShouldAbort(0))
	assert.True(t, c.ShouldAbort(2))
	assert.False(t, c.ShouldAbort(3))
}

func TestMakeError_WrapsSentinel(t *testing.T) {
	wrapped := MakeError(ErrUndefined, "symbol %q", "FOO")
	assert.ErrorIs(t, wrapped, ErrUndefined)
	assert.Contains(t, wrapped.Error(), "FOO")
}
