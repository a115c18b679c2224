package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("success", 1, time.Second)
		m.RoundStarted()
		m.Retry("parse")
		m.ParseFailed("no_tool_call")
		m.ReasoningCall(time.Second, nil)
		m.SegmentationCall(time.Second, false, 2, nil)
		m.ToolCall("segment_phrase", nil)
	})
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RunStarted()
	m.RoundStarted()
	m.RoundStarted()
	m.ParseFailed("unknown_tool")
	m.SegmentationCall(10*time.Millisecond, false, 3, nil)
	m.SegmentationCall(0, true, 3, nil)
	m.ToolCall("segment_phrase", errors.New("boom"))
	m.RunFinished("success", 2, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rounds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseFailures.WithLabelValues("unknown_tool")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.masksProduced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("segment_phrase", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("success")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
