package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveQueryLabelsOutcome(t *testing.T) {
	before := sampleCount(t, "observe_test", "error")

	err := errors.New("boom")
	ObserveQuery("observe_test", time.Now().Add(-10*time.Millisecond), &err)

	require.Equal(t, before+1, sampleCount(t, "observe_test", "error"))
	require.Equal(t, uint64(0), sampleCount(t, "observe_test", "ok"))
}

func TestRecordFanoutFailure(t *testing.T) {
	before := testutil.ToFloat64(fanoutFailures.WithLabelValues("fanout_test", "timeout"))
	RecordFanoutFailure("fanout_test", "timeout")
	after := testutil.ToFloat64(fanoutFailures.WithLabelValues("fanout_test", "timeout"))
	require.Equal(t, before+1, after)
}

func TestRecordStoreRead(t *testing.T) {
	before := testutil.ToFloat64(storeReads.WithLabelValues("sandbox", "count", "error"))
	RecordStoreRead("sandbox", "count", errors.New("down"))
	require.Equal(t, before+1, testutil.ToFloat64(storeReads.WithLabelValues("sandbox", "count", "error")))
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("debug", format)
		require.NoError(t, err)
		require.True(t, logger.Core().Enabled(-1))
	}
	require.Equal(t, "info", parseLevel("nonsense").String())
}

func sampleCount(t *testing.T, operation, outcome string) uint64 {
	t.Helper()
	observer, err := queryDuration.GetMetricWithLabelValues(operation, outcome)
	require.NoError(t, err)
	var m dto.Metric
	require.NoError(t, observer.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}
