package observability

import (
	"errors"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/proxyscope/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	obs := NewPromObs(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}), reg)

	obs.IncCounter(SamplesRecordedTotal, 5)
	require.Equal(t, 5.0, testutil.ToFloat64(obs.counters[SamplesRecordedTotal]))

	obs.IncCounter(LogLinesRejectedTotal, 2)
	require.Equal(t, 2.0, testutil.ToFloat64(obs.counters[LogLinesRejectedTotal]))

	obs.SetGauge(EventBufferLength, 42)
	require.Equal(t, 42.0, testutil.ToFloat64(obs.gauges[EventBufferLength]))

	obs.ObserveLatency(TickDurationSeconds, 0.5)
	hCollector := obs.histos[TickDurationSeconds].(prometheus.Collector)
	require.Equal(t, 1, testutil.CollectAndCount(hCollector))

	// Unknown names are ignored rather than registered on the fly.
	obs.IncCounter("not_a_metric", 1)
	obs.SetGauge("not_a_gauge", 1)

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, len(obs.counters)+len(obs.gauges)+len(obs.histos), count)
}

func TestPromObsLogging(t *testing.T) {
	t.Parallel()

	obs := NewPromObs(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}), prometheus.NewRegistry())
	obs.LogDebug("debug", ports.Field{Key: "k", Value: 1})
	obs.LogInfo("info")
	obs.LogWarn("warn", ports.Field{Key: "port", Value: 443})
	obs.LogError("error", errors.New("boom"), ports.Field{Key: "port", Value: 443})
}

func TestToSlogKeepsFieldOrder(t *testing.T) {
	t.Parallel()

	fields := toSlog([]ports.Field{{Key: "port", Value: 443}, {Key: "rows", Value: int64(3)}})
	require.Len(t, fields, 2)
	require.Equal(t, "port", fields[0].Name)
	require.Equal(t, 443, fields[0].Value)
	require.Equal(t, "rows", fields[1].Name)
	require.Equal(t, 3, cap(fields))
}
