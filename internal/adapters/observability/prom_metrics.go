package observability

import (
	"context"

	"cdr.dev/slog/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/proxyscope/internal/ports"
)

// Metric names shared by the pipeline and the adapter.
const (
	LogLinesTotal         = "proxyscope_log_lines_total"
	LogLinesRejectedTotal = "proxyscope_log_lines_rejected_total"
	EventsBufferedTotal   = "proxyscope_events_buffered_total"
	TailerReopensTotal    = "proxyscope_tailer_reopens_total"
	TicksTotal            = "proxyscope_ticks_total"
	TickFailuresTotal     = "proxyscope_tick_failures_total"
	SamplesRecordedTotal  = "proxyscope_samples_recorded_total"
	CounterOverflowTotal  = "proxyscope_counter_overflow_total"

	EventBufferLength = "proxyscope_event_buffer_length"
	EndpointsGauge    = "proxyscope_endpoints"
	EndpointsOnline   = "proxyscope_endpoints_online"

	TickDurationSeconds = "proxyscope_tick_duration_seconds"
)

type PromObs struct {
	logger   slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the pipeline metrics on reg. A nil reg falls back to
// the default registerer.
func NewPromObs(logger slog.Logger, reg prometheus.Registerer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			LogLinesTotal:         counter(LogLinesTotal, "Lines read from the proxy access log."),
			LogLinesRejectedTotal: counter(LogLinesRejectedTotal, "Access log lines that were not connection records."),
			EventsBufferedTotal:   counter(EventsBufferedTotal, "Connection events pushed into the ring buffer."),
			TailerReopensTotal:    counter(TailerReopensTotal, "Times the access log was reopened after rotation or truncation."),
			TicksTotal:            counter(TicksTotal, "Recorder ticks started."),
			TickFailuresTotal:     counter(TickFailuresTotal, "Per-endpoint recorder writes that failed closed."),
			SamplesRecordedTotal:  counter(SamplesRecordedTotal, "Traffic samples committed to the store."),
			CounterOverflowTotal:  counter(CounterOverflowTotal, "Samples whose cumulative totals were clamped."),
		},
		gauges: map[string]prometheus.Gauge{
			EventBufferLength: gauge(EventBufferLength, "Events currently held in the ring buffer."),
			EndpointsGauge:    gauge(EndpointsGauge, "Endpoints in the configuration document."),
			EndpointsOnline:   gauge(EndpointsOnline, "Endpoints that accepted a probe connection on the last snapshot."),
		},
		histos: map[string]prometheus.Observer{},
	}

	tickLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    TickDurationSeconds,
		Help:    "Wall time of one recorder tick across all endpoints.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	p.histos[TickDurationSeconds] = tickLatency

	collectors := []prometheus.Collector{tickLatency}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	reg.MustRegister(collectors...)

	return p
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.logger.Debug(context.Background(), msg, toSlog(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(context.Background(), msg, toSlog(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.logger.Warn(context.Background(), msg, toSlog(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(context.Background(), msg, append(toSlog(fields), slog.Error(err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Critical(context.Background(), msg, append(toSlog(fields), slog.Error(err))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func toSlog(fields []ports.Field) []slog.Field {
	out := make([]slog.Field, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, slog.F(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
