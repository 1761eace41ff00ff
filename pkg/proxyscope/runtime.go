package proxyscope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/proxyscope/internal/adapters/configstore"
	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/adapters/parser"
	"github.com/ghalamif/proxyscope/internal/adapters/probe"
	"github.com/ghalamif/proxyscope/internal/adapters/queue"
	"github.com/ghalamif/proxyscope/internal/adapters/source"
	"github.com/ghalamif/proxyscope/internal/adapters/store"
	"github.com/ghalamif/proxyscope/internal/adapters/tailer"
	"github.com/ghalamif/proxyscope/internal/app/api"
	"github.com/ghalamif/proxyscope/internal/app/pipeline"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     LineCollector
	parser        LineParser
	estimator     SizeEstimator
	events        EventBuffer
	source        SampleSource
	store         TrafficStore
	endpoints     EndpointStore
	prober        Prober
	host          HostInspector
	observability Observability
	logger        *slog.Logger
	registry      *prometheus.Registry
	clock         quartz.Clock
	fs            afero.Fs
	disableHTTP   bool
}

// WithLineCollector replaces the access log tailer (journald, sockets, tests).
func WithLineCollector(col LineCollector) RuntimeOption {
	return func(o *runtimeOverrides) { o.collector = col }
}

// WithParser replaces the Xray access log parser.
func WithParser(p LineParser) RuntimeOption {
	return func(o *runtimeOverrides) { o.parser = p }
}

// WithSizeEstimator overrides the estimator picked from the config.
func WithSizeEstimator(e SizeEstimator) RuntimeOption {
	return func(o *runtimeOverrides) { o.estimator = e }
}

// WithEventBuffer shares an existing event buffer with the runtime.
func WithEventBuffer(b EventBuffer) RuntimeOption {
	return func(o *runtimeOverrides) { o.events = b }
}

// WithSampleSource plugs in a real counter poller or any custom delta source.
func WithSampleSource(s SampleSource) RuntimeOption {
	return func(o *runtimeOverrides) { o.source = s }
}

// WithTrafficStore injects a store so samples can live in any database.
// The runtime does not close a store it did not open.
func WithTrafficStore(s TrafficStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.store = s }
}

// WithEndpointStore replaces the JSON configuration document.
func WithEndpointStore(s EndpointStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.endpoints = s }
}

// WithProber replaces the TCP liveness probe.
func WithProber(p Prober) RuntimeOption {
	return func(o *runtimeOverrides) { o.prober = p }
}

// WithHostInspector replaces the process and host inspector.
func WithHostInspector(h HostInspector) RuntimeOption {
	return func(o *runtimeOverrides) { o.host = h }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithLogger sets the logger used by the default observability backend and
// the read API.
func WithLogger(logger slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = &logger }
}

// WithRegistry registers metrics on reg and serves them from /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) { o.registry = reg }
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c quartz.Clock) RuntimeOption {
	return func(o *runtimeOverrides) { o.clock = c }
}

// WithFs sets the filesystem holding the proxy configuration document.
func WithFs(fs afero.Fs) RuntimeOption {
	return func(o *runtimeOverrides) { o.fs = fs }
}

// WithoutHTTP keeps the read API from listening; Snapshot and History still work.
func WithoutHTTP() RuntimeOption {
	return func(o *runtimeOverrides) { o.disableHTTP = true }
}

// Runtime wires the tailer, recorder, aggregator and read API together and
// exposes lifecycle hooks for embedding the pipeline inside any Go service.
type Runtime struct {
	cfg    *Config
	logger slog.Logger
	obs    ports.Observability

	collector ports.LineCollector
	parser    ports.LineParser
	events    ports.EventBuffer
	store     ports.TrafficStore
	ownsStore bool
	endpoints ports.EndpointStore

	recorder   *pipeline.Recorder
	registry   *pipeline.Registry
	aggregator *pipeline.Aggregator
	server     *api.Server

	disableHTTP bool
	closeOnce   sync.Once
}

// NewRuntime bootstraps the default adapters (file tailer, Xray parser, ring
// buffer, SQLite or Timescale store, JSON config document, TCP probe,
// Prometheus observability). Opening the store waits for it to accept
// connections, bounded by store.connect_timeout and ctx.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	clock := o.clock
	if clock == nil {
		clock = quartz.NewReal()
	}

	var logger slog.Logger
	if o.logger != nil {
		logger = *o.logger
	} else {
		logger = slog.Make(sloghuman.Sink(os.Stderr)).Leveled(ParseLevel(cfg.Log.Level))
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	obs := o.observability
	if obs == nil {
		obs = observability.NewPromObs(logger.Named("pipeline"), reg)
	}

	events := o.events
	if events == nil {
		events = queue.NewEventRing(cfg.Policy.EventCapacity)
	}

	estimator := o.estimator
	if estimator == nil {
		estimator = parser.NewEstimator(cfg.Estimator.Kind, cfg.Estimator.Bytes)
	}
	lineParser := o.parser
	if lineParser == nil {
		lineParser = parser.NewXrayAccessParser(clock, estimator)
	}

	col := o.collector
	if col == nil {
		col = tailer.NewFileTailer(cfg.Proxy.AccessLog, cfg.Policy.PollInterval, clock, obs)
	}

	src := o.source
	if src == nil {
		src = newSource(cfg)
	}

	endpoints := o.endpoints
	if endpoints == nil {
		fs := o.fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		endpoints = configstore.New(fs, cfg.Proxy.ConfigPath)
	}

	prober := o.prober
	if prober == nil {
		prober = probe.NewTCPProber(cfg.Policy.ProbeHost, cfg.Policy.ProbeTimeout)
	}

	host := o.host
	if host == nil {
		if cfg.InspectHost() {
			host = probe.NewProcessInspector(cfg.Proxy.ProcessName, obs)
		} else {
			host = probe.StaticInspector{}
		}
	}

	st := o.store
	ownsStore := false
	if st == nil {
		opened, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Table, cfg.Store.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		st, ownsStore = opened, true
	}

	locks := pipeline.NewPortLocks()
	rt := &Runtime{
		cfg:       cfg,
		logger:    logger,
		obs:       obs,
		collector: col,
		parser:    lineParser,
		events:    events,
		store:     st,
		ownsStore: ownsStore,
		endpoints: endpoints,
		recorder: pipeline.NewRecorder(pipeline.RecorderConfig{
			Endpoints:   endpoints,
			Source:      src,
			Store:       st,
			Locks:       locks,
			Clock:       clock,
			Obs:         obs,
			Interval:    cfg.Policy.TickInterval,
			Concurrency: cfg.Policy.TickConcurrency,
		}),
		registry: pipeline.NewRegistry(endpoints, st, src, locks, obs),
		aggregator: pipeline.NewAggregator(pipeline.AggregatorConfig{
			Endpoints:       endpoints,
			Store:           st,
			Events:          events,
			Prober:          prober,
			Host:            host,
			Clock:           clock,
			Obs:             obs,
			HistoryWindow:   cfg.Policy.HistoryWindow,
			MaxHistoryLimit: cfg.Policy.MaxHistoryLimit,
			ProbeAlertAfter: cfg.Policy.ProbeAlertAfter,
			Concurrency:     cfg.Policy.TickConcurrency,
		}),
		disableHTTP: o.disableHTTP,
	}
	rt.server = api.New(rt.aggregator, api.Options{
		Logger:         logger.Named("api"),
		Clock:          clock,
		Gatherer:       reg,
		StreamInterval: cfg.HTTP.StreamInterval,
	})
	return rt, nil
}

func newSource(cfg *Config) ports.SampleSource {
	if cfg.Source.Kind == "xray" {
		return source.NewXrayStatsSource(cfg.Source.XrayBinary, cfg.Source.APIServer, cfg.Source.Timeout)
	}
	seed := cfg.Source.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return source.NewRandomSource(cfg.Source.Up, cfg.Source.Down, seed)
}

// Run starts the tailer, the recorder and the read API and blocks until ctx
// is cancelled or one of them fails. In-flight ticks either commit or roll
// back; the store is closed last.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.logger.Info(ctx, "starting pipeline",
		slog.F("access_log", r.cfg.Proxy.AccessLog),
		slog.F("store", r.store.Name()),
		slog.F("tick_interval", r.cfg.Policy.TickInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.RunTailPipeline(gctx, r.collector, r.parser, r.events, r.obs)
	})
	g.Go(func() error {
		return r.recorder.Run(gctx)
	})
	if !r.disableHTTP {
		g.Go(func() error {
			return r.server.Run(gctx, r.cfg.HTTP.Addr)
		})
	}

	err := g.Wait()
	if cerr := r.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Close releases the store if the runtime opened it. It is safe to call more
// than once.
func (r *Runtime) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.ownsStore {
			err = r.store.Close()
		}
	})
	return err
}

// Snapshot builds the current SystemSnapshot.
func (r *Runtime) Snapshot(ctx context.Context) SystemSnapshot {
	return r.aggregator.BuildSnapshot(ctx)
}

// History returns up to limit samples for port, oldest first.
func (r *Runtime) History(ctx context.Context, port int, limit int) ([]TrafficSample, error) {
	return r.aggregator.History(ctx, port, limit)
}

// Endpoints lists the configured endpoints.
func (r *Runtime) Endpoints(ctx context.Context) ([]Endpoint, error) {
	return r.registry.List(ctx)
}

// AddEndpoint adds an inbound on port. It fails with ErrPortAlreadyExists
// when the port is taken.
func (r *Runtime) AddEndpoint(ctx context.Context, port int, path string) (Endpoint, error) {
	return r.registry.Add(ctx, port, path)
}

// RemoveEndpoint removes the inbound on port together with its history.
func (r *Runtime) RemoveEndpoint(ctx context.Context, port int) error {
	return r.registry.Remove(ctx, port)
}

// Tick records one sample for every configured endpoint right away.
func (r *Runtime) Tick(ctx context.Context) error {
	eps, err := r.endpoints.ListEndpoints(ctx)
	if err != nil {
		return err
	}
	return r.recorder.Tick(ctx, eps)
}

// Events returns the buffered connection events, most recent first.
func (r *Runtime) Events() []ConnectionEvent {
	return r.events.Snapshot()
}

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
