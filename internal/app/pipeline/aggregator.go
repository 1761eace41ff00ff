package pipeline

import (
	"context"
	"math"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const (
	DefaultHistoryWindow   = 60
	DefaultMaxHistoryLimit = 1000
	DefaultProbeAlertAfter = 5
)

// Aggregator assembles SystemSnapshots on demand. It only reads shared
// state; the probe failure streaks it keeps are used for logging.
type Aggregator struct {
	endpoints ports.EndpointStore
	store     ports.TrafficStore
	events    ports.EventBuffer
	prober    ports.Prober
	host      ports.HostInspector
	clock     quartz.Clock
	obs       ports.Observability

	window      int
	maxLimit    int
	alertAfter  int
	concurrency int

	mu       sync.Mutex
	failures map[int]int
}

type AggregatorConfig struct {
	Endpoints ports.EndpointStore
	Store     ports.TrafficStore
	Events    ports.EventBuffer
	Prober    ports.Prober
	// Host is optional. When set, endpoints only count as online while the
	// proxy process runs.
	Host  ports.HostInspector
	Clock quartz.Clock
	Obs   ports.Observability

	HistoryWindow   int
	MaxHistoryLimit int
	// ProbeAlertAfter is the failure streak that triggers a warning. A
	// negative value disables it.
	ProbeAlertAfter int
	Concurrency     int
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Obs == nil {
		cfg.Obs = observability.Nop{}
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.MaxHistoryLimit < cfg.HistoryWindow {
		cfg.MaxHistoryLimit = max(DefaultMaxHistoryLimit, cfg.HistoryWindow)
	}
	if cfg.ProbeAlertAfter == 0 {
		cfg.ProbeAlertAfter = DefaultProbeAlertAfter
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultTickConcurrency
	}
	return &Aggregator{
		endpoints:   cfg.Endpoints,
		store:       cfg.Store,
		events:      cfg.Events,
		prober:      cfg.Prober,
		host:        cfg.Host,
		clock:       cfg.Clock,
		obs:         cfg.Obs,
		window:      cfg.HistoryWindow,
		maxLimit:    cfg.MaxHistoryLimit,
		alertAfter:  cfg.ProbeAlertAfter,
		concurrency: cfg.Concurrency,
		failures:    make(map[int]int),
	}
}

// BuildSnapshot never fails as a whole: an endpoint whose history cannot be
// read is reported with HistoryErr, and an unreadable endpoint list leaves
// the endpoint section empty with EndpointsError set.
func (a *Aggregator) BuildSnapshot(ctx context.Context) domain.SystemSnapshot {
	snap := domain.SystemSnapshot{
		GeneratedAt:  a.clock.Now().UTC(),
		ProxyRunning: true,
		Endpoints:    []domain.EndpointSnapshot{},
		Events:       a.events.Snapshot(),
	}
	snap.EventCount = len(snap.Events)

	if a.host != nil {
		snap.ProxyRunning = a.host.ProxyRunning(ctx)
		snap.Host = a.host.HostStats(ctx)
	}

	eps, err := a.endpoints.ListEndpoints(ctx)
	if err != nil {
		a.obs.LogError("snapshot_list_endpoints_failed", err)
		snap.EndpointsError = err.Error()
		snap.Partial = true
		return snap
	}

	snap.Endpoints = make([]domain.EndpointSnapshot, len(eps))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, ep := range eps {
		g.Go(func() error {
			snap.Endpoints[i] = a.endpointSnapshot(ctx, ep, snap.ProxyRunning)
			return nil
		})
	}
	_ = g.Wait()

	online := 0
	for _, es := range snap.Endpoints {
		if es.Online {
			online++
		}
		if es.Latest == nil {
			snap.Partial = true
			continue
		}
		snap.TotalUplink = saturatingAdd(snap.TotalUplink, es.Latest.Uplink)
		snap.TotalDownlink = saturatingAdd(snap.TotalDownlink, es.Latest.Downlink)
	}
	a.obs.SetGauge(observability.EndpointsGauge, float64(len(eps)))
	a.obs.SetGauge(observability.EndpointsOnline, float64(online))
	a.forgetMissing(eps)

	return snap
}

func (a *Aggregator) endpointSnapshot(ctx context.Context, ep domain.Endpoint, proxyRunning bool) domain.EndpointSnapshot {
	es := domain.EndpointSnapshot{Endpoint: ep, Samples: []domain.TrafficSample{}}

	es.Reachable = a.prober.IsReachable(ctx, ep.Port)
	es.Online = es.Reachable && proxyRunning
	a.trackProbe(ep.Port, es.Reachable)

	samples, err := a.History(ctx, ep.Port, a.window)
	if err != nil {
		a.obs.LogError("snapshot_history_failed", err, ports.Field{Key: "port", Value: ep.Port})
		es.HistoryErr = err.Error()
		return es
	}
	es.Samples = samples
	if n := len(samples); n > 0 {
		latest := samples[n-1]
		es.Latest = &latest
	}
	return es
}

// History returns up to limit samples for port, oldest first. A limit of
// zero or less means the default window; larger requests are capped. A port
// without samples yields an empty slice.
func (a *Aggregator) History(ctx context.Context, port int, limit int) ([]domain.TrafficSample, error) {
	if limit <= 0 {
		limit = a.window
	}
	limit = min(limit, a.maxLimit)

	samples, err := a.store.Recent(ctx, port, limit)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		return []domain.TrafficSample{}, nil
	}
	slices.Reverse(samples)
	return samples, nil
}

// trackProbe logs once when a port has failed alertAfter probes in a row
// and once when it answers again.
func (a *Aggregator) trackProbe(port int, reachable bool) {
	if a.alertAfter < 0 {
		return
	}
	a.mu.Lock()
	streak := a.failures[port]
	if reachable {
		delete(a.failures, port)
	} else {
		a.failures[port] = streak + 1
	}
	a.mu.Unlock()

	switch {
	case !reachable && streak+1 == a.alertAfter:
		a.obs.LogWarn("endpoint_unreachable",
			ports.Field{Key: "port", Value: port},
			ports.Field{Key: "consecutive_failures", Value: streak + 1})
	case reachable && streak >= a.alertAfter:
		a.obs.LogInfo("endpoint_recovered",
			ports.Field{Key: "port", Value: port},
			ports.Field{Key: "failed_probes", Value: streak})
	}
}

func (a *Aggregator) forgetMissing(eps []domain.Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port := range a.failures {
		if !slices.ContainsFunc(eps, func(ep domain.Endpoint) bool { return ep.Port == port }) {
			delete(a.failures, port)
		}
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}
	return a + b
}
