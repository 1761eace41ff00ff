package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const (
	DefaultTickInterval    = 2 * time.Second
	DefaultTickConcurrency = 8
)

// Recorder appends one traffic sample per endpoint on every tick.
type Recorder struct {
	endpoints ports.EndpointStore
	source    ports.SampleSource
	store     ports.TrafficStore
	locks     *PortLocks
	clock     quartz.Clock
	obs       ports.Observability

	interval    time.Duration
	concurrency int
}

type RecorderConfig struct {
	Endpoints ports.EndpointStore
	Source    ports.SampleSource
	Store     ports.TrafficStore
	// Locks must be the same table the Registry uses.
	Locks *PortLocks
	Clock quartz.Clock
	Obs   ports.Observability

	Interval    time.Duration
	Concurrency int
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Locks == nil {
		cfg.Locks = NewPortLocks()
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Obs == nil {
		cfg.Obs = observability.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultTickConcurrency
	}
	return &Recorder{
		endpoints:   cfg.Endpoints,
		source:      cfg.Source,
		store:       cfg.Store,
		locks:       cfg.Locks,
		clock:       cfg.Clock,
		obs:         cfg.Obs,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
	}
}

// Run ticks once immediately and then every interval until ctx is done.
// Failed ticks are logged and retried on the next period; Run itself only
// returns on cancellation.
func (r *Recorder) Run(ctx context.Context) error {
	r.runTick(ctx)
	w := r.clock.TickerFunc(ctx, r.interval, func() error {
		r.runTick(ctx)
		return nil
	}, "recorder", "tick")
	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *Recorder) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := r.clock.Now()
	r.obs.IncCounter(observability.TicksTotal, 1)

	eps, err := r.endpoints.ListEndpoints(ctx)
	if err != nil {
		r.obs.LogError("list_endpoints_failed", err)
		return
	}
	r.obs.SetGauge(observability.EndpointsGauge, float64(len(eps)))

	if err := r.Tick(ctx, eps); err != nil {
		r.obs.LogError("tick_failed", err, ports.Field{Key: "endpoints", Value: len(eps)})
	}
	r.obs.ObserveLatency(observability.TickDurationSeconds, r.clock.Since(start).Seconds())
}

// Tick records one sample for every endpoint. Endpoints are processed in
// parallel; a failure on one port does not stop the others, and the
// returned error joins every per-port failure.
func (r *Recorder) Tick(ctx context.Context, endpoints []domain.Endpoint) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.concurrency)

	for _, ep := range endpoints {
		g.Go(func() error {
			if err := r.record(ctx, ep); err != nil {
				r.obs.IncCounter(observability.TickFailuresTotal, 1)
				mu.Lock()
				errs = append(errs, xerrors.Errorf("port %d: %w", ep.Port, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// errStaleEndpoint aborts an update for an endpoint that was removed or
// re-created since the tick listed it.
var errStaleEndpoint = errors.New("endpoint changed since listing")

// record runs the read-modify-append for one endpoint under its port lock.
func (r *Recorder) record(ctx context.Context, ep domain.Endpoint) error {
	unlock := r.locks.Lock(ep.Port)
	defer unlock()

	delta, err := r.source.Next(ctx, ep.Port)
	if err != nil {
		return xerrors.Errorf("sample source: %w", err)
	}

	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	var sample domain.TrafficSample
	err = r.store.Update(ctx, ep.Port, func(tx ports.SampleTx) error {
		// Checked inside the transaction so a removal from another process,
		// whose history delete waits for this transaction, cannot be
		// followed by this append.
		if r.endpoints != nil {
			cur, ok, err := r.endpoints.GetEndpoint(ctx, ep.Port)
			if err != nil {
				return xerrors.Errorf("get endpoint: %w", err)
			}
			if !ok || cur.ClientID != ep.ClientID {
				return errStaleEndpoint
			}
		}

		last, ok, err := tx.Last(ctx)
		if err != nil {
			return xerrors.Errorf("read last sample: %w", err)
		}
		d := delta
		if d.Baseline && ok {
			// Counters first seen after a restart of this process; the
			// history already accounts for what they hold.
			d = domain.Delta{}
		}
		sample = Accumulate(last, ok, d, ep.Port, now)
		return tx.Append(ctx, sample)
	})
	if errors.Is(err, errStaleEndpoint) {
		r.obs.LogDebug("tick_skipped_stale_endpoint", ports.Field{Key: "port", Value: ep.Port})
		return nil
	}
	if err != nil {
		return err
	}
	if c, ok := r.source.(ports.SampleCommitter); ok {
		c.Commit(ep.Port)
	}

	r.obs.IncCounter(observability.SamplesRecordedTotal, 1)
	if sample.Overflow {
		r.obs.IncCounter(observability.CounterOverflowTotal, 1)
		r.obs.LogWarn("traffic_counter_clamped",
			ports.Field{Key: "port", Value: ep.Port},
			ports.Field{Key: "limit", Value: domain.MaxCounter},
			ports.Field{Key: "uplink", Value: sample.Uplink},
			ports.Field{Key: "downlink", Value: sample.Downlink},
		)
	}
	return nil
}

// Accumulate builds the sample that follows prev. hasPrev is false for an
// endpoint without history, in which case the totals start at the delta.
// Totals saturate at domain.MaxCounter and the sample is flagged instead of
// wrapping; the recorded deltas are always the difference between the new and
// previous totals. The timestamp is moved past prev's so samples stay in
// strictly increasing order even if the clock steps back.
func Accumulate(prev domain.TrafficSample, hasPrev bool, d domain.Delta, port int, at time.Time) domain.TrafficSample {
	if !hasPrev {
		prev = domain.TrafficSample{}
	} else if !at.After(prev.Timestamp) {
		at = prev.Timestamp.Add(time.Microsecond)
	}

	up, upClamped := addClamped(prev.Uplink, d.Up)
	down, downClamped := addClamped(prev.Downlink, d.Down)

	return domain.TrafficSample{
		Timestamp: at,
		Port:      port,
		Uplink:    up,
		Downlink:  down,
		DeltaUp:   up - min(prev.Uplink, up),
		DeltaDown: down - min(prev.Downlink, down),
		Overflow:  upClamped || downClamped,
	}
}

func addClamped(total, delta uint64) (uint64, bool) {
	if total >= domain.MaxCounter {
		return domain.MaxCounter, delta > 0
	}
	if delta > domain.MaxCounter-total {
		return domain.MaxCounter, true
	}
	return total + delta, false
}
