package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// memStore is an in-memory TrafficStore. Appends become visible on commit,
// but the store itself does not serialize Update calls for the same port.
type memStore struct {
	mu   sync.Mutex
	rows map[int][]domain.TrafficSample // oldest first

	updateErr    error
	recentErr    map[int]error
	beforeAppend func(port int)
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int][]domain.TrafficSample), recentErr: make(map[int]error)}
}

func (m *memStore) Update(ctx context.Context, port int, fn func(tx ports.SampleTx) error) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	tx := &memTx{store: m, port: port}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.rows[port] = append(m.rows[port], tx.pending...)
	m.mu.Unlock()
	return nil
}

func (m *memStore) Recent(_ context.Context, port int, limit int) ([]domain.TrafficSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.recentErr[port]; err != nil {
		return nil, err
	}
	rows := m.rows[port]
	out := []domain.TrafficSample{}
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (m *memStore) DeleteByPort(_ context.Context, port int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[port])
	delete(m.rows, port)
	return int64(n), nil
}

func (m *memStore) Name() string { return "mem" }
func (m *memStore) Close() error { return nil }

func (m *memStore) samples(port int) []domain.TrafficSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TrafficSample(nil), m.rows[port]...)
}

func (m *memStore) seed(s domain.TrafficSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.Port] = append(m.rows[s.Port], s)
}

type memTx struct {
	store   *memStore
	port    int
	pending []domain.TrafficSample
}

func (t *memTx) Last(context.Context) (domain.TrafficSample, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	rows := t.store.rows[t.port]
	if len(rows) == 0 {
		return domain.TrafficSample{}, false, nil
	}
	return rows[len(rows)-1], true, nil
}

func (t *memTx) Append(_ context.Context, s domain.TrafficSample) error {
	if t.store.beforeAppend != nil {
		t.store.beforeAppend(t.port)
	}
	t.pending = append(t.pending, s)
	return nil
}

// memEndpoints is an in-memory EndpointStore.
type memEndpoints struct {
	mu      sync.Mutex
	eps     map[int]domain.Endpoint
	nextID  int
	listErr error
}

func newMemEndpoints(portList ...int) *memEndpoints {
	m := &memEndpoints{eps: make(map[int]domain.Endpoint)}
	for _, p := range portList {
		_, _ = m.AddEndpoint(context.Background(), p, "/")
	}
	return m
}

func (m *memEndpoints) ListEndpoints(context.Context) ([]domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Endpoint, 0, len(m.eps))
	for _, ep := range m.eps {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (m *memEndpoints) GetEndpoint(_ context.Context, port int) (domain.Endpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.eps[port]
	return ep, ok, nil
}

func (m *memEndpoints) AddEndpoint(_ context.Context, port int, path string) (domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.eps[port]; ok {
		return domain.Endpoint{}, domain.ErrPortAlreadyExists
	}
	m.nextID++
	ep := domain.Endpoint{Port: port, Path: path, ClientID: fmt.Sprintf("client-%d", m.nextID)}
	m.eps[port] = ep
	return ep, nil
}

func (m *memEndpoints) RemoveEndpoint(_ context.Context, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.eps[port]; !ok {
		return domain.ErrEndpointNotFound
	}
	delete(m.eps, port)
	return nil
}

// fixedSource returns scripted deltas per port, then repeats the last one.
type fixedSource struct {
	mu     sync.Mutex
	deltas map[int][]domain.Delta
	calls  map[int]int
	err    error
}

func constantSource(d domain.Delta) *fixedSource {
	return scriptedSource(map[int][]domain.Delta{0: {d}})
}

// scriptedSource uses the deltas under port 0 for ports without a script.
func scriptedSource(deltas map[int][]domain.Delta) *fixedSource {
	return &fixedSource{deltas: deltas, calls: map[int]int{}}
}

func (s *fixedSource) Next(_ context.Context, port int) (domain.Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Delta{}, s.err
	}
	seq, ok := s.deltas[port]
	if !ok {
		seq = s.deltas[0]
	}
	i := min(s.calls[port], len(seq)-1)
	s.calls[port]++
	return seq[i], nil
}

type fakeProber struct {
	mu        sync.Mutex
	reachable map[int]bool
}

func (p *fakeProber) IsReachable(_ context.Context, port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable[port]
}

func (p *fakeProber) set(port int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable[port] = ok
}

type fakeHost struct {
	running bool
}

func (h fakeHost) ProxyRunning(context.Context) bool { return h.running }
func (h fakeHost) HostStats(context.Context) domain.HostStats {
	return domain.HostStats{Known: true, CPUPercent: 12.5, MemPercent: 40}
}

// recordingObs keeps log messages and counter totals.
type recordingObs struct {
	observability.Nop

	mu       sync.Mutex
	warns    []string
	infos    []string
	errs     []string
	counters map[string]float64
}

func newRecordingObs() *recordingObs {
	return &recordingObs{counters: make(map[string]float64)}
}

func (o *recordingObs) LogWarn(msg string, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warns = append(o.warns, msg)
}

func (o *recordingObs) LogInfo(msg string, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.infos = append(o.infos, msg)
}

func (o *recordingObs) LogError(msg string, _ error, _ ...ports.Field) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, msg)
}

func (o *recordingObs) IncCounter(name string, v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counters[name] += v
}

func (o *recordingObs) counter(name string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counters[name]
}

func (o *recordingObs) count(msgs *[]string, msg string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range *msgs {
		if m == msg {
			n++
		}
	}
	return n
}

var errUnavailable = errors.New("database is locked")
