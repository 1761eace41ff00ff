package pipeline

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// counterForgetter is implemented by sample sources that keep per-port
// baselines.
type counterForgetter interface {
	Forget(port int)
}

// Registry adds and removes endpoints together with their history.
type Registry struct {
	endpoints ports.EndpointStore
	store     ports.TrafficStore
	source    ports.SampleSource
	locks     *PortLocks
	obs       ports.Observability
}

// NewRegistry wires a registry. locks must be shared with the Recorder.
func NewRegistry(endpoints ports.EndpointStore, store ports.TrafficStore, source ports.SampleSource, locks *PortLocks, obs ports.Observability) *Registry {
	if obs == nil {
		obs = observability.Nop{}
	}
	return &Registry{endpoints: endpoints, store: store, source: source, locks: locks, obs: obs}
}

func (r *Registry) List(ctx context.Context) ([]domain.Endpoint, error) {
	return r.endpoints.ListEndpoints(ctx)
}

// Add creates an endpoint. Any history left behind under the same port is
// purged first so the new endpoint starts from its own first sample.
func (r *Registry) Add(ctx context.Context, port int, path string) (domain.Endpoint, error) {
	if !domain.ValidPort(port) {
		return domain.Endpoint{}, xerrors.Errorf("add %d: %w", port, domain.ErrInvalidPort)
	}

	unlock := r.locks.Lock(port)
	defer unlock()

	_, exists, err := r.endpoints.GetEndpoint(ctx, port)
	if err != nil {
		return domain.Endpoint{}, xerrors.Errorf("add %d: %w", port, err)
	}
	if exists {
		return domain.Endpoint{}, xerrors.Errorf("add %d: %w", port, domain.ErrPortAlreadyExists)
	}

	if n, err := r.store.DeleteByPort(ctx, port); err != nil {
		return domain.Endpoint{}, xerrors.Errorf("purge history of %d: %w", port, err)
	} else if n > 0 {
		r.obs.LogInfo("stale_history_purged", ports.Field{Key: "port", Value: port}, ports.Field{Key: "rows", Value: n})
	}
	r.forget(port)

	ep, err := r.endpoints.AddEndpoint(ctx, port, path)
	if err != nil {
		return domain.Endpoint{}, err
	}
	r.obs.LogInfo("endpoint_added", ports.Field{Key: "port", Value: port}, ports.Field{Key: "path", Value: ep.Path})
	return ep, nil
}

// Remove deletes the endpoint and all of its samples while holding the port
// lock, so no tick can write to the port in between. If the history delete
// fails the endpoint is already gone; the leftover rows are purged by the
// next Add of that port.
func (r *Registry) Remove(ctx context.Context, port int) error {
	unlock := r.locks.Lock(port)
	defer unlock()

	if err := r.endpoints.RemoveEndpoint(ctx, port); err != nil {
		return err
	}
	r.forget(port)

	n, err := r.store.DeleteByPort(ctx, port)
	if err != nil {
		r.obs.LogError("history_delete_failed", err, ports.Field{Key: "port", Value: port})
		return xerrors.Errorf("delete history of %d: %w", port, err)
	}
	r.obs.LogInfo("endpoint_removed", ports.Field{Key: "port", Value: port}, ports.Field{Key: "rows", Value: n})
	return nil
}

func (r *Registry) forget(port int) {
	if f, ok := r.source.(counterForgetter); ok {
		f.Forget(port)
	}
}
