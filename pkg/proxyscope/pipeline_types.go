package proxyscope

import (
	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// Endpoint is a proxy inbound identified by its port.
type Endpoint = domain.Endpoint

// TrafficSample is one row of an endpoint's traffic history.
type TrafficSample = domain.TrafficSample

// Delta is the traffic an endpoint moved since the previous tick.
type Delta = domain.Delta

// ConnectionEvent is one accepted connection parsed from the access log.
type ConnectionEvent = domain.ConnectionEvent

// SystemSnapshot is the combined read-only view served to dashboards.
type SystemSnapshot = domain.SystemSnapshot

// EndpointSnapshot is the per-endpoint part of a SystemSnapshot.
type EndpointSnapshot = domain.EndpointSnapshot

// HostStats describes CPU and memory usage of the proxy host.
type HostStats = domain.HostStats

// LineCollector follows a growing text source (file tail, journald, sockets).
type LineCollector = ports.LineCollector

// LineParser turns raw log lines into connection events.
type LineParser = ports.LineParser

// SizeEstimator guesses transferred bytes for an event.
type SizeEstimator = ports.SizeEstimator

// EventBuffer is the bounded most-recent-first event buffer.
type EventBuffer = ports.EventBuffer

// SampleSource reports per-port traffic deltas (simulated or polled from the proxy).
type SampleSource = ports.SampleSource

// SampleCommitter is implemented by counter-backed sources that advance their
// baseline only after a sample has been stored.
type SampleCommitter = ports.SampleCommitter

// TrafficStore persists traffic samples.
type TrafficStore = ports.TrafficStore

// SampleTx is the per-port transaction handed to TrafficStore.Update callbacks.
type SampleTx = ports.SampleTx

// EndpointStore owns the configured endpoints.
type EndpointStore = ports.EndpointStore

// Prober checks whether a port accepts TCP connections.
type Prober = ports.Prober

// HostInspector reports proxy process and host resource state.
type HostInspector = ports.HostInspector

// Observability emits logs and metrics about the pipeline.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Sentinel errors returned by endpoint and store operations.
var (
	ErrPortAlreadyExists = domain.ErrPortAlreadyExists
	ErrEndpointNotFound  = domain.ErrEndpointNotFound
	ErrInvalidPort       = domain.ErrInvalidPort
	ErrStoreUnavailable  = domain.ErrStoreUnavailable
)
