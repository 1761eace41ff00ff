package ports

import (
	"context"

	"github.com/ghalamif/proxyscope/internal/domain"
)

// TrafficStore is the durable time-series of traffic samples.
type TrafficStore interface {
	// Update runs fn inside a single transaction scoped to port. A sample
	// appended through tx becomes visible to readers only if fn returns nil.
	Update(ctx context.Context, port int, fn func(tx SampleTx) error) error
	// Recent returns up to limit samples for port, newest first.
	Recent(ctx context.Context, port int, limit int) ([]domain.TrafficSample, error)
	DeleteByPort(ctx context.Context, port int) (int64, error)
	Name() string
	Close() error
}

type SampleTx interface {
	Last(ctx context.Context) (domain.TrafficSample, bool, error)
	Append(ctx context.Context, s domain.TrafficSample) error
}
