package ports

import (
	"context"

	"github.com/ghalamif/proxyscope/internal/domain"
)

// EndpointStore is the configuration document that owns endpoints.
type EndpointStore interface {
	ListEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	GetEndpoint(ctx context.Context, port int) (domain.Endpoint, bool, error)
	AddEndpoint(ctx context.Context, port int, path string) (domain.Endpoint, error)
	RemoveEndpoint(ctx context.Context, port int) error
}
