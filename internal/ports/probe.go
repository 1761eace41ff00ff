package ports

import (
	"context"

	"github.com/ghalamif/proxyscope/internal/domain"
)

type Prober interface {
	IsReachable(ctx context.Context, port int) bool
}

type HostInspector interface {
	ProxyRunning(ctx context.Context) bool
	HostStats(ctx context.Context) domain.HostStats
}
