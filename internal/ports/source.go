package ports

import (
	"context"

	"github.com/ghalamif/proxyscope/internal/domain"
)

// SampleSource reports the traffic an endpoint moved since the previous call
// for the same port.
type SampleSource interface {
	Next(ctx context.Context, port int) (domain.Delta, error)
}

// SampleCommitter is implemented by sources that derive deltas from proxy
// counters. Commit is called once the delta from the last Next for port has
// been stored; until then Next keeps measuring from the last committed
// reading, so traffic seen during a failed tick is reported again.
type SampleCommitter interface {
	Commit(port int)
}
