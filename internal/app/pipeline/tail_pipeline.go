package pipeline

import (
	"context"

	"github.com/ghalamif/proxyscope/internal/adapters/observability"
	"github.com/ghalamif/proxyscope/internal/ports"
)

// RunTailPipeline follows the access log and pushes every accepted
// connection into buf. Lines that are not connection records are counted
// and dropped. It returns when ctx is done.
func RunTailPipeline(ctx context.Context, col ports.LineCollector, parser ports.LineParser, buf ports.EventBuffer, obs ports.Observability) error {
	lines := make(chan string, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		errc <- col.Follow(ctx, lines)
	}()

	for line := range lines {
		obs.IncCounter(observability.LogLinesTotal, 1)

		ev, ok := parser.Parse(line)
		if !ok {
			obs.IncCounter(observability.LogLinesRejectedTotal, 1)
			continue
		}

		buf.Push(ev)
		obs.IncCounter(observability.EventsBufferedTotal, 1)
		obs.SetGauge(observability.EventBufferLength, float64(buf.Len()))
	}

	return <-errc
}
