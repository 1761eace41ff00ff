package proxyscope

import (
	"context"
	"errors"

	"github.com/ghalamif/proxyscope/internal/domain"
)

// ErrSourceFuncNil is returned by a SampleSourceFunc adapter without a function.
var ErrSourceFuncNil = errors.New("proxyscope: nil sample source func")

// SampleSourceFunc adapts a plain function into a SampleSource so callers can
// feed counters from any API without defining a type.
type SampleSourceFunc func(ctx context.Context, port int) (Delta, error)

func (f SampleSourceFunc) Next(ctx context.Context, port int) (domain.Delta, error) {
	if f == nil {
		return domain.Delta{}, ErrSourceFuncNil
	}
	return f(ctx, port)
}

// NewChannelCollector exposes a channel of raw log lines as a LineCollector,
// for logs that arrive through journald, syslog or a socket instead of a file.
// The collector stops when ctx is done or the channel is closed.
func NewChannelCollector(lines <-chan string) LineCollector {
	return channelCollector{lines: lines}
}

type channelCollector struct {
	lines <-chan string
}

func (c channelCollector) Follow(ctx context.Context, out chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.lines:
			if !ok {
				return nil
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
