package source

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/ghalamif/proxyscope/internal/domain"
)

// Range is an inclusive byte range.
type Range struct {
	Min uint64 `yaml:"min"`
	Max uint64 `yaml:"max"`
}

var (
	DefaultUpRange   = Range{Min: 10, Max: 500}
	DefaultDownRange = Range{Min: 50, Max: 2000}
)

// RandomSource simulates traffic. It stands in for a real counter poller
// when the proxy exposes no stats API.
type RandomSource struct {
	up, down Range

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomSource(up, down Range, seed uint64) *RandomSource {
	if up.Max == 0 {
		up = DefaultUpRange
	}
	if down.Max == 0 {
		down = DefaultDownRange
	}
	return &RandomSource{
		up:   up,
		down: down,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *RandomSource) Next(ctx context.Context, _ int) (domain.Delta, error) {
	if err := ctx.Err(); err != nil {
		return domain.Delta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Delta{Up: s.pick(s.up), Down: s.pick(s.down)}, nil
}

func (s *RandomSource) pick(r Range) uint64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + s.rng.Uint64N(r.Max-r.Min+1)
}
