package parser

import (
	"math/rand/v2"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const kib = 1024

// ConstantEstimator reports the same size for every event.
type ConstantEstimator struct {
	Bytes int64
}

func (c ConstantEstimator) Estimate(domain.ConnectionEvent) int64 {
	if c.Bytes <= 0 {
		return kib
	}
	return c.Bytes
}

// RandomEstimator draws a size uniformly from [Min, Max].
type RandomEstimator struct {
	Min, Max int64
}

func (r RandomEstimator) Estimate(domain.ConnectionEvent) int64 {
	lo, hi := r.Min, r.Max
	if lo <= 0 {
		lo = kib
	}
	if hi < lo {
		hi = 500 * kib
	}
	return lo + rand.Int64N(hi-lo+1)
}

// HeuristicEstimator guesses from the transport and destination port.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(ev domain.ConnectionEvent) int64 {
	switch ev.Protocol {
	case "UDP":
		if ev.TargetPort == 53 {
			return 512
		}
		return 4 * kib
	case "WS":
		return 64 * kib
	}
	switch ev.TargetPort {
	case 443:
		return 256 * kib
	case 80:
		return 128 * kib
	default:
		return 32 * kib
	}
}

// NewEstimator builds an estimator by config name.
func NewEstimator(kind string, bytes int64) ports.SizeEstimator {
	switch kind {
	case "constant":
		return ConstantEstimator{Bytes: bytes}
	case "random":
		return RandomEstimator{Min: kib, Max: 500 * kib}
	default:
		return HeuristicEstimator{}
	}
}

var (
	_ ports.SizeEstimator = ConstantEstimator{}
	_ ports.SizeEstimator = RandomEstimator{}
	_ ports.SizeEstimator = HeuristicEstimator{}
)
