package domain

import (
	"math"
	"time"
)

// MaxCounter is the largest cumulative byte total a sample can hold. Stores
// persist counters as signed 64-bit integers, so the ceiling is MaxInt64.
const MaxCounter uint64 = math.MaxInt64

// Delta is the traffic an endpoint moved since the previous tick.
type Delta struct {
	Up   uint64 `json:"up"`
	Down uint64 `json:"down"`
	// Baseline marks the first reading of counters the source had not seen
	// before. Up and Down then hold the whole counters, which only count as
	// traffic for an endpoint without history.
	Baseline bool `json:"baseline,omitempty"`
}

// TrafficSample is one row of an endpoint's traffic history. Uplink and
// Downlink are cumulative; DeltaUp and DeltaDown are this sample's
// contribution to them.
type TrafficSample struct {
	Timestamp time.Time `json:"ts"`
	Port      int       `json:"port"`
	Uplink    uint64    `json:"uplink"`
	Downlink  uint64    `json:"downlink"`
	DeltaUp   uint64    `json:"delta_up"`
	DeltaDown uint64    `json:"delta_down"`
	Overflow  bool      `json:"overflow,omitempty"`
}
