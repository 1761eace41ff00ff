package ports

import "github.com/ghalamif/proxyscope/internal/domain"

// LineParser turns a raw log line into an event. ok is false for lines that
// are not connection records.
type LineParser interface {
	Parse(line string) (ev domain.ConnectionEvent, ok bool)
}

// SizeEstimator guesses the transferred size of an event when the log does
// not carry a byte count. It must always return a positive value.
type SizeEstimator interface {
	Estimate(ev domain.ConnectionEvent) int64
}

type SizeEstimatorFunc func(ev domain.ConnectionEvent) int64

func (f SizeEstimatorFunc) Estimate(ev domain.ConnectionEvent) int64 { return f(ev) }
