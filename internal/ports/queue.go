package ports

import "github.com/ghalamif/proxyscope/internal/domain"

// EventBuffer holds the most recent connection events.
type EventBuffer interface {
	Push(ev domain.ConnectionEvent)
	// Snapshot returns a copy ordered most-recent-first.
	Snapshot() []domain.ConnectionEvent
	Len() int
	Cap() int
}
