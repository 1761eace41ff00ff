package ports

import "context"

// LineCollector follows a growing text source and delivers each complete
// line to out. Follow blocks until ctx is done.
type LineCollector interface {
	Follow(ctx context.Context, out chan<- string) error
}
