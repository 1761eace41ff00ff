package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/proxyscope/internal/domain"
)

func TestEventRingNewestFirst(t *testing.T) {
	t.Parallel()

	r := NewEventRing(4)
	require.Empty(t, r.Snapshot())

	r.Push(domain.ConnectionEvent{ID: 1})
	r.Push(domain.ConnectionEvent{ID: 2})

	got := r.Snapshot()
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].ID)
	require.Equal(t, uint64(1), got[1].ID)
}

func TestEventRingEvictsOldest(t *testing.T) {
	t.Parallel()

	const n = 5
	r := NewEventRing(n)
	for i := 1; i <= n+1; i++ {
		r.Push(domain.ConnectionEvent{ID: uint64(i)})
	}

	got := r.Snapshot()
	require.Len(t, got, n)
	require.Equal(t, n, r.Len())
	for i, ev := range got {
		require.Equal(t, uint64(n+1-i), ev.ID)
	}
	for _, ev := range got {
		require.NotEqual(t, uint64(1), ev.ID, "oldest event must be evicted")
	}
}

func TestEventRingDefaultCapacity(t *testing.T) {
	t.Parallel()

	r := NewEventRing(0)
	require.Equal(t, DefaultEventCapacity, r.Cap())
}

func TestEventRingSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	r := NewEventRing(2)
	r.Push(domain.ConnectionEvent{ID: 1, TargetDomain: "a"})
	got := r.Snapshot()
	got[0].TargetDomain = "mutated"
	require.Equal(t, "a", r.Snapshot()[0].TargetDomain)
}

func TestEventRingConcurrentPushAndRead(t *testing.T) {
	t.Parallel()

	const (
		capacity = 16
		writers  = 4
		perW     = 500
	)
	r := NewEventRing(capacity)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				id := uint64(w*perW + i + 1)
				r.Push(domain.ConnectionEvent{ID: id, SizeEstimate: int64(id)})
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			snap := r.Snapshot()
			assert.LessOrEqual(t, len(snap), capacity)
			for _, ev := range snap {
				// A torn event would carry mismatched fields.
				assert.Equal(t, int64(ev.ID), ev.SizeEstimate)
			}
		}
	}()

	wg.Wait()
	<-done
	require.Equal(t, capacity, r.Len())
}
