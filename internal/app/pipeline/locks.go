package pipeline

import (
	"strconv"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// PortLocks hands out one mutex per port. The recorder and the registry
// share it so a sample write and an endpoint removal for the same port never
// overlap, while different ports proceed independently.
type PortLocks struct {
	m cmap.ConcurrentMap[string, *sync.Mutex]
}

func NewPortLocks() *PortLocks {
	return &PortLocks{m: cmap.New[*sync.Mutex]()}
}

// Lock blocks until port is held and returns the matching unlock.
func (l *PortLocks) Lock(port int) (unlock func()) {
	key := strconv.Itoa(port)
	l.m.SetIfAbsent(key, &sync.Mutex{})
	mu, _ := l.m.Get(key)
	mu.Lock()
	return mu.Unlock
}
