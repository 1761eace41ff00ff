package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ghalamif/proxyscope/pkg/proxyscope"
)

// meter stands in for any counter API (a router, a cloud billing endpoint).
type meter struct {
	mu    sync.Mutex
	ticks map[int]uint64
}

func (m *meter) next(_ context.Context, port int) (proxyscope.Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[port]++
	return proxyscope.Delta{Up: 1024 * m.ticks[port], Down: 4096}, nil
}

func main() {
	cfg := proxyscope.DefaultConfig()
	cfg.Store.DSN = "./callback.db"

	flow, err := proxyscope.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := &meter{ticks: make(map[int]uint64)}
	if err := flow.Run(ctx, proxyscope.StreamOutCallback(m.next)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
