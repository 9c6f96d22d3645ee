package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ckoons/engram/internal/clients"
	"github.com/ckoons/engram/internal/queue"
)

// FlusherService periodically persists dirty client state and the queue
// so a crash loses at most one interval of writes.
type FlusherService struct {
	registry *clients.Registry
	queue    *queue.Queue
	interval time.Duration
}

// NewFlusherService creates a new background flusher.
func NewFlusherService(registry *clients.Registry, q *queue.Queue, interval time.Duration) *FlusherService {
	return &FlusherService{registry: registry, queue: q, interval: interval}
}

// Start runs the flush loop until ctx is cancelled, then takes one final
// flush so shutdown never drops buffered writes.
func (f *FlusherService) Start(ctx context.Context) {
	if f == nil || f.interval <= 0 {
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.runOnce()
			return
		case <-ticker.C:
			f.runOnce()
		}
	}
}

func (f *FlusherService) runOnce() {
	if f.registry != nil {
		if err := f.registry.Flush(); err != nil {
			log.Error("Flusher: client flush failed", "err", err)
		}
	}
	if f.queue != nil {
		if err := f.queue.Flush(); err != nil {
			log.Error("Flusher: queue flush failed", "err", err)
		}
	}
}
