package service

import (
	"context"
	"time"

	"github.com/ckoons/engram/internal/clients"
)

// ReaperService periodically drops client services idle beyond their TTL.
type ReaperService struct {
	registry *clients.Registry
	interval time.Duration
	idleTTL  time.Duration
}

// NewReaperService creates a new idle-client reaper.
func NewReaperService(registry *clients.Registry, interval, idleTTL time.Duration) *ReaperService {
	return &ReaperService{registry: registry, interval: interval, idleTTL: idleTTL}
}

// Start runs the reap loop until ctx is cancelled.
func (r *ReaperService) Start(ctx context.Context) {
	if r == nil || r.registry == nil || r.interval <= 0 || r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.registry.EvictIdle(r.idleTTL)
		}
	}
}
