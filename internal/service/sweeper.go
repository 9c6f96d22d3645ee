// Package service holds the long-lived background loops: the message
// queue TTL sweeper, the idle-client reaper, and the store flusher. Each
// runs a ticker loop owned by the caller's context.
package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ckoons/engram/internal/queue"
	"github.com/ckoons/engram/internal/security"
)

// SweeperService periodically expires overdue messages in the queue.
type SweeperService struct {
	queue    *queue.Queue
	interval time.Duration
}

// NewSweeperService creates a new sweeper with the given period.
func NewSweeperService(q *queue.Queue, interval time.Duration) *SweeperService {
	return &SweeperService{queue: q, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *SweeperService) Start(ctx context.Context) {
	if s == nil || s.queue == nil || s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *SweeperService) runOnce(ctx context.Context) {
	n, err := s.queue.Cleanup(ctx)
	if err != nil {
		log.Error("Sweeper: cleanup failed", "err", err)
		return
	}
	if n > 0 {
		log.Info("Sweeper: expired messages", "count", n)
	}
	st, err := s.queue.Stats(ctx)
	if err != nil {
		return
	}
	security.SetQueueMessages(st.Pending, st.Delivered, st.Processed)
}
