// Package clients is the registry of per-client memory services: one
// lazily constructed memory.Service per client id, with last-access
// tracking so the idle reaper can drop instances that have gone quiet.
package clients

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/memory"
	"github.com/ckoons/engram/internal/queue"
	registryembed "github.com/ckoons/engram/internal/registry/embed"
	"github.com/ckoons/engram/internal/security"
)

// Options configures a Registry. Queue is optional; when set, every
// client is registered as a message recipient on first touch.
type Options struct {
	DataDir              string
	Embedder             registryembed.Embedder
	Queue                *queue.Queue
	SessionRingSize      int
	ConvergenceThreshold float64
}

// Info is one row of a registry listing.
type Info struct {
	ClientID   string    `json:"client_id"`
	LastAccess time.Time `json:"last_access_time"`
}

type entry struct {
	once sync.Once
	svc  *memory.Service
	err  error

	mu         sync.Mutex
	lastAccess time.Time
}

func (e *entry) touch(t time.Time) {
	e.mu.Lock()
	e.lastAccess = t
	e.mu.Unlock()
}

func (e *entry) touched() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccess
}

// Registry maps client ids to their memory services.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds an empty registry.
func New(opts Options) *Registry {
	return &Registry{opts: opts, entries: map[string]*entry{}}
}

// Get returns the client's memory service, constructing it on first
// touch. Concurrent calls for the same id share one construction; a
// failed construction is not cached.
func (r *Registry) Get(ctx context.Context, clientID string) (*memory.Service, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, fault.Invalid("client id must not be empty")
	}

	r.mu.RLock()
	e := r.entries[clientID]
	r.mu.RUnlock()

	if e == nil {
		r.mu.Lock()
		e = r.entries[clientID]
		if e == nil {
			e = &entry{}
			r.entries[clientID] = e
		}
		r.mu.Unlock()
	}

	e.once.Do(func() {
		e.svc, e.err = memory.Open(memory.Options{
			DataDir:              r.opts.DataDir,
			ClientID:             clientID,
			Embedder:             r.opts.Embedder,
			SessionRingSize:      r.opts.SessionRingSize,
			ConvergenceThreshold: r.opts.ConvergenceThreshold,
		})
		if e.err == nil {
			log.Debug("client service opened", "client", clientID)
			if r.opts.Queue != nil {
				r.opts.Queue.Register(clientID)
			}
			security.SetActiveClients(r.Len())
		}
	})
	if e.err != nil {
		err := e.err
		r.mu.Lock()
		if r.entries[clientID] == e {
			delete(r.entries, clientID)
		}
		r.mu.Unlock()
		return nil, err
	}

	e.touch(time.Now())
	return e.svc, nil
}

// List returns the live clients with their last access times, ordered by
// client id.
func (r *Registry) List(ctx context.Context) ([]Info, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for id, e := range r.entries {
		if e.svc == nil {
			continue
		}
		out = append(out, Info{ClientID: id, LastAccess: e.touched()})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// Len reports how many client services are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.svc != nil {
			n++
		}
	}
	return n
}

// EvictIdle closes and drops every client idle longer than idleTTL,
// returning how many were evicted. A client whose flush fails stays
// registered so its dirty state is not orphaned.
func (r *Registry) EvictIdle(idleTTL time.Duration) int {
	cutoff := time.Now().Add(-idleTTL)

	r.mu.Lock()
	var victims []string
	for id, e := range r.entries {
		if e.svc != nil && e.touched().Before(cutoff) {
			victims = append(victims, id)
		}
	}
	evicted := 0
	for _, id := range victims {
		e := r.entries[id]
		if err := e.svc.Close(); err != nil {
			log.Warn("idle client flush failed, keeping instance", "client", id, "err", err)
			continue
		}
		delete(r.entries, id)
		evicted++
	}
	r.mu.Unlock()

	if evicted > 0 {
		log.Info("evicted idle clients", "count", evicted)
	}
	security.SetActiveClients(r.Len())
	return evicted
}

// Flush persists every live client service.
func (r *Registry) Flush() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for id, e := range r.entries {
		if e.svc == nil {
			continue
		}
		if err := e.svc.Flush(); err != nil {
			log.Error("client flush failed", "client", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close flushes and drops every client service. The registry must not be
// used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, e := range r.entries {
		if e.svc == nil {
			continue
		}
		if err := e.svc.Close(); err != nil {
			log.Error("client close failed", "client", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	r.entries = map[string]*entry{}
	security.SetActiveClients(0)
	return firstErr
}
