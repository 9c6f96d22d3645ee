// Package store implements the per-client namespace store: an
// append-mostly record set per namespace, buffered in memory and flushed
// to a single pretty-printed JSON snapshot per client. Writes are atomic
// at the file level (temp-then-rename) so a crash recovers the last fully
// flushed snapshot.
package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ckoons/engram/internal/atomicfile"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/lexical"
	"github.com/ckoons/engram/internal/model"
)

// maxFlushFailures is how many consecutive flush failures a store absorbs
// before it degrades to read-only and surfaces StorageUnavailable on the
// next write.
const maxFlushFailures = 5

// Hit is one lexical search result.
type Hit struct {
	Record model.Record
	Score  float64
}

// namespaceState holds one namespace's records under its own lock so
// different namespaces of the same client do not contend.
type namespaceState struct {
	mu      sync.RWMutex
	records []model.Record
	byID    map[string]int
}

// Store owns one client's namespaces and their snapshot file.
type Store struct {
	clientID string
	path     string

	mu         sync.RWMutex // guards the namespace map
	namespaces map[string]*namespaceState

	flushMu       sync.Mutex
	dirty         bool
	flushFailures int
	degraded      bool
}

// Path returns the snapshot file for a client.
func Path(dataDir, clientID string) string {
	return filepath.Join(dataDir, clientID+"-memories.json")
}

// Open loads the client's snapshot, or starts empty when none exists.
func Open(dataDir, clientID string) (*Store, error) {
	s := &Store{
		clientID:   clientID,
		path:       Path(dataDir, clientID),
		namespaces: map[string]*namespaceState{},
	}

	var snapshot map[string][]model.Record
	err := atomicfile.ReadJSON(s.path, &snapshot)
	switch {
	case err == nil:
		for ns, records := range snapshot {
			state := &namespaceState{byID: map[string]int{}}
			for _, r := range records {
				state.byID[r.ID] = len(state.records)
				state.records = append(state.records, r)
			}
			s.namespaces[ns] = state
		}
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	default:
		return nil, fault.Storage(err, "load store %s", s.path)
	}
}

// ClientID returns the owning client id.
func (s *Store) ClientID() string { return s.clientID }

// namespace returns the state for ns, creating it when create is set.
func (s *Store) namespace(ns string, create bool) *namespaceState {
	s.mu.RLock()
	state := s.namespaces[ns]
	s.mu.RUnlock()
	if state != nil || !create {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state = s.namespaces[ns]; state == nil {
		state = &namespaceState{byID: map[string]int{}}
		s.namespaces[ns] = state
	}
	return state
}

// Add upserts a record. An empty id mints a fresh one; an explicit id
// that already exists replaces the stored record in place.
func (s *Store) Add(namespace, id, content string, metadata model.Metadata, vector []float32) (string, error) {
	if content == "" {
		return "", fault.Invalid("content must not be empty")
	}
	if err := s.writable(); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
	}

	record := model.Record{ID: id, Content: content, Metadata: metadata.Clone()}
	if record.Metadata == nil {
		record.Metadata = model.Metadata{}
	}
	if record.Metadata.GetString(model.MetaTimestamp) == "" {
		record.Metadata[model.MetaTimestamp] = model.StringValue(model.FormatTimestamp(time.Now()))
	}
	record.Metadata[model.MetaClientID] = model.StringValue(s.clientID)
	if vector != nil {
		record.Embedding = append([]float32(nil), vector...)
	}

	state := s.namespace(namespace, true)
	state.mu.Lock()
	if slot, ok := state.byID[id]; ok {
		state.records[slot] = record
	} else {
		state.byID[id] = len(state.records)
		state.records = append(state.records, record)
	}
	state.mu.Unlock()

	s.markDirty()
	return id, nil
}

// Get returns a copy of the record, or nil when absent.
func (s *Store) Get(namespace, id string) *model.Record {
	state := s.namespace(namespace, false)
	if state == nil {
		return nil
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	slot, ok := state.byID[id]
	if !ok {
		return nil
	}
	r := state.records[slot].Clone()
	return &r
}

// Delete removes a record. Returns false when it was not present.
func (s *Store) Delete(namespace, id string) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	state := s.namespace(namespace, false)
	if state == nil {
		return false, nil
	}

	state.mu.Lock()
	slot, ok := state.byID[id]
	if ok {
		state.records = append(state.records[:slot], state.records[slot+1:]...)
		delete(state.byID, id)
		for i := slot; i < len(state.records); i++ {
			state.byID[state.records[i].ID] = i
		}
	}
	state.mu.Unlock()

	if ok {
		s.markDirty()
	}
	return ok, nil
}

// List returns records in insertion order, windowed by offset and limit.
// A negative limit is an error; limit 0 returns nothing.
func (s *Store) List(namespace string, offset, limit int) ([]model.Record, error) {
	if offset < 0 || limit < 0 {
		return nil, fault.Invalid("offset and limit must not be negative")
	}
	state := s.namespace(namespace, false)
	if state == nil || limit == 0 {
		return nil, nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	if offset >= len(state.records) {
		return nil, nil
	}
	end := offset + limit
	if end > len(state.records) {
		end = len(state.records)
	}
	out := make([]model.Record, 0, end-offset)
	for _, r := range state.records[offset:end] {
		out = append(out, r.Clone())
	}
	return out, nil
}

// All returns every record of a namespace in insertion order.
func (s *Store) All(namespace string) []model.Record {
	state := s.namespace(namespace, false)
	if state == nil {
		return nil
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make([]model.Record, 0, len(state.records))
	for _, r := range state.records {
		out = append(out, r.Clone())
	}
	return out
}

// Count returns the record count of a namespace.
func (s *Store) Count(namespace string) int {
	state := s.namespace(namespace, false)
	if state == nil {
		return 0
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return len(state.records)
}

// Vectors returns the parallel id and embedding slices of every record
// carrying a vector, for index rebuilds.
func (s *Store) Vectors(namespace string) (ids []string, vecs [][]float32) {
	state := s.namespace(namespace, false)
	if state == nil {
		return nil, nil
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	for _, r := range state.records {
		if r.Embedding != nil {
			ids = append(ids, r.ID)
			vecs = append(vecs, r.Embedding)
		}
	}
	return ids, vecs
}

// Namespaces returns every namespace that holds at least one record,
// sorted for determinism.
func (s *Store) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.namespaces))
	for ns, state := range s.namespaces {
		state.mu.RLock()
		n := len(state.records)
		state.mu.RUnlock()
		if n > 0 {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// Clear drops every record of a namespace and flushes immediately so the
// deletion is durable.
func (s *Store) Clear(namespace string) (int, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	state := s.namespace(namespace, false)
	if state == nil {
		return 0, nil
	}

	state.mu.Lock()
	n := len(state.records)
	state.records = nil
	state.byID = map[string]int{}
	state.mu.Unlock()

	if n > 0 {
		s.markDirty()
	}
	if err := s.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

// TrimOldest drops records beyond capacity, oldest first by insertion
// order. Used by the capacity-bounded session namespace.
func (s *Store) TrimOldest(namespace string, capacity int) int {
	state := s.namespace(namespace, false)
	if state == nil || capacity < 0 {
		return 0
	}

	state.mu.Lock()
	excess := len(state.records) - capacity
	if excess > 0 {
		state.records = append([]model.Record(nil), state.records[excess:]...)
		state.byID = make(map[string]int, len(state.records))
		for i, r := range state.records {
			state.byID[r.ID] = i
		}
	}
	state.mu.Unlock()

	if excess > 0 {
		s.markDirty()
		return excess
	}
	return 0
}

// LexicalSearch ranks a namespace's records against the query by token
// overlap. Zero-score records are dropped; ties break by most recent
// timestamp, then id. Limit 0 returns nothing; negative limit errors.
func (s *Store) LexicalSearch(namespace, query string, limit int) ([]Hit, error) {
	if limit < 0 {
		return nil, fault.Invalid("limit must not be negative")
	}
	state := s.namespace(namespace, false)
	if state == nil || limit == 0 {
		return nil, nil
	}

	state.mu.RLock()
	hits := make([]Hit, 0, len(state.records))
	for _, r := range state.records {
		score := lexical.Score(query, r.Content)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Record: r.Clone(), Score: score})
	}
	state.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ti, tj := hits[i].Record.Timestamp(), hits[j].Record.Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

// Dirty reports whether unflushed writes exist.
func (s *Store) Dirty() bool {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.dirty
}

// Degraded reports whether the store refuses writes after repeated flush
// failures.
func (s *Store) Degraded() bool {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.degraded
}

func (s *Store) markDirty() {
	s.flushMu.Lock()
	s.dirty = true
	s.flushMu.Unlock()
}

func (s *Store) writable() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.degraded {
		return fault.New(fault.KindStorageUnavailable,
			"store %s is read-only after repeated flush failures", s.path)
	}
	return nil
}

// Flush writes the snapshot when dirty. Repeated failures flip the store
// to read-only; the next success restores it.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if !s.dirty {
		return nil
	}

	snapshot := s.snapshot()
	if err := atomicfile.WriteJSON(s.path, snapshot, 0o600); err != nil {
		s.flushFailures++
		if s.flushFailures >= maxFlushFailures {
			s.degraded = true
		}
		return fault.Storage(err, "flush store %s", s.path)
	}
	s.dirty = false
	s.flushFailures = 0
	s.degraded = false
	return nil
}

// snapshot captures every namespace under its read lock. Empty namespaces
// are skipped so cleared namespaces vanish from the file.
func (s *Store) snapshot() map[string][]model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]model.Record, len(s.namespaces))
	for ns, state := range s.namespaces {
		state.mu.RLock()
		if len(state.records) > 0 {
			out[ns] = append([]model.Record(nil), state.records...)
		}
		state.mu.RUnlock()
	}
	return out
}
