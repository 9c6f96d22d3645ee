// Package memory implements the per-client memory service: namespaced
// storage with vector and lexical retrieval, structured memories with
// categories and importance, encrypted private memories, compartment
// lifecycle, the latent thought space, and the session log. One Service
// instance owns all per-client state; instances for different clients
// share nothing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ckoons/engram/internal/crypto"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/latent"
	"github.com/ckoons/engram/internal/model"
	registryembed "github.com/ckoons/engram/internal/registry/embed"
	"github.com/ckoons/engram/internal/security"
	"github.com/ckoons/engram/internal/session"
	"github.com/ckoons/engram/internal/store"
	"github.com/ckoons/engram/internal/vector"
)

// structuredNamespace is where structured and private memories live.
const structuredNamespace = model.NamespaceLongterm

// Options configures a Service.
type Options struct {
	DataDir  string
	ClientID string

	// Embedder is optional; nil forces lexical-only retrieval.
	Embedder registryembed.Embedder

	// SessionRingSize bounds both the session log and the session
	// namespace. Zero uses the session default.
	SessionRingSize int

	// ConvergenceThreshold tunes latent-thought convergence; zero uses
	// the latent default.
	ConvergenceThreshold float64
}

// Service is one client's memory engine.
type Service struct {
	clientID string
	dataDir  string
	ringSize int

	store    *store.Store
	box      *crypto.Box
	embedder registryembed.Embedder
	latent   *latent.Space
	session  *session.Log

	// nsLocks serializes the combined store+index write path per
	// namespace so searches never observe a record without its vector.
	nsMu    sync.Mutex
	nsLocks map[string]*sync.RWMutex

	idxMu   sync.Mutex
	indexes map[string]*vector.Index

	compMu       sync.Mutex
	compartments map[string]*model.Compartment

	nexusSess nexusState
}

// Result is one search hit surfaced to callers.
type Result struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  model.Metadata `json:"metadata"`
	Relevance float64        `json:"relevance"`
	Mode      model.SearchMode `json:"mode"`
}

// SearchResult is a ranked result set. Partial marks a set that lost
// results to a degraded namespace rather than failing outright.
type SearchResult struct {
	Count   int      `json:"count"`
	Results []Result `json:"results"`
	Partial bool     `json:"partial,omitempty"`
}

// Open builds the Service for one client, loading its store, keystore,
// session ring, latent space, and compartment set from disk.
func Open(opts Options) (*Service, error) {
	st, err := store.Open(opts.DataDir, opts.ClientID)
	if err != nil {
		return nil, err
	}
	box, err := crypto.Open(opts.DataDir, opts.ClientID)
	if err != nil {
		return nil, err
	}
	sess, err := session.Open(opts.DataDir, opts.ClientID, opts.SessionRingSize)
	if err != nil {
		return nil, err
	}
	space, err := latent.Open(opts.DataDir, opts.ClientID, opts.ConvergenceThreshold)
	if err != nil {
		return nil, err
	}

	s := &Service{
		clientID:     opts.ClientID,
		dataDir:      opts.DataDir,
		ringSize:     sess.Capacity(),
		store:        st,
		box:          box,
		embedder:     opts.Embedder,
		latent:       space,
		session:      sess,
		nsLocks:      map[string]*sync.RWMutex{},
		indexes:      map[string]*vector.Index{},
		compartments: map[string]*model.Compartment{},
	}
	if err := s.loadCompartments(); err != nil {
		return nil, err
	}
	return s, nil
}

// ClientID returns the owning client id.
func (s *Service) ClientID() string { return s.clientID }

// Latent returns the client's latent thought space.
func (s *Service) Latent() *latent.Space { return s.latent }

// Keys returns the client's crypto box for key management tooling.
func (s *Service) Keys() *crypto.Box { return s.box }

func (s *Service) nsLock(namespace string) *sync.RWMutex {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	mu, ok := s.nsLocks[namespace]
	if !ok {
		mu = &sync.RWMutex{}
		s.nsLocks[namespace] = mu
	}
	return mu
}

// validNamespace checks that ns is a default namespace or the namespace
// of a live compartment.
func (s *Service) validNamespace(ns string) error {
	if model.IsDefaultNamespace(ns) {
		return nil
	}
	if id, ok := model.CompartmentIDFromNamespace(ns); ok {
		if c := s.compartment(id); c != nil && !c.Expired(now()) {
			return nil
		}
	}
	return fault.UnknownNamespace(ns)
}

// Namespaces returns the default namespaces plus one dynamic namespace
// per live compartment, in stable order.
func (s *Service) Namespaces() []string {
	out := model.DefaultNamespaces()

	s.compMu.Lock()
	ids := make([]string, 0, len(s.compartments))
	for id, c := range s.compartments {
		if !c.Expired(now()) {
			ids = append(ids, id)
		}
	}
	s.compMu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, model.CompartmentNamespace(id))
	}
	return out
}

// Add stores content in a namespace, embedding it when a provider is
// available. Embedding failures degrade to a vectorless insert.
func (s *Service) Add(ctx context.Context, content, namespace string, metadata model.Metadata) (string, error) {
	return s.add(ctx, "", content, namespace, metadata)
}

func (s *Service) add(ctx context.Context, id, content, namespace string, metadata model.Metadata) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if content == "" {
		return "", fault.Invalid("content must not be empty")
	}
	if err := s.validNamespace(namespace); err != nil {
		return "", err
	}

	// The embedding call is the slow path; it runs before the namespace
	// lock so concurrent readers are not serialized behind it.
	vec := s.embed(ctx, content)
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}

	mu := s.nsLock(namespace)
	mu.Lock()
	defer mu.Unlock()

	id, err := s.store.Add(namespace, id, content, metadata, vec)
	if err != nil {
		return "", err
	}
	if vec != nil {
		idx, err := s.index(namespace)
		if err == nil {
			if err := idx.Add(id, vec); err != nil {
				log.Warn("vector index add failed", "client", s.clientID, "namespace", namespace, "err", err)
			}
		}
	}
	if namespace == model.NamespaceSession {
		s.store.TrimOldest(namespace, s.ringSize)
	}
	security.CountMemoryOp("add")
	return id, nil
}

// AddConversation joins turns as "role: content" lines and stores the
// result as one memory.
func (s *Service) AddConversation(ctx context.Context, turns []model.ConversationTurn, namespace string) (string, error) {
	if len(turns) == 0 {
		return "", fault.Invalid("conversation must have at least one turn")
	}
	return s.Add(ctx, model.JoinTurns(turns), namespace, nil)
}

// Get returns one record from a namespace.
func (s *Service) Get(ctx context.Context, namespace, id string) (*model.Record, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := s.validNamespace(namespace); err != nil {
		return nil, err
	}
	mu := s.nsLock(namespace)
	mu.RLock()
	defer mu.RUnlock()
	r := s.store.Get(namespace, id)
	if r == nil {
		return nil, fault.NotFound("memory %s not found in %s", id, namespace)
	}
	security.CountMemoryOp("get")
	return r, nil
}

// Delete removes one record and its vector slot.
func (s *Service) Delete(ctx context.Context, namespace, id string) (bool, error) {
	if err := fault.FromContext(ctx); err != nil {
		return false, err
	}
	if err := s.validNamespace(namespace); err != nil {
		return false, err
	}
	mu := s.nsLock(namespace)
	mu.Lock()
	defer mu.Unlock()

	ok, err := s.store.Delete(namespace, id)
	if err != nil || !ok {
		return ok, err
	}
	s.idxMu.Lock()
	if idx := s.indexes[namespace]; idx != nil {
		idx.Remove(id)
	}
	s.idxMu.Unlock()
	security.CountMemoryOp("delete")
	return true, nil
}

// ClearNamespace drops every record of a namespace, vectors included.
func (s *Service) ClearNamespace(ctx context.Context, namespace string) (int, error) {
	if err := fault.FromContext(ctx); err != nil {
		return 0, err
	}
	if err := s.validNamespace(namespace); err != nil {
		return 0, err
	}
	mu := s.nsLock(namespace)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.store.Clear(namespace)
	if err != nil {
		return n, err
	}
	s.idxMu.Lock()
	if idx := s.indexes[namespace]; idx != nil {
		idx.Clear()
	}
	s.idxMu.Unlock()
	security.CountMemoryOp("clear")
	return n, nil
}

// Search ranks a namespace against the query. Vector mode is used when a
// provider is configured and the namespace has indexed vectors; any
// embedding trouble falls through to lexical ranking. modeOverride
// forces lexical mode when set to model.ModeLexical.
func (s *Service) Search(ctx context.Context, query, namespace string, limit int, modeOverride model.SearchMode) (*SearchResult, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fault.Invalid("limit must not be negative")
	}
	if err := s.validNamespace(namespace); err != nil {
		return nil, err
	}
	if limit == 0 {
		return &SearchResult{Results: []Result{}}, nil
	}

	security.CountMemoryOp("search")
	if modeOverride != model.ModeLexical && s.embedder != nil {
		if res := s.vectorSearch(ctx, query, namespace, limit); res != nil {
			return res, nil
		}
		security.CountSearchFallback()
	}
	return s.lexicalSearch(namespace, query, limit)
}

// vectorSearch returns nil when vector mode is unavailable so the caller
// degrades to lexical.
func (s *Service) vectorSearch(ctx context.Context, query, namespace string, limit int) *SearchResult {
	idx, err := s.index(namespace)
	if err != nil || idx.Len() == 0 {
		return nil
	}
	vecs, err := s.embedTexts(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		log.Debug("query embedding failed, using lexical mode",
			"client", s.clientID, "namespace", namespace, "err", err)
		return nil
	}

	mu := s.nsLock(namespace)
	mu.RLock()
	defer mu.RUnlock()

	matches := idx.Search(vecs[0], limit)
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		r := s.store.Get(namespace, m.ID)
		if r == nil {
			continue
		}
		results = append(results, Result{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  r.Metadata,
			Relevance: m.Relevance,
			Mode:      model.ModeVector,
		})
	}
	return &SearchResult{Count: len(results), Results: results}
}

func (s *Service) lexicalSearch(namespace, query string, limit int) (*SearchResult, error) {
	mu := s.nsLock(namespace)
	mu.RLock()
	defer mu.RUnlock()

	hits, err := s.store.LexicalSearch(namespace, query, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:        h.Record.ID,
			Content:   h.Record.Content,
			Metadata:  h.Record.Metadata,
			Relevance: h.Score,
			Mode:      model.ModeLexical,
		})
	}
	return &SearchResult{Count: len(results), Results: results}, nil
}

// contextLabels maps namespaces to their section headings in formatted
// context output.
var contextLabels = map[string]string{
	model.NamespaceConversations: "Conversations",
	model.NamespaceThinking:      "Thoughts",
	model.NamespaceLongterm:      "Important Information",
	model.NamespaceProjects:      "Projects",
	model.NamespaceSession:       "Session",
	model.NamespaceCompartments:  "Compartments",
}

func contextLabel(namespace string) string {
	if label, ok := contextLabels[namespace]; ok {
		return label
	}
	if id, ok := model.CompartmentIDFromNamespace(namespace); ok {
		return "Compartment " + id
	}
	return strings.ToUpper(namespace[:1]) + namespace[1:]
}

// RelevantContext formats the top results per namespace under labeled
// headers. Namespaces are visited in the order given; adjacent duplicate
// contents collapse. Degraded namespaces are skipped and flagged via the
// partial return.
func (s *Service) RelevantContext(ctx context.Context, query string, namespaces []string, limit int) (string, bool, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", false, err
	}
	if limit < 0 {
		return "", false, fault.Invalid("limit must not be negative")
	}

	var b strings.Builder
	b.WriteString("# Memory Context\n")
	partial := false
	for _, ns := range namespaces {
		res, err := s.Search(ctx, query, ns, limit, "")
		if err != nil {
			if fault.IsKind(err, fault.KindInvalidArgument) || fault.IsKind(err, fault.KindUnknownNamespace) {
				return "", false, err
			}
			partial = true
			continue
		}
		if res.Count == 0 {
			continue
		}
		b.WriteString("\n## " + contextLabel(ns) + "\n")
		prev := ""
		for _, r := range res.Results {
			if r.Content == prev {
				continue
			}
			b.WriteString("- " + r.Content + "\n")
			prev = r.Content
		}
	}
	return b.String(), partial, nil
}

// embed returns the content vector, or nil when no provider is set or
// the call fails. Failure is never fatal here; the record degrades to
// lexical retrieval.
func (s *Service) embed(ctx context.Context, content string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vecs, err := s.embedTexts(ctx, []string{content})
	if err != nil || len(vecs) != 1 {
		log.Debug("embedding failed, storing without vector", "client", s.clientID, "err", err)
		return nil
	}
	return vecs[0]
}

// embedTexts calls the provider and records the call latency.
func (s *Service) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := s.embedder.EmbedTexts(ctx, texts)
	security.ObserveEmbedLatency(time.Since(start))
	return vecs, err
}

// index returns the namespace's vector index, opening it lazily and
// rebuilding it from the store when the persisted snapshot is out of
// step with the stored vectors.
func (s *Service) index(namespace string) (*vector.Index, error) {
	if s.embedder == nil {
		return nil, fault.New(fault.KindEmbedUnavailable, "no embedding provider")
	}
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if idx, ok := s.indexes[namespace]; ok {
		return idx, nil
	}
	idx, err := vector.Open(s.dataDir, s.clientID, namespace, s.embedder.Dimension())
	if err != nil {
		return nil, err
	}
	ids, vecs := s.store.Vectors(namespace)
	if idx.Len() != len(ids) {
		if err := idx.Rebuild(ids, vecs); err != nil {
			return nil, err
		}
	}
	s.indexes[namespace] = idx
	return idx, nil
}

// WriteSession appends to the session ring buffer.
func (s *Service) WriteSession(ctx context.Context, content string, metadata model.Metadata) error {
	if err := fault.FromContext(ctx); err != nil {
		return err
	}
	return s.session.Write(content, metadata)
}

// LoadSession returns the most recent limit session entries, newest
// first.
func (s *Service) LoadSession(ctx context.Context, limit int) ([]model.SessionEntry, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	return s.session.Load(limit)
}

// SessionCapacity returns the session ring size.
func (s *Service) SessionCapacity() int { return s.ringSize }

// Dirty reports whether any owned store has unflushed writes.
func (s *Service) Dirty() bool {
	return s.store.Dirty() || s.session.Dirty()
}

// Flush persists the record store, the session ring, and every open
// vector index.
func (s *Service) Flush() error {
	if err := s.store.Flush(); err != nil {
		return err
	}
	if err := s.session.Flush(); err != nil {
		return err
	}
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	for ns, idx := range s.indexes {
		if err := idx.Persist(); err != nil {
			return fmt.Errorf("persist index for %s: %w", ns, err)
		}
	}
	return nil
}

// Close flushes all state. The Service must not be used afterwards.
func (s *Service) Close() error {
	return s.Flush()
}
