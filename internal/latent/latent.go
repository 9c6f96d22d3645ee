// Package latent implements the latent-space store: append-only chains of
// iterative thought refinements with lexical convergence detection. A
// thought lives in memory until finalize persists it; persisted thoughts
// reload on open so reasoning traces survive restarts.
package latent

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ckoons/engram/internal/atomicfile"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/lexical"
	"github.com/ckoons/engram/internal/model"
)

// DefaultConvergenceThreshold is the Jaccard similarity above which two
// consecutive iterations count as converged.
const DefaultConvergenceThreshold = 0.85

// Space holds the thoughts of one namespace.
type Space struct {
	dir       string
	namespace string
	threshold float64

	mu       sync.RWMutex
	thoughts map[string]*model.Thought
}

// Trace is the reduced reasoning trace returned without full iterations:
// only the first and final revisions plus the chain length.
type Trace struct {
	ThoughtID      string                    `json:"thought_id"`
	Namespace      string                    `json:"namespace"`
	Finalized      bool                      `json:"finalized"`
	IterationCount int                       `json:"iteration_count"`
	First          *model.ThoughtIteration   `json:"first,omitempty"`
	Final          *model.ThoughtIteration   `json:"final,omitempty"`
	Iterations     []model.ThoughtIteration  `json:"iterations,omitempty"`
}

// Open loads the persisted thoughts of a namespace from
// <dataDir>/latent/<namespace>/. A threshold <= 0 uses the default.
func Open(dataDir, namespace string, threshold float64) (*Space, error) {
	if threshold <= 0 {
		threshold = DefaultConvergenceThreshold
	}
	sp := &Space{
		dir:       filepath.Join(dataDir, "latent", namespace),
		namespace: namespace,
		threshold: threshold,
		thoughts:  map[string]*model.Thought{},
	}

	entries, err := os.ReadDir(sp.dir)
	if errors.Is(err, os.ErrNotExist) {
		return sp, nil
	}
	if err != nil {
		return nil, fault.Storage(err, "read latent dir %s", sp.dir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var thought model.Thought
		if err := atomicfile.ReadJSON(filepath.Join(sp.dir, e.Name()), &thought); err != nil {
			return nil, fault.Storage(err, "load thought %s", e.Name())
		}
		sp.thoughts[thought.ThoughtID] = &thought
	}
	return sp, nil
}

// Namespace returns the space's namespace.
func (sp *Space) Namespace() string { return sp.namespace }

// Initialize seeds a new thought and returns its id.
func (sp *Space) Initialize(content string, metadata model.Metadata) (string, error) {
	if content == "" {
		return "", fault.Invalid("thought content must not be empty")
	}
	now := time.Now().UTC()
	thought := &model.Thought{
		ThoughtID: model.NewThoughtID(now),
		Namespace: sp.namespace,
		Metadata:  metadata.Clone(),
		CreatedAt: now,
		Iterations: []model.ThoughtIteration{
			{Content: content, Timestamp: now},
		},
	}

	sp.mu.Lock()
	sp.thoughts[thought.ThoughtID] = thought
	sp.mu.Unlock()
	return thought.ThoughtID, nil
}

// Refine appends a revision to an open thought. Finalized thoughts are
// append-closed.
func (sp *Space) Refine(thoughtID, content string, metadataUpdates model.Metadata) error {
	if content == "" {
		return fault.Invalid("thought content must not be empty")
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	thought, ok := sp.thoughts[thoughtID]
	if !ok {
		return fault.NotFound("thought %s not found", thoughtID)
	}
	if thought.Finalized {
		return fault.Invalid("thought %s is finalized", thoughtID)
	}
	thought.Iterations = append(thought.Iterations, model.ThoughtIteration{
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	applyMetadata(thought, metadataUpdates)
	return nil
}

// Finalize closes a thought. An empty finalContent reuses the latest
// revision; persist writes the full iteration list to disk.
func (sp *Space) Finalize(thoughtID, finalContent string, persist bool, metadataUpdates model.Metadata) (*model.Thought, error) {
	sp.mu.Lock()
	thought, ok := sp.thoughts[thoughtID]
	if !ok {
		sp.mu.Unlock()
		return nil, fault.NotFound("thought %s not found", thoughtID)
	}
	if thought.Finalized {
		sp.mu.Unlock()
		return nil, fault.Invalid("thought %s is already finalized", thoughtID)
	}

	now := time.Now().UTC()
	if finalContent == "" {
		if latest := thought.Latest(); latest != nil {
			finalContent = latest.Content
		}
	}
	thought.Iterations = append(thought.Iterations, model.ThoughtIteration{
		Content:   finalContent,
		Timestamp: now,
		IsFinal:   true,
	})
	thought.Finalized = true
	thought.FinalizedAt = &now
	applyMetadata(thought, metadataUpdates)
	snapshot := cloneThought(thought)
	sp.mu.Unlock()

	if persist {
		path := filepath.Join(sp.dir, thoughtID+".json")
		if err := atomicfile.WriteJSON(path, snapshot, 0o600); err != nil {
			return nil, fault.Storage(err, "persist thought %s", thoughtID)
		}
	}
	return snapshot, nil
}

// Get returns a copy of the thought, or nil when absent.
func (sp *Space) Get(thoughtID string) *model.Thought {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	thought, ok := sp.thoughts[thoughtID]
	if !ok {
		return nil
	}
	return cloneThought(thought)
}

// ReasoningTrace summarizes a thought. Without iterations it carries only
// the first and final revisions.
func (sp *Space) ReasoningTrace(thoughtID string, includeIterations bool) (*Trace, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	thought, ok := sp.thoughts[thoughtID]
	if !ok {
		return nil, fault.NotFound("thought %s not found", thoughtID)
	}

	trace := &Trace{
		ThoughtID:      thought.ThoughtID,
		Namespace:      thought.Namespace,
		Finalized:      thought.Finalized,
		IterationCount: len(thought.Iterations),
	}
	if includeIterations {
		trace.Iterations = append([]model.ThoughtIteration(nil), thought.Iterations...)
		return trace, nil
	}
	if first := thought.First(); first != nil {
		f := *first
		trace.First = &f
	}
	if final := thought.Latest(); final != nil {
		f := *final
		trace.Final = &f
	}
	return trace, nil
}

// Converged reports whether the last two revisions of a thought are
// lexically similar beyond the space's threshold. Chains shorter than two
// revisions are never converged.
func (sp *Space) Converged(thoughtID string) (bool, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	thought, ok := sp.thoughts[thoughtID]
	if !ok {
		return false, fault.NotFound("thought %s not found", thoughtID)
	}
	contents := make([]string, len(thought.Iterations))
	for i, it := range thought.Iterations {
		contents[i] = it.Content
	}
	return ConvergedContents(contents, sp.threshold), nil
}

// ConvergedContents is the convergence helper over raw iteration
// contents: true when the final pair's token-set Jaccard similarity
// exceeds threshold.
func ConvergedContents(contents []string, threshold float64) bool {
	if len(contents) < 2 {
		return false
	}
	last, prev := contents[len(contents)-1], contents[len(contents)-2]
	return lexical.Jaccard(prev, last) > threshold
}

// Delete drops a thought and its persisted file. Returns false when the
// thought does not exist.
func (sp *Space) Delete(thoughtID string) (bool, error) {
	sp.mu.Lock()
	_, ok := sp.thoughts[thoughtID]
	delete(sp.thoughts, thoughtID)
	sp.mu.Unlock()
	if !ok {
		return false, nil
	}

	path := filepath.Join(sp.dir, thoughtID+".json")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, fault.Storage(err, "remove thought file %s", path)
	}
	return true, nil
}

// Clear drops every thought of the namespace, persisted files included,
// and returns how many were removed.
func (sp *Space) Clear() (int, error) {
	sp.mu.Lock()
	n := len(sp.thoughts)
	sp.thoughts = map[string]*model.Thought{}
	sp.mu.Unlock()

	if err := os.RemoveAll(sp.dir); err != nil {
		return n, fault.Storage(err, "clear latent dir %s", sp.dir)
	}
	return n, nil
}

// List returns the ids of every thought, sorted.
func (sp *Space) List() []string {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	ids := make([]string, 0, len(sp.thoughts))
	for id := range sp.thoughts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func applyMetadata(thought *model.Thought, updates model.Metadata) {
	if len(updates) == 0 {
		return
	}
	if thought.Metadata == nil {
		thought.Metadata = model.Metadata{}
	}
	for k, v := range updates {
		thought.Metadata[k] = v
	}
}

func cloneThought(t *model.Thought) *model.Thought {
	out := *t
	out.Iterations = append([]model.ThoughtIteration(nil), t.Iterations...)
	out.Metadata = t.Metadata.Clone()
	if t.FinalizedAt != nil {
		at := *t.FinalizedAt
		out.FinalizedAt = &at
	}
	return &out
}
