package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ThoughtIteration is one revision in a thought's refinement chain.
type ThoughtIteration struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Confidence is an optional caller-supplied score for this revision.
	Confidence *float64 `json:"confidence,omitempty"`
	// IsFinal marks the iteration written by finalize.
	IsFinal bool `json:"is_final,omitempty"`
}

// Thought is an append-only chain of iterative refinements in the latent
// space. Once finalized the iteration list is append-closed.
type Thought struct {
	ThoughtID   string             `json:"thought_id"`
	Namespace   string             `json:"namespace"`
	Iterations  []ThoughtIteration `json:"iterations"`
	Finalized   bool               `json:"finalized"`
	Metadata    Metadata           `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	FinalizedAt *time.Time         `json:"finalized_at,omitempty"`
}

// Latest returns the most recent iteration, or nil for an empty chain.
func (t *Thought) Latest() *ThoughtIteration {
	if len(t.Iterations) == 0 {
		return nil
	}
	return &t.Iterations[len(t.Iterations)-1]
}

// First returns the initial iteration, or nil for an empty chain.
func (t *Thought) First() *ThoughtIteration {
	if len(t.Iterations) == 0 {
		return nil
	}
	return &t.Iterations[0]
}

// NewThoughtID builds a thought id of the form
// thought-<unix-seconds>-<8 hex>.
func NewThoughtID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("thought-%d-%s", now.Unix(), suffix)
}
