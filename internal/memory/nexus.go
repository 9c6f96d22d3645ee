package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ckoons/engram/internal/categorize"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
)

// Nexus is the session-aware facade over the memory service: it tracks
// one active conversational session per client, records turns, and
// auto-memorizes noteworthy user statements.

type nexusState struct {
	mu        sync.Mutex
	sessionID string
	name      string
	turns     int
}

// StartNexus opens a session and returns its id plus a greeting that
// carries the current memory digest.
func (s *Service) StartNexus(ctx context.Context, sessionName string) (string, string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", "", err
	}
	if sessionName == "" {
		sessionName = "Session"
	}
	sessionID := fmt.Sprintf("session-%d", time.Now().Unix())

	state := &s.nexusSess
	state.mu.Lock()
	state.sessionID = sessionID
	state.name = sessionName
	state.turns = 0
	state.mu.Unlock()

	if err := s.WriteSession(ctx, fmt.Sprintf("Session started: %s (%s)", sessionName, sessionID), model.Metadata{
		"event":      model.StringValue("session_start"),
		"session_id": model.StringValue(sessionID),
	}); err != nil {
		return "", "", err
	}

	digest, err := s.Digest(ctx, DigestOptions{MaxMemories: 10})
	if err != nil {
		return "", "", err
	}
	greeting := fmt.Sprintf("# Nexus Session Started\n\nSession: %s (ID: %s)\n\n%s",
		sessionName, sessionID, digest)
	return sessionID, greeting, nil
}

// ProcessMessage records a conversation turn. User messages are
// classified; noteworthy ones (anything beyond session chatter) are also
// memorized as structured memories, and the reply carries relevant
// context for the message.
func (s *Service) ProcessMessage(ctx context.Context, message string, isUser bool) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	if message == "" {
		return "", fault.Invalid("message must not be empty")
	}

	role := "assistant"
	if isUser {
		role = "user"
	}
	if _, err := s.Add(ctx, role+": "+message, model.NamespaceConversations, model.Metadata{
		"role": model.StringValue(role),
	}); err != nil {
		return "", err
	}

	state := &s.nexusSess
	state.mu.Lock()
	state.turns++
	state.mu.Unlock()

	if !isUser {
		return "", nil
	}
	if category, _ := categorize.Classify(message); category != model.CategorySession {
		if _, err := s.AddAutoCategorized(ctx, message); err != nil {
			return "", err
		}
	}

	contextText, _, err := s.RelevantContext(ctx, message,
		[]string{model.NamespaceLongterm, model.NamespaceConversations}, 3)
	if err != nil {
		return "", err
	}
	return contextText, nil
}

// NexusStore forwards to Add, tagging the record with the key when one
// is given. The default namespace is conversations.
func (s *Service) NexusStore(ctx context.Context, key, value, namespace string) (string, error) {
	if namespace == "" {
		namespace = model.NamespaceConversations
	}
	var md model.Metadata
	if key != "" {
		md = model.Metadata{model.MetaKey: model.StringValue(key)}
	}
	return s.Add(ctx, value, namespace, md)
}

// NexusSearch combines a structured-memory search with a scan of the
// conversation and longterm namespaces, deduplicated by id, relevance
// descending.
func (s *Service) NexusSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	structured, err := s.SearchMemories(ctx, SearchMemoriesOptions{
		Query: query, Limit: limit, SortBy: "relevance",
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(structured))
	combined := make([]Result, 0, limit*2)
	for _, r := range structured {
		seen[r.ID] = true
		combined = append(combined, r)
	}
	for _, ns := range []string{model.NamespaceConversations, model.NamespaceLongterm} {
		res, err := s.Search(ctx, query, ns, limit, "")
		if err != nil {
			return nil, err
		}
		for _, r := range res.Results {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			combined = append(combined, r)
		}
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Relevance > combined[j].Relevance
	})
	if limit < len(combined) {
		combined = combined[:limit]
	}
	return combined, nil
}

// EndNexus closes the active session, writing a summary marker, and
// returns a closing message.
func (s *Service) EndNexus(ctx context.Context, summary string) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}

	state := &s.nexusSess
	state.mu.Lock()
	sessionID := state.sessionID
	name := state.name
	turns := state.turns
	state.sessionID = ""
	state.mu.Unlock()

	if sessionID == "" {
		return "", fault.Invalid("no active session")
	}
	content := fmt.Sprintf("Session ended: %s (%s)", name, sessionID)
	if summary != "" {
		content += " - " + summary
	}
	if err := s.WriteSession(ctx, content, model.Metadata{
		"event":      model.StringValue("session_end"),
		"session_id": model.StringValue(sessionID),
		"turns":      model.IntValue(turns),
	}); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Session ended. %s", summary)
	if summary == "" {
		msg = fmt.Sprintf("Session ended after %d messages.", turns)
	}
	return msg, nil
}
