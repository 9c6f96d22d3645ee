package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/memory"
	"github.com/ckoons/engram/internal/model"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*memory.Service, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := memory.Open(memory.Options{DataDir: dir, ClientID: "tester"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestAddGetDeleteRoundTrip(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "Water boils at 100C.", model.NamespaceLongterm, nil)
	require.NoError(t, err)

	r, err := s.Get(ctx, model.NamespaceLongterm, id)
	require.NoError(t, err)
	require.Equal(t, "Water boils at 100C.", r.Content)

	ok, err := s.Delete(ctx, model.NamespaceLongterm, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Get(ctx, model.NamespaceLongterm, id)
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestAddRejectsEmptyContentAndUnknownNamespace(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "", model.NamespaceLongterm, nil)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))

	_, err = s.Add(ctx, "anything", "semantics", nil)
	require.True(t, fault.IsKind(err, fault.KindUnknownNamespace))
}

// TestLexicalRecall runs the degraded-retrieval scenario: no embedding
// provider is configured, so search falls back to token-overlap ranking.
func TestLexicalRecall(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "Machine learning finds patterns in data.", model.NamespaceLongterm, nil)
	require.NoError(t, err)

	res, err := s.Search(ctx, "pattern discovery in datasets", model.NamespaceLongterm, 1, "")
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Equal(t, "Machine learning finds patterns in data.", res.Results[0].Content)
	require.Equal(t, model.ModeLexical, res.Results[0].Mode)
	require.Greater(t, res.Results[0].Relevance, 0.0)
	require.LessOrEqual(t, res.Results[0].Relevance, 1.0)
}

func TestSearchLimitZero(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "some content", model.NamespaceLongterm, nil)
	require.NoError(t, err)

	res, err := s.Search(ctx, "content", model.NamespaceLongterm, 0, "")
	require.NoError(t, err)
	require.Equal(t, 0, res.Count)
	require.Empty(t, res.Results)
}

// TestAutoCategorize pins the rule-table outcome for a sentence that
// matches both the personal and preferences rules: first match wins.
func TestAutoCategorize(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	id, err := s.AddAutoCategorized(ctx, "My name is Casey and I prefer Python.")
	require.NoError(t, err)

	r, err := s.GetMemory(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.CategoryPersonal, r.Category())
	require.GreaterOrEqual(t, r.Importance(), 4)
}

// TestPrivateRoundTrip checks the plaintext never reaches the memories
// file while decryption still recovers it.
func TestPrivateRoundTrip(t *testing.T) {
	s, dir := newService(t)
	ctx := context.Background()

	id, err := s.AddPrivate(ctx, "secret-42")
	require.NoError(t, err)
	require.NoError(t, s.Flush())

	raw, err := os.ReadFile(filepath.Join(dir, "tester-memories.json"))
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-42")

	plain, err := s.GetPrivate(ctx, id, false)
	require.NoError(t, err)
	require.Equal(t, "secret-42", plain)

	entries, err := s.ListPrivate(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].ID)
}

func TestPrivateEmergencyDecrypt(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	id, err := s.AddPrivate(ctx, "fallback plaintext")
	require.NoError(t, err)

	plain, err := s.GetPrivate(ctx, id, true)
	require.NoError(t, err)
	require.Equal(t, "fallback plaintext", plain)
}

func TestSearchMemoriesFilters(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, "I live in Lisbon.", model.CategoryPersonal, 5, []string{"home"}, nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, "The build uses make.", model.CategoryFacts, 2, nil, nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, "Working on the parser rewrite.", model.CategoryProjects, 4, []string{"parser"}, nil)
	require.NoError(t, err)

	res, err := s.SearchMemories(ctx, memory.SearchMemoriesOptions{
		Categories: []model.Category{model.CategoryPersonal},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "I live in Lisbon.", res[0].Content)

	res, err = s.SearchMemories(ctx, memory.SearchMemoriesOptions{MinImportance: 4})
	require.NoError(t, err)
	require.Len(t, res, 2)

	res, err = s.SearchMemories(ctx, memory.SearchMemoriesOptions{Tags: []string{"parser"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "Working on the parser rewrite.", res[0].Content)

	_, err = s.SearchMemories(ctx, memory.SearchMemoriesOptions{Categories: []model.Category{"bogus"}})
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestDigestDeterminism requires byte-identical output across calls on
// identical state, and pins the section/item format.
func TestDigestDeterminism(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, "My name is Casey.", model.CategoryPersonal, 5, nil, nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, "Tea over coffee.", model.CategoryPreferences, 3, nil, nil)
	require.NoError(t, err)

	first, err := s.Digest(ctx, memory.DigestOptions{})
	require.NoError(t, err)
	second, err := s.Digest(ctx, memory.DigestOptions{})
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.True(t, strings.HasPrefix(first, "# Memory Digest\n"))
	require.Contains(t, first, "\n## Personal\n")
	require.Contains(t, first, "- ★★★★★ My name is Casey. ("+time.Now().UTC().Format("2006-01-02")+")")
	require.Contains(t, first, "- ★★★ Tea over coffee.")
	// Personal (top importance 5) sections before Preferences (3).
	require.Less(t, strings.Index(first, "## Personal"), strings.Index(first, "## Preferences"))
}

func TestRelevantContextFormat(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "user: tell me about the parser", model.NamespaceConversations, nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, "The parser uses recursive descent.", model.NamespaceLongterm, nil)
	require.NoError(t, err)

	text, partial, err := s.RelevantContext(ctx, "parser",
		[]string{model.NamespaceConversations, model.NamespaceThinking, model.NamespaceLongterm}, 3)
	require.NoError(t, err)
	require.False(t, partial)

	require.True(t, strings.HasPrefix(text, "# Memory Context\n"))
	require.Contains(t, text, "\n## Conversations\n- user: tell me about the parser\n")
	require.Contains(t, text, "\n## Important Information\n- The parser uses recursive descent.\n")
	// Thinking is empty and must not produce a header.
	require.NotContains(t, text, "## Thoughts")
	// Namespace order is preserved.
	require.Less(t, strings.Index(text, "## Conversations"), strings.Index(text, "## Important Information"))
}

func TestRelevantContextUnknownNamespace(t *testing.T) {
	s, _ := newService(t)
	_, _, err := s.RelevantContext(context.Background(), "q", []string{"nope"}, 3)
	require.True(t, fault.IsKind(err, fault.KindUnknownNamespace))
}

func TestCompartmentLifecycle(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	c, err := s.CreateCompartment(ctx, "project-x", "skunkworks notes")
	require.NoError(t, err)
	require.True(t, c.Active)

	id, err := s.StoreInCompartment(ctx, c.ID, "prototype uses websockets", "transport")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r, err := s.Get(ctx, model.CompartmentNamespace(c.ID), id)
	require.NoError(t, err)
	require.Equal(t, "prototype uses websockets", r.Content)

	require.NoError(t, s.DeactivateCompartment(ctx, c.ID))
	list, err := s.ListCompartments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.False(t, list[0].Active)
	require.NoError(t, s.ActivateCompartment(ctx, c.ID))

	// A short expiration delists the compartment and blocks membership.
	require.NoError(t, s.SetCompartmentExpiration(ctx, c.ID, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	list, err = s.ListCompartments(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = s.StoreInCompartment(ctx, c.ID, "too late", "")
	require.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestCompartmentsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := memory.Open(memory.Options{DataDir: dir, ClientID: "tester"})
	require.NoError(t, err)
	ctx := context.Background()

	c, err := s.CreateCompartment(ctx, "archive", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := memory.Open(memory.Options{DataDir: dir, ClientID: "tester"})
	require.NoError(t, err)
	defer s2.Close()

	list, err := s2.ListCompartments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, c.ID, list[0].ID)
	require.Equal(t, "archive", list[0].Name)
}

func TestSessionRingTrimsNamespace(t *testing.T) {
	dir := t.TempDir()
	s, err := memory.Open(memory.Options{DataDir: dir, ClientID: "tester", SessionRingSize: 3})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		_, err := s.Add(ctx, content, model.NamespaceSession, nil)
		require.NoError(t, err)
	}

	res, err := s.Search(ctx, "one two three four five", model.NamespaceSession, 10, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Count)
}

func TestNexusSessionFlow(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	_, err := s.AddMemory(ctx, "My name is Casey.", model.CategoryPersonal, 5, nil, nil)
	require.NoError(t, err)

	sessionID, greeting, err := s.StartNexus(ctx, "Morning Review")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sessionID, "session-"))
	require.True(t, strings.HasPrefix(greeting, "# Nexus Session Started\n\nSession: Morning Review (ID: "+sessionID+")\n\n# Memory Digest"))

	contextText, err := s.ProcessMessage(ctx, "I prefer dark roast coffee.", true)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(contextText, "# Memory Context"))

	_, err = s.ProcessMessage(ctx, "Noted, dark roast it is.", false)
	require.NoError(t, err)

	// The user statement was noteworthy and landed as a structured memory.
	res, err := s.SearchMemories(ctx, memory.SearchMemoriesOptions{
		Categories: []model.Category{model.CategoryPreferences},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)

	msg, err := s.EndNexus(ctx, "coffee preferences captured")
	require.NoError(t, err)
	require.Contains(t, msg, "coffee preferences captured")

	_, err = s.EndNexus(ctx, "")
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))

	entries, err := s.LoadSession(ctx, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
	require.Contains(t, entries[0].Content, "Session ended")
}

func TestDeadlineExceededSurfaces(t *testing.T) {
	s, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Add(ctx, "late", model.NamespaceLongterm, nil)
	require.True(t, fault.IsKind(err, fault.KindDeadlineExceeded))
}
