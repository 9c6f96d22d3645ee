package store_test

import (
	"os"
	"testing"
	"time"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/store"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir, "tester")
	require.NoError(t, err)
	return s, dir
}

// TestAddGetRoundTrip verifies content survives an add/get cycle and that
// the store stamps timestamp and client_id metadata.
func TestAddGetRoundTrip(t *testing.T) {
	s, _ := newStore(t)

	id, err := s.Add("longterm", "", "Water boils at 100C.", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	r := s.Get("longterm", id)
	require.NotNil(t, r)
	require.Equal(t, "Water boils at 100C.", r.Content)
	require.Equal(t, "tester", r.Metadata.GetString(model.MetaClientID))
	require.False(t, r.Timestamp().IsZero())
}

// TestAddEmptyContent rejects empty content as an invalid argument.
func TestAddEmptyContent(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Add("longterm", "", "", nil, nil)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestAddExplicitIDUpserts pins the duplicate-id decision: a second add
// with the same id replaces the record.
func TestAddExplicitIDUpserts(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Add("projects", "p-1", "first draft", nil, nil)
	require.NoError(t, err)
	_, err = s.Add("projects", "p-1", "second draft", nil, nil)
	require.NoError(t, err)

	require.Equal(t, 1, s.Count("projects"))
	require.Equal(t, "second draft", s.Get("projects", "p-1").Content)
}

// TestDeleteAndList covers deletion, list windowing, and the negative
// limit error.
func TestDeleteAndList(t *testing.T) {
	s, _ := newStore(t)
	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		id, err := s.Add("thinking", "", c, nil, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ok, err := s.Delete("thinking", ids[1])
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete("thinking", ids[1])
	require.NoError(t, err)
	require.False(t, ok)

	records, err := s.List("thinking", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "one", records[0].Content)
	require.Equal(t, "three", records[1].Content)

	records, err = s.List("thinking", 1, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "three", records[0].Content)

	records, err = s.List("thinking", 0, 0)
	require.NoError(t, err)
	require.Empty(t, records)

	_, err = s.List("thinking", 0, -1)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestLexicalSearchRanking checks overlap ranking, the zero-limit
// shortcut, and tie-breaking by recency.
func TestLexicalSearchRanking(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.Add("semantics", "", "Machine learning finds patterns in data.", nil, nil)
	require.NoError(t, err)
	_, err = s.Add("semantics", "", "Grocery list: eggs and milk.", nil, nil)
	require.NoError(t, err)

	hits, err := s.LexicalSearch("semantics", "pattern discovery in datasets", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "Machine learning finds patterns in data.", hits[0].Record.Content)
	require.Greater(t, hits[0].Score, 0.0)
	require.LessOrEqual(t, hits[0].Score, 1.0)

	hits, err = s.LexicalSearch("semantics", "pattern", 0)
	require.NoError(t, err)
	require.Empty(t, hits)

	_, err = s.LexicalSearch("semantics", "pattern", -1)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestLexicalSearchTiesPreferRecent gives two identical contents distinct
// timestamps and expects the newer one first.
func TestLexicalSearchTiesPreferRecent(t *testing.T) {
	s, _ := newStore(t)

	older := model.Metadata{model.MetaTimestamp: model.StringValue(
		model.FormatTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))}
	newer := model.Metadata{model.MetaTimestamp: model.StringValue(
		model.FormatTimestamp(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))}

	_, err := s.Add("conversations", "a-old", "the same text", older, nil)
	require.NoError(t, err)
	_, err = s.Add("conversations", "b-new", "the same text", newer, nil)
	require.NoError(t, err)

	hits, err := s.LexicalSearch("conversations", "same text", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "b-new", hits[0].Record.ID)
	require.Equal(t, "a-old", hits[1].Record.ID)
}

// TestFlushAndReload persists a snapshot and reopens it.
func TestFlushAndReload(t *testing.T) {
	s, dir := newStore(t)

	id, err := s.Add("longterm", "", "durable fact", model.Metadata{
		"source": model.StringValue("unit"),
	}, []float32{0.25, 0.5})
	require.NoError(t, err)
	require.True(t, s.Dirty())
	require.NoError(t, s.Flush())
	require.False(t, s.Dirty())

	reopened, err := store.Open(dir, "tester")
	require.NoError(t, err)
	r := reopened.Get("longterm", id)
	require.NotNil(t, r)
	require.Equal(t, "durable fact", r.Content)
	require.Equal(t, "unit", r.Metadata.GetString("source"))
	require.Equal(t, []float32{0.25, 0.5}, r.Embedding)
}

// TestClearFlushesImmediately verifies clear empties the namespace, drops
// it from the snapshot, and reports the removed count.
func TestClearFlushesImmediately(t *testing.T) {
	s, dir := newStore(t)
	_, err := s.Add("session", "", "scratch", nil, nil)
	require.NoError(t, err)

	n, err := s.Clear("session")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, s.Count("session"))

	reopened, err := store.Open(dir, "tester")
	require.NoError(t, err)
	require.Equal(t, 0, reopened.Count("session"))
	require.NotContains(t, reopened.Namespaces(), "session")
}

// TestTrimOldest bounds a namespace to its newest entries.
func TestTrimOldest(t *testing.T) {
	s, _ := newStore(t)
	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := s.Add("session", "", c, nil, nil)
		require.NoError(t, err)
	}

	dropped := s.TrimOldest("session", 2)
	require.Equal(t, 2, dropped)

	records, err := s.List("session", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "c", records[0].Content)
	require.Equal(t, "d", records[1].Content)
}

// TestVectorsReturnsOnlyEmbedded keeps the rebuild source limited to
// records that actually carry vectors.
func TestVectorsReturnsOnlyEmbedded(t *testing.T) {
	s, _ := newStore(t)
	idA, err := s.Add("semantics", "", "embedded", nil, []float32{1, 2})
	require.NoError(t, err)
	_, err = s.Add("semantics", "", "plain", nil, nil)
	require.NoError(t, err)

	ids, vecs := s.Vectors("semantics")
	require.Equal(t, []string{idA}, ids)
	require.Len(t, vecs, 1)
}

// TestDegradedStoreRefusesWrites forces flush failures until the store
// flips read-only, then confirms the next write surfaces
// StorageUnavailable.
func TestDegradedStoreRefusesWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir, "tester")
	require.NoError(t, err)
	_, err = s.Add("longterm", "", "about to lose the disk", nil, nil)
	require.NoError(t, err)

	// Replace the snapshot path's parent with a file so renames fail.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o600))

	for i := 0; i < 5; i++ {
		require.Error(t, s.Flush())
	}
	require.True(t, s.Degraded())

	_, err = s.Add("longterm", "", "rejected", nil, nil)
	require.True(t, fault.IsKind(err, fault.KindStorageUnavailable))
}
