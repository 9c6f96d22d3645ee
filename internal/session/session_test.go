package session_test

import (
	"fmt"
	"testing"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/session"
	"github.com/stretchr/testify/require"
)

// TestWriteLoadNewestFirst verifies ordering and limit clamping.
func TestWriteLoadNewestFirst(t *testing.T) {
	l, err := session.Open(t.TempDir(), "tester", 10)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Write(fmt.Sprintf("entry %d", i), nil))
	}

	entries, err := l.Load(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "entry 3", entries[0].Content)
	require.Equal(t, "entry 2", entries[1].Content)

	entries, err = l.Load(50)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries, err = l.Load(0)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = l.Load(-1)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestRingOverflowDropsOldest fills past capacity and checks the silent
// drop of the oldest entries.
func TestRingOverflowDropsOldest(t *testing.T) {
	l, err := session.Open(t.TempDir(), "tester", 3)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Write(fmt.Sprintf("entry %d", i), nil))
	}
	require.Equal(t, 3, l.Len())

	entries, err := l.Load(3)
	require.NoError(t, err)
	require.Equal(t, "entry 5", entries[0].Content)
	require.Equal(t, "entry 3", entries[2].Content)
}

// TestFlushAndReload persists the ring and reopens it, including the
// trim-on-open path when capacity shrinks.
func TestFlushAndReload(t *testing.T) {
	dir := t.TempDir()
	l, err := session.Open(dir, "tester", 10)
	require.NoError(t, err)

	require.NoError(t, l.Write("kept one", model.Metadata{"role": model.StringValue("user")}))
	require.NoError(t, l.Write("kept two", nil))
	require.True(t, l.Dirty())
	require.NoError(t, l.Flush())
	require.False(t, l.Dirty())

	reopened, err := session.Open(dir, "tester", 10)
	require.NoError(t, err)
	entries, err := reopened.Load(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "kept two", entries[0].Content)
	require.Equal(t, "user", entries[1].Metadata.GetString("role"))

	shrunk, err := session.Open(dir, "tester", 1)
	require.NoError(t, err)
	require.Equal(t, 1, shrunk.Len())
	entries, err = shrunk.Load(1)
	require.NoError(t, err)
	require.Equal(t, "kept two", entries[0].Content)
}

// TestWriteEmptyContent rejects empty session entries.
func TestWriteEmptyContent(t *testing.T) {
	l, err := session.Open(t.TempDir(), "tester", 0)
	require.NoError(t, err)
	require.Equal(t, session.DefaultCapacity, l.Capacity())
	err = l.Write("", nil)
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}
