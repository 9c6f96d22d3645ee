package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
	"github.com/ckoons/engram/internal/queue"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, clients ...string) (*queue.Queue, string) {
	t.Helper()
	dir := t.TempDir()
	q, err := queue.Open(dir)
	require.NoError(t, err)
	for _, c := range clients {
		q.Register(c)
	}
	return q, dir
}

// TestSendReceiveOrdering pins priority-descending, then
// created-ascending ordering.
func TestSendReceiveOrdering(t *testing.T) {
	q, _ := newQueue(t, "alice", "bob")
	ctx := context.Background()

	lowID, err := q.Send(ctx, "alice", "bob", model.MessageInfo, model.StringValue("low"), queue.SendOptions{Priority: 2})
	require.NoError(t, err)
	highID, err := q.Send(ctx, "alice", "bob", model.MessageInfo, model.StringValue("high"), queue.SendOptions{Priority: 4})
	require.NoError(t, err)

	got, err := q.Receive(ctx, "bob", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, highID, got[0].MessageID)
	require.Equal(t, lowID, got[1].MessageID)
	require.Equal(t, model.StatusDelivered, got[0].Status)
	require.NotNil(t, got[0].DeliveredAt)
}

// TestSendValidation covers recipient, priority, ttl, and type checks.
func TestSendValidation(t *testing.T) {
	q, _ := newQueue(t, "alice")
	ctx := context.Background()

	_, err := q.Send(ctx, "alice", "nobody", model.MessageInfo, model.StringValue("x"), queue.SendOptions{})
	require.True(t, fault.IsKind(err, fault.KindUnknownRecipient))

	q.Register("bob")
	_, err = q.Send(ctx, "alice", "bob", model.MessageInfo, model.StringValue("x"), queue.SendOptions{Priority: 9})
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))

	_, err = q.Send(ctx, "alice", "bob", model.MessageInfo, model.StringValue("x"), queue.SendOptions{TTL: -time.Second})
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))

	_, err = q.Send(ctx, "alice", "bob", "shout", model.StringValue("x"), queue.SendOptions{})
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))
}

// TestPriorityAndTTL is the seed scenario: a short-TTL high-priority
// message expires while the low-priority one survives the sweep.
func TestPriorityAndTTL(t *testing.T) {
	q, _ := newQueue(t, "a", "b")
	ctx := context.Background()

	_, err := q.Send(ctx, "a", "b", model.MessageInfo, model.StringValue("urgent"), queue.SendOptions{Priority: 4, TTL: time.Second})
	require.NoError(t, err)
	keepID, err := q.Send(ctx, "a", "b", model.MessageInfo, model.StringValue("later"), queue.SendOptions{Priority: 2, TTL: time.Minute})
	require.NoError(t, err)

	got, err := q.Receive(ctx, "b", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 4, got[0].Priority)
	require.Equal(t, 2, got[1].Priority)

	time.Sleep(1100 * time.Millisecond)
	expired, err := q.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	got, err = q.Receive(ctx, "b", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, keepID, got[0].MessageID)
	require.Equal(t, model.StatusDelivered, got[0].Status)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Expired)
}

// TestReplyThreading is the seed scenario: the reply inherits the
// recipient and thread of its parent.
func TestReplyThreading(t *testing.T) {
	q, _ := newQueue(t, "a", "b")
	ctx := context.Background()

	m1, err := q.Send(ctx, "a", "b", model.MessageRequest, model.StringValue("ping"), queue.SendOptions{})
	require.NoError(t, err)

	m2, err := q.Reply(ctx, m1, "b", model.StringValue("pong"), nil)
	require.NoError(t, err)

	got, err := q.Receive(ctx, "a", queue.ReceiveOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, m2, got[0].MessageID)
	require.Equal(t, "a", got[0].RecipientID)
	require.Equal(t, m1, got[0].ThreadID)
	require.Equal(t, m1, got[0].ParentID)
	require.Equal(t, model.MessageReply, got[0].Type)

	// A second-level reply keeps the original thread.
	m3, err := q.Reply(ctx, m2, "a", model.StringValue("pong pong"), nil)
	require.NoError(t, err)
	got, err = q.Receive(ctx, "b", queue.ReceiveOptions{})
	require.NoError(t, err)
	var found bool
	for _, m := range got {
		if m.MessageID == m3 {
			require.Equal(t, m1, m.ThreadID)
			found = true
		}
	}
	require.True(t, found)

	_, err = q.Reply(ctx, "no-such-id", "b", model.StringValue("x"), nil)
	require.True(t, fault.IsKind(err, fault.KindNoSuchParent))
}

// TestAckLifecycle walks pending -> delivered -> processed and checks
// processed records are immune to the sweeper.
func TestAckLifecycle(t *testing.T) {
	q, _ := newQueue(t, "a", "b")
	ctx := context.Background()

	id, err := q.Send(ctx, "a", "b", model.MessageRequest, model.StringValue("work"), queue.SendOptions{TTL: time.Second})
	require.NoError(t, err)

	// Ack before delivery is rejected.
	err = q.Ack(ctx, id, "b")
	require.True(t, fault.IsKind(err, fault.KindInvalidArgument))

	_, err = q.Receive(ctx, "b", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, id, "b"))
	// Idempotent.
	require.NoError(t, q.Ack(ctx, id, "b"))

	time.Sleep(1100 * time.Millisecond)
	expired, err := q.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, expired)

	got, err := q.Receive(ctx, "b", queue.ReceiveOptions{IncludeProcessed: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.StatusProcessed, got[0].Status)

	got, err = q.Receive(ctx, "b", queue.ReceiveOptions{})
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestBroadcastFanOut stores one copy per registered recipient except the
// sender, sharing a message id, with independent acks.
func TestBroadcastFanOut(t *testing.T) {
	q, _ := newQueue(t, "a", "b", "c")
	ctx := context.Background()

	id, err := q.Broadcast(ctx, "a", model.StringValue("everyone"), 3, time.Minute)
	require.NoError(t, err)

	forB, err := q.Receive(ctx, "b", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, forB, 1)
	require.Equal(t, id, forB[0].MessageID)
	require.Equal(t, model.MessageBroadcast, forB[0].Type)

	forA, err := q.Receive(ctx, "a", queue.ReceiveOptions{})
	require.NoError(t, err)
	require.Empty(t, forA)

	require.NoError(t, q.Ack(ctx, id, "b"))
	forC, err := q.Receive(ctx, "c", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, forC, 1)
	require.Equal(t, model.StatusDelivered, forC[0].Status)
}

// TestBroadcastToNobody returns an id and stores nothing.
func TestBroadcastToNobody(t *testing.T) {
	q, _ := newQueue(t, "a")
	ctx := context.Background()

	id, err := q.Broadcast(ctx, "a", model.StringValue("void"), 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Pending)
}

// TestPersistAndReload round-trips queue state through a restart.
func TestPersistAndReload(t *testing.T) {
	q, dir := newQueue(t, "a", "b")
	ctx := context.Background()

	id, err := q.Send(ctx, "a", "b", model.MessageRequest, model.StringValue("durable"), queue.SendOptions{Priority: 5})
	require.NoError(t, err)

	reopened, err := queue.Open(dir)
	require.NoError(t, err)
	require.True(t, reopened.Registered("b"))

	got, err := reopened.Receive(ctx, "b", queue.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].MessageID)
	require.Equal(t, 5, got[0].Priority)
	s, ok := got[0].Content.AsString()
	require.True(t, ok)
	require.Equal(t, "durable", s)
}

// TestReceiveSinceAndLimit filters by creation time and bounds the batch.
func TestReceiveSinceAndLimit(t *testing.T) {
	q, _ := newQueue(t, "a", "b")
	ctx := context.Background()

	_, err := q.Send(ctx, "a", "b", model.MessageInfo, model.StringValue("first"), queue.SendOptions{})
	require.NoError(t, err)
	cut := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	secondID, err := q.Send(ctx, "a", "b", model.MessageInfo, model.StringValue("second"), queue.SendOptions{})
	require.NoError(t, err)

	got, err := q.Receive(ctx, "b", queue.ReceiveOptions{Since: cut})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, secondID, got[0].MessageID)

	got, err = q.Receive(ctx, "b", queue.ReceiveOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
