// Package queue implements the durable inter-client message queue: one
// priority-ordered queue per recipient with TTL expiry, delivery
// tracking, reply threading, and broadcast fan-out. Each recipient's
// queue persists to its own snapshot so acks never touch another
// recipient's state.
package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ckoons/engram/internal/atomicfile"
	"github.com/ckoons/engram/internal/fault"
	"github.com/ckoons/engram/internal/model"
)

// Defaults applied when send options leave a field unset.
const (
	DefaultPriority = 2
	DefaultTTL      = time.Hour
)

// SendOptions tunes a send. Zero values take the defaults above.
type SendOptions struct {
	Priority int
	TTL      time.Duration
	ThreadID string
	ParentID string
	Metadata model.Metadata
}

// ReceiveOptions filters a receive. A zero Limit returns everything.
type ReceiveOptions struct {
	IncludeProcessed bool
	MarkDelivered    bool
	Since            time.Time
	Limit            int
}

// recipientQueue holds one recipient's deliveries under its own lock.
type recipientQueue struct {
	mu       sync.Mutex
	path     string
	messages []*model.Message
}

// Queue is the process-wide message broker.
type Queue struct {
	dir string

	mu         sync.RWMutex // guards the recipients map
	recipients map[string]*recipientQueue
}

// Open loads every persisted recipient queue from <dataDir>/messages/.
// Recipients with a snapshot on disk count as registered.
func Open(dataDir string) (*Queue, error) {
	q := &Queue{
		dir:        filepath.Join(dataDir, "messages"),
		recipients: map[string]*recipientQueue{},
	}

	entries, err := os.ReadDir(q.dir)
	if errors.Is(err, os.ErrNotExist) {
		return q, nil
	}
	if err != nil {
		return nil, fault.Storage(err, "read queue dir %s", q.dir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		recipient := strings.TrimSuffix(e.Name(), ".json")
		rq := &recipientQueue{path: filepath.Join(q.dir, e.Name())}
		var snap struct {
			Messages []*model.Message `json:"messages"`
		}
		if err := atomicfile.ReadJSON(rq.path, &snap); err != nil {
			return nil, fault.Storage(err, "load queue %s", rq.path)
		}
		rq.messages = snap.Messages
		q.recipients[recipient] = rq
	}
	return q, nil
}

// Register makes a client a known recipient. Idempotent.
func (q *Queue) Register(clientID string) {
	q.queueFor(clientID, true)
}

// Registered reports whether clientID can receive messages.
func (q *Queue) Registered(clientID string) bool {
	return q.queueFor(clientID, false) != nil
}

// Recipients returns the registered client ids, sorted.
func (q *Queue) Recipients() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.recipients))
	for id := range q.recipients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (q *Queue) queueFor(recipient string, create bool) *recipientQueue {
	q.mu.RLock()
	rq := q.recipients[recipient]
	q.mu.RUnlock()
	if rq != nil || !create {
		return rq
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if rq = q.recipients[recipient]; rq == nil {
		rq = &recipientQueue{path: filepath.Join(q.dir, recipient+".json")}
		q.recipients[recipient] = rq
	}
	return rq
}

// Send queues a message for one recipient. The wildcard recipient
// delegates to Broadcast.
func (q *Queue) Send(ctx context.Context, sender, recipient string, msgType model.MessageType, content model.Value, opts SendOptions) (string, error) {
	if recipient == model.BroadcastRecipient {
		return q.Broadcast(ctx, sender, content, opts.Priority, opts.TTL)
	}
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	opts, err := normalize(opts)
	if err != nil {
		return "", err
	}
	if _, ok := model.ParseMessageType(string(msgType)); !ok {
		return "", fault.Invalid("unknown message type: %s", msgType)
	}

	rq := q.queueFor(recipient, false)
	if rq == nil {
		return "", fault.UnknownRecipient(recipient)
	}
	if opts.ParentID != "" {
		if _, err := q.findVisible(opts.ParentID); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	msg := &model.Message{
		MessageID:   uuid.NewString(),
		SenderID:    sender,
		RecipientID: recipient,
		ThreadID:    opts.ThreadID,
		ParentID:    opts.ParentID,
		Type:        msgType,
		Priority:    opts.Priority,
		Content:     content,
		Metadata:    opts.Metadata.Clone(),
		Status:      model.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(opts.TTL),
	}

	rq.mu.Lock()
	rq.messages = append(rq.messages, msg)
	err = rq.persistLocked()
	rq.mu.Unlock()
	if err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// Broadcast queues one pending copy per registered recipient other than
// the sender, all sharing a message id. Zero recipients is legal: the id
// is returned and nothing is stored.
func (q *Queue) Broadcast(ctx context.Context, sender string, content model.Value, priority int, ttl time.Duration) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	opts, err := normalize(SendOptions{Priority: priority, TTL: ttl})
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	messageID := uuid.NewString()
	for _, recipient := range q.Recipients() {
		if recipient == sender {
			continue
		}
		rq := q.queueFor(recipient, false)
		msg := &model.Message{
			MessageID:   messageID,
			SenderID:    sender,
			RecipientID: recipient,
			Type:        model.MessageBroadcast,
			Priority:    opts.Priority,
			Content:     content,
			Status:      model.StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(opts.TTL),
		}
		rq.mu.Lock()
		rq.messages = append(rq.messages, msg)
		err := rq.persistLocked()
		rq.mu.Unlock()
		if err != nil {
			return "", err
		}
	}
	return messageID, nil
}

// Reply sends a reply to the parent message's sender, inheriting its
// thread (or starting one at the parent's id).
func (q *Queue) Reply(ctx context.Context, parentID, sender string, content model.Value, metadata model.Metadata) (string, error) {
	if err := fault.FromContext(ctx); err != nil {
		return "", err
	}
	parent, err := q.findVisible(parentID)
	if err != nil {
		return "", err
	}

	threadID := parent.ThreadID
	if threadID == "" {
		threadID = parent.MessageID
	}
	return q.Send(ctx, sender, parent.SenderID, model.MessageReply, content, SendOptions{
		Priority: parent.Priority,
		ThreadID: threadID,
		ParentID: parentID,
		Metadata: metadata,
	})
}

// findVisible resolves a message id to a non-expired delivery record.
func (q *Queue) findVisible(messageID string) (*model.Message, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, rq := range q.recipients {
		rq.mu.Lock()
		for _, m := range rq.messages {
			if m.MessageID == messageID && m.Status != model.StatusExpired {
				cp := *m
				rq.mu.Unlock()
				return &cp, nil
			}
		}
		rq.mu.Unlock()
	}
	return nil, fault.NoSuchParent(messageID)
}

// Receive returns the recipient's visible messages ordered by descending
// priority, then creation time, then id. Pending records transition to
// delivered when MarkDelivered is set. An unknown recipient registers
// itself with an empty queue.
func (q *Queue) Receive(ctx context.Context, recipient string, opts ReceiveOptions) ([]model.Message, error) {
	if err := fault.FromContext(ctx); err != nil {
		return nil, err
	}
	rq := q.queueFor(recipient, true)
	now := time.Now().UTC()

	rq.mu.Lock()
	defer rq.mu.Unlock()

	var out []model.Message
	marked := false
	for _, m := range rq.messages {
		if m.ExpiredAt(now) {
			continue
		}
		switch m.Status {
		case model.StatusExpired:
			continue
		case model.StatusProcessed:
			if !opts.IncludeProcessed {
				continue
			}
		}
		if !opts.Since.IsZero() && m.CreatedAt.Before(opts.Since) {
			continue
		}
		if opts.MarkDelivered && m.Status == model.StatusPending {
			m.Status = model.StatusDelivered
			at := now
			m.DeliveredAt = &at
			marked = true
		}
		out = append(out, *m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}

	if marked {
		if err := rq.persistLocked(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Ack marks a delivered message processed. Processed records are immune
// to expiry.
func (q *Queue) Ack(ctx context.Context, messageID, recipient string) error {
	if err := fault.FromContext(ctx); err != nil {
		return err
	}
	rq := q.queueFor(recipient, false)
	if rq == nil {
		return fault.UnknownRecipient(recipient)
	}

	rq.mu.Lock()
	defer rq.mu.Unlock()
	for _, m := range rq.messages {
		if m.MessageID != messageID {
			continue
		}
		switch m.Status {
		case model.StatusDelivered:
			now := time.Now().UTC()
			m.Status = model.StatusProcessed
			m.ProcessedAt = &now
			return rq.persistLocked()
		case model.StatusProcessed:
			return nil
		default:
			return fault.Invalid("message %s is %s, not delivered", messageID, m.Status)
		}
	}
	return fault.NotFound("message %s not found for %s", messageID, recipient)
}

// Cleanup sweeps every queue, expiring pending and delivered records past
// their TTL. Returns how many were expired.
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired := 0
	for _, recipient := range q.Recipients() {
		if err := fault.FromContext(ctx); err != nil {
			return expired, err
		}
		rq := q.queueFor(recipient, false)
		rq.mu.Lock()
		changed := false
		for _, m := range rq.messages {
			if m.ExpiredAt(now) {
				m.Status = model.StatusExpired
				expired++
				changed = true
			}
		}
		var err error
		if changed {
			err = rq.persistLocked()
		}
		rq.mu.Unlock()
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// Stats aggregates every queue by status and priority.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	stats := model.QueueStats{PriorityDistribution: map[int]int{}}
	if err := fault.FromContext(ctx); err != nil {
		return stats, err
	}
	now := time.Now().UTC()
	for _, recipient := range q.Recipients() {
		rq := q.queueFor(recipient, false)
		rq.mu.Lock()
		for _, m := range rq.messages {
			stats.Total++
			stats.PriorityDistribution[m.Priority]++
			status := m.Status
			if m.ExpiredAt(now) {
				// Not yet swept, but already invisible to receivers.
				status = model.StatusExpired
			}
			switch status {
			case model.StatusPending:
				stats.Pending++
			case model.StatusDelivered:
				stats.Delivered++
			case model.StatusProcessed:
				stats.Processed++
			case model.StatusExpired:
				stats.Expired++
			}
		}
		rq.mu.Unlock()
	}
	return stats, nil
}

// Flush persists every queue. Used on graceful shutdown.
func (q *Queue) Flush() error {
	for _, recipient := range q.Recipients() {
		rq := q.queueFor(recipient, false)
		rq.mu.Lock()
		err := rq.persistLocked()
		rq.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (rq *recipientQueue) persistLocked() error {
	snap := struct {
		Messages []*model.Message `json:"messages"`
	}{Messages: rq.messages}
	if snap.Messages == nil {
		snap.Messages = []*model.Message{}
	}
	if err := atomicfile.WriteJSON(rq.path, &snap, 0o600); err != nil {
		return fault.Storage(err, "persist queue %s", rq.path)
	}
	return nil
}

func normalize(opts SendOptions) (SendOptions, error) {
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return opts, fault.Invalid("priority %d out of range [1..5]", opts.Priority)
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TTL < 0 {
		return opts, fault.Invalid("ttl must be positive")
	}
	return opts, nil
}
