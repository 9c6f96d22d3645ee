package model

import "time"

// BroadcastRecipient is the wildcard recipient for fan-out sends.
const BroadcastRecipient = "*"

// MessageType classifies an inter-client message.
type MessageType string

const (
	MessageRequest   MessageType = "request"
	MessageReply     MessageType = "reply"
	MessageInfo      MessageType = "info"
	MessageBroadcast MessageType = "broadcast"
)

// ParseMessageType validates a message type name.
func ParseMessageType(s string) (MessageType, bool) {
	t := MessageType(s)
	switch t {
	case MessageRequest, MessageReply, MessageInfo, MessageBroadcast:
		return t, true
	}
	return "", false
}

// MessageStatus tracks a delivery through its lifecycle:
// pending -> delivered -> processed, with pending|delivered -> expired.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusDelivered MessageStatus = "delivered"
	StatusProcessed MessageStatus = "processed"
	StatusExpired   MessageStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s MessageStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusExpired
}

// Message is one delivery record in a recipient's queue. A broadcast is
// stored once per recipient under a shared MessageID so each recipient
// acks independently.
type Message struct {
	// MessageID identifies the logical message. Shared across the fan-out
	// copies of a broadcast.
	MessageID string `json:"message_id"`

	// SenderID and RecipientID are client ids; RecipientID is "*" only on
	// the wire for broadcast sends, never in a stored delivery record.
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`

	// ThreadID groups a conversation; a reply inherits the parent's thread
	// or starts one at the parent's MessageID.
	ThreadID string `json:"thread_id,omitempty"`

	// ParentID is set on replies and must resolve to a visible message.
	ParentID string `json:"parent_id,omitempty"`

	Type MessageType `json:"message_type"`

	// Priority orders delivery, 5 highest.
	Priority int `json:"priority"`

	// Content is arbitrary JSON supplied by the sender.
	Content Value `json:"content"`

	Metadata Metadata `json:"metadata,omitempty"`

	Status MessageStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is always after CreatedAt. Pending and delivered records
	// expire when now >= ExpiresAt; processed records are immune.
	ExpiresAt time.Time `json:"expires_at"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ExpiredAt reports whether the delivery should sweep to expired at now.
func (m *Message) ExpiredAt(now time.Time) bool {
	if m.Status.Terminal() {
		return false
	}
	return !now.Before(m.ExpiresAt)
}

// QueueStats summarizes a queue (or all queues) by status and priority.
type QueueStats struct {
	Total                int         `json:"total_count"`
	Pending              int         `json:"pending_count"`
	Delivered            int         `json:"delivered_count"`
	Processed            int         `json:"processed_count"`
	Expired              int         `json:"expired_count"`
	PriorityDistribution map[int]int `json:"priority_distribution"`
}
