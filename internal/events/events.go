// ABOUTME: Integration event schema and publisher contract for desk state changes.
// ABOUTME: Events carry a meta envelope so consumers can dedupe and correlate.

package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Routing keys for the desk topic exchange. Consumers bind with patterns
// like "desk.conversation.*".
const (
	KeyMessageAppended         = "desk.message.appended"
	KeyConversationTransferred = "desk.conversation.transferred"
	KeyConversationResolved    = "desk.conversation.resolved"
)

// Meta identifies and timestamps an event.
type Meta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Producer   string    `json:"producer"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewEnvelope builds an envelope for the given routing key and payload.
func NewEnvelope(key string, payload any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:         uuid.New().String(),
			Type:       key,
			Producer:   "coven-desk",
			OccurredAt: time.Now().UTC(),
		},
		Data: payload,
	}
}

// MessagePayload is the data of a desk.message.appended event.
type MessagePayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderKind     string    `json:"sender_kind"`
	SenderAgentID  string    `json:"sender_agent_id,omitempty"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// TransferPayload is the data of a desk.conversation.transferred event.
type TransferPayload struct {
	ConversationID string    `json:"conversation_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Priority       string    `json:"priority"`
	Note           string    `json:"note,omitempty"`
	At             time.Time `json:"at"`
}

// ResolvedPayload is the data of a desk.conversation.resolved event.
type ResolvedPayload struct {
	ConversationID string    `json:"conversation_id"`
	Handler        string    `json:"handler"`
	At             time.Time `json:"at"`
}

// Publisher delivers envelopes to an external broker. Implementations
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// NopPublisher discards every event. Used when eventing is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
