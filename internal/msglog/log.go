// ABOUTME: Append-only message log keyed by conversation, with per-conversation monotonic timestamps.
// ABOUTME: Every append is mirrored to delivery callbacks for transport fan-out.

package msglog

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrConversationUnknown indicates no messages exist for the conversation.
var ErrConversationUnknown = errors.New("conversation has no messages")

// SenderKind discriminates who authored a message.
type SenderKind string

const (
	SenderCustomer SenderKind = "customer"
	SenderAgent    SenderKind = "agent"
	SenderSystem   SenderKind = "system"
)

// Sender identifies the author of a message. AgentID is set only for
// SenderAgent.
type Sender struct {
	Kind    SenderKind
	AgentID string
}

// CustomerSender returns the customer sender.
func CustomerSender() Sender { return Sender{Kind: SenderCustomer} }

// AgentSender returns a sender for the given agent.
func AgentSender(agentID string) Sender { return Sender{Kind: SenderAgent, AgentID: agentID} }

// SystemSender returns the system sender used for audit entries.
func SystemSender() Sender { return Sender{Kind: SenderSystem} }

// Message is a single immutable entry in a conversation's timeline.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Body           string
	SentAt         time.Time
}

// DeliveryFunc receives every appended message. Callbacks run on the
// appender's goroutine under the conversation's append lock: they must be
// fast, must not block, and must not call back into the log.
type DeliveryFunc func(Message)

// conversationLog serializes appends for one conversation and carries its
// monotonic clock.
type conversationLog struct {
	mu       sync.Mutex
	messages []Message
	lastSent time.Time
}

// Log is the append-only message store. Appends to different conversations
// proceed in parallel; appends to the same conversation are serialized and
// receive strictly increasing timestamps.
type Log struct {
	mu            sync.RWMutex
	conversations map[string]*conversationLog

	deliveryMu sync.RWMutex
	delivery   []DeliveryFunc

	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty Log. Pass nil logger for default.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		conversations: make(map[string]*conversationLog),
		now:           time.Now,
		logger:        logger.With("component", "msglog"),
	}
}

// OnAppended registers a delivery callback. See DeliveryFunc for the
// contract. Registration order is the invocation order.
func (l *Log) OnAppended(fn DeliveryFunc) {
	l.deliveryMu.Lock()
	l.delivery = append(l.delivery, fn)
	l.deliveryMu.Unlock()
}

// Append records a message and returns its ID. The timestamp is assigned
// by the log under the conversation's lock: never earlier than one
// nanosecond after the previous entry, even if the wall clock stalls or
// steps backwards. Racing appends are serialized in arrival order.
func (l *Log) Append(conversationID string, sender Sender, body string) string {
	return l.append(conversationID, sender, body)
}

// AppendSystemEvent records an audit entry authored by the engine itself.
// Identical to Append with the system sender.
func (l *Log) AppendSystemEvent(conversationID, text string) string {
	return l.append(conversationID, SystemSender(), text)
}

func (l *Log) append(conversationID string, sender Sender, body string) string {
	cl := l.conversation(conversationID)

	cl.mu.Lock()
	ts := l.now()
	if !ts.After(cl.lastSent) {
		ts = cl.lastSent.Add(time.Nanosecond)
	}
	cl.lastSent = ts

	msg := Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         sender,
		Body:           body,
		SentAt:         ts,
	}
	cl.messages = append(cl.messages, msg)
	l.notify(msg)
	cl.mu.Unlock()

	l.logger.Debug("message appended",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"sender", sender.Kind)
	return msg.ID
}

// Tail returns up to limit messages for the conversation, oldest first,
// most recent last. limit <= 0 returns the full timeline. Returned slices
// are copies; ErrConversationUnknown if nothing was ever appended.
func (l *Log) Tail(conversationID string, limit int) ([]Message, error) {
	l.mu.RLock()
	cl, ok := l.conversations[conversationID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrConversationUnknown
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	start := 0
	if limit > 0 && len(cl.messages) > limit {
		start = len(cl.messages) - limit
	}
	out := make([]Message, len(cl.messages)-start)
	copy(out, cl.messages[start:])
	return out, nil
}

// Len returns the number of messages appended to the conversation.
func (l *Log) Len(conversationID string) int {
	l.mu.RLock()
	cl, ok := l.conversations[conversationID]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.messages)
}

func (l *Log) conversation(conversationID string) *conversationLog {
	l.mu.RLock()
	cl, ok := l.conversations[conversationID]
	l.mu.RUnlock()
	if ok {
		return cl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cl, ok = l.conversations[conversationID]; ok {
		return cl
	}
	cl = &conversationLog{}
	l.conversations[conversationID] = cl
	return cl
}

func (l *Log) notify(msg Message) {
	l.deliveryMu.RLock()
	callbacks := l.delivery
	l.deliveryMu.RUnlock()

	for _, fn := range callbacks {
		fn(msg)
	}
}
