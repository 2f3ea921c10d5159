// ABOUTME: Registry owns conversation metadata: status, unread count, and the current handler.
// ABOUTME: Resolved conversations are terminal; new inbound traffic opens a fresh conversation.

package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry errors
var (
	// ErrConversationNotFound indicates the conversation ID is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrAlreadyResolved indicates the conversation is resolved.
	// Informational on Resolve, a hard refusal on handler mutation.
	ErrAlreadyResolved = errors.New("conversation already resolved")

	// ErrNotResolved indicates Reopen was called on an open conversation.
	ErrNotResolved = errors.New("conversation is not resolved")
)

// Status is a conversation's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusWaiting  Status = "waiting"
	StatusResolved Status = "resolved"
)

// HandlerKind discriminates who currently owns a conversation.
type HandlerKind string

const (
	HandlerUnassigned HandlerKind = "unassigned"
	HandlerAutomated  HandlerKind = "automated"
	HandlerAgent      HandlerKind = "agent"
)

// Handler is the party responsible for a conversation. AgentID is set only
// for HandlerAgent.
type Handler struct {
	Kind    HandlerKind
	AgentID string
}

// Unassigned returns the handler of a conversation nobody owns yet.
func Unassigned() Handler { return Handler{Kind: HandlerUnassigned} }

// Automated returns the handler for bot-owned conversations.
func Automated() Handler { return Handler{Kind: HandlerAutomated} }

// AgentHandler returns the handler for a specific agent.
func AgentHandler(agentID string) Handler { return Handler{Kind: HandlerAgent, AgentID: agentID} }

// String renders the handler for audit messages and API payloads.
func (h Handler) String() string {
	if h.Kind == HandlerAgent {
		return "agent:" + h.AgentID
	}
	return string(h.Kind)
}

// Customer is an opaque customer reference with a display name.
type Customer struct {
	ID   string
	Name string
}

// Conversation is a support session's metadata. The message timeline lives
// in the message log; LastMessage state is the log's business.
type Conversation struct {
	ID             string
	Customer       Customer
	Status         Status
	Handler        Handler
	UnreadCount    int
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Registry holds all conversations. It is safe for concurrent use;
// operations on one conversation observe a single total order, operations
// on different conversations are independent.
type Registry struct {
	mu             sync.RWMutex
	conversations  map[string]*Conversation
	openByCustomer map[string]string // customer ID -> open conversation ID

	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty Registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conversations:  make(map[string]*Conversation),
		openByCustomer: make(map[string]string),
		now:            time.Now,
		logger:         logger.With("component", "registry"),
	}
}

// TouchOnInbound records inbound customer traffic. With an empty
// conversationID the customer's open conversation is found (or created).
// A supplied conversationID is honored only when the open conversation
// actually belongs to the customer; a mismatched or unknown ID falls back
// to the customer's own open conversation, so one customer's traffic can
// never land in another's case. A known open conversation gets its unread
// count bumped, Waiting flips back to Active, and LastActivityAt is
// updated. A resolved conversation is never resurrected: inbound traffic
// on one opens a fresh conversation for the same customer, preserving the
// audit boundary of the closed case.
func (r *Registry) TouchOnInbound(conversationID string, customer Customer) Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conv *Conversation
	if conversationID != "" {
		if c, ok := r.conversations[conversationID]; ok && c.Status != StatusResolved && c.Customer.ID == customer.ID {
			conv = c
		}
	}
	if conv == nil {
		if openID, ok := r.openByCustomer[customer.ID]; ok {
			conv = r.conversations[openID]
		}
	}

	if conv == nil {
		id := conversationID
		if id == "" || r.exists(id) {
			id = uuid.New().String()
		}
		now := r.now()
		conv = &Conversation{
			ID:             id,
			Customer:       customer,
			Status:         StatusActive,
			Handler:        Unassigned(),
			UnreadCount:    1,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		r.conversations[id] = conv
		r.openByCustomer[customer.ID] = id
		r.logger.Info("conversation opened",
			"conversation_id", id,
			"customer_id", customer.ID)
		return *conv
	}

	conv.UnreadCount++
	if conv.Status == StatusWaiting {
		conv.Status = StatusActive
	}
	conv.LastActivityAt = r.now()
	return *conv
}

// exists must be called with the lock held.
func (r *Registry) exists(id string) bool {
	_, ok := r.conversations[id]
	return ok
}

// Get returns a snapshot of the conversation.
func (r *Registry) Get(conversationID string) (Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

// MarkRead zeroes the unread count.
func (r *Registry) MarkRead(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.UnreadCount = 0
	return nil
}

// Resolve transitions the conversation to its terminal state and zeroes
// the unread count. Resolving twice returns ErrAlreadyResolved so callers
// can tell a state change from a no-op. Returns the handler the
// conversation had at resolution so the caller can release capacity.
func (r *Registry) Resolve(conversationID string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return Handler{}, ErrConversationNotFound
	}
	if conv.Status == StatusResolved {
		return Handler{}, ErrAlreadyResolved
	}

	handler := conv.Handler
	conv.Status = StatusResolved
	conv.UnreadCount = 0
	conv.LastActivityAt = r.now()
	if r.openByCustomer[conv.Customer.ID] == conversationID {
		delete(r.openByCustomer, conv.Customer.ID)
	}

	r.logger.Info("conversation resolved",
		"conversation_id", conversationID,
		"handler", handler.String())
	return handler, nil
}

// Reopen moves a resolved conversation back to Active. The customer's
// open-conversation index is reclaimed only if no newer conversation took
// it in the meantime.
func (r *Registry) Reopen(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if conv.Status != StatusResolved {
		return ErrNotResolved
	}

	conv.Status = StatusActive
	conv.LastActivityAt = r.now()
	if _, taken := r.openByCustomer[conv.Customer.ID]; !taken {
		r.openByCustomer[conv.Customer.ID] = conversationID
	}

	r.logger.Info("conversation reopened", "conversation_id", conversationID)
	return nil
}

// SetWaiting marks the conversation as waiting on the customer. Used when
// an agent replies. No-op on resolved conversations.
func (r *Registry) SetWaiting(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if conv.Status == StatusResolved {
		return ErrAlreadyResolved
	}
	conv.Status = StatusWaiting
	conv.LastActivityAt = r.now()
	return nil
}

// SetHandler reassigns ownership and returns the previous handler. Only
// the routing engine calls this. Resolved conversations accept no handler
// transitions.
func (r *Registry) SetHandler(conversationID string, handler Handler) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return Handler{}, ErrConversationNotFound
	}
	if conv.Status == StatusResolved {
		return Handler{}, ErrAlreadyResolved
	}

	prev := conv.Handler
	conv.Handler = handler
	conv.LastActivityAt = r.now()
	return prev, nil
}

// ListFilter narrows List results. Nil fields match everything; AgentID
// further narrows HandlerAgent matches when set.
type ListFilter struct {
	Status      *Status
	HandlerKind *HandlerKind
	AgentID     string
}

// List returns conversation snapshots matching the filter, most recent
// activity first. Read-only and safe to poll.
func (r *Registry) List(filter ListFilter) []Conversation {
	r.mu.RLock()
	out := make([]Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		if filter.Status != nil && conv.Status != *filter.Status {
			continue
		}
		if filter.HandlerKind != nil && conv.Handler.Kind != *filter.HandlerKind {
			continue
		}
		if filter.AgentID != "" && conv.Handler.AgentID != filter.AgentID {
			continue
		}
		out = append(out, *conv)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
