// ABOUTME: Engine executes conversation hand-offs: validates the target agent, moves
// ABOUTME: ownership, keeps capacity slots balanced, and writes the audit trail.

package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/registry"
)

// Engine errors
var (
	// ErrConversationNotFound indicates the conversation ID is unknown.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationNotTransferable indicates the conversation is resolved.
	ErrConversationNotTransferable = errors.New("conversation not transferable")

	// ErrNoAgentsFree indicates no agent is currently available.
	ErrNoAgentsFree = errors.New("no agents available")

	// ErrCapacityRollback indicates a reserved slot could not be released
	// while unwinding a failed transfer. Capacity accounting may be off by
	// one; this is an invariant breach and must surface to an operator,
	// never be retried automatically.
	ErrCapacityRollback = errors.New("capacity rollback failed")
)

// Priority annotates a transfer for the receiving agent.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TransferRecord is the immutable audit entry for a successful transfer.
type TransferRecord struct {
	ConversationID string
	From           registry.Handler
	To             string // target agent ID
	Priority       Priority
	Note           string
	AuditMessageID string
	At             time.Time
}

// AgentDirectory is what the engine needs from the agent directory.
type AgentDirectory interface {
	Get(agentID string) (directory.Agent, error)
	List(filter *directory.Availability) []directory.Agent
	ReserveSlot(agentID string) error
	ReleaseSlot(agentID string) error
}

// ConversationRegistry is what the engine needs from the registry.
type ConversationRegistry interface {
	Get(conversationID string) (registry.Conversation, error)
	SetHandler(conversationID string, handler registry.Handler) (registry.Handler, error)
}

// AuditLog is what the engine needs from the message log.
type AuditLog interface {
	AppendSystemEvent(conversationID, text string) string
}

// Engine is the sole entry point for moving a conversation's handler to a
// specific agent. It owns no data of its own; it coordinates the
// directory, registry, and message log so their state never diverges.
type Engine struct {
	agents AgentDirectory
	convs  ConversationRegistry
	audit  AuditLog
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Engine. Pass nil logger for default.
func New(agents AgentDirectory, convs ConversationRegistry, audit AuditLog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		agents: agents,
		convs:  convs,
		audit:  audit,
		now:    time.Now,
		logger: logger.With("component", "routing"),
	}
}

// Transfer reassigns the conversation to the target agent.
//
// Preconditions, first failure wins: the conversation exists and is not
// resolved; the target agent exists; the target is not offline (and has a
// free slot where a capacity limit is configured).
//
// The effect is all-or-nothing with respect to ownership and capacity: a
// slot is reserved on the target before ownership moves, the previous
// owner's slot is released after, and any failure in between releases the
// reservation before the error is returned. One asymmetry is deliberate
// and callers must account for it: once ownership has changed, a failure
// to write the audit entry does not undo the transfer — ownership
// correctness takes precedence over audit completeness, and the gap is
// reported as a warning.
//
// Re-transferring to the agent that already owns the conversation is a
// legal no-op-with-audit-entry: capacity is untouched and a second system
// message is appended. Transfer is therefore not idempotent in the audit
// trail, and callers that time out must re-query state rather than retry
// blindly.
func (e *Engine) Transfer(conversationID, targetAgentID string, priority Priority, note string) (TransferRecord, error) {
	if !priority.Valid() {
		priority = PriorityNormal
	}

	conv, err := e.convs.Get(conversationID)
	if err != nil {
		return TransferRecord{}, ErrConversationNotFound
	}
	if conv.Status == registry.StatusResolved {
		return TransferRecord{}, ErrConversationNotTransferable
	}

	// Re-transfer to the current owner keeps its slot; everything else
	// reserves on the target before ownership moves. The owner shortcut
	// still enforces the exists and not-offline preconditions: an agent
	// that went offline cannot receive its own conversation back.
	sameOwner := conv.Handler.Kind == registry.HandlerAgent && conv.Handler.AgentID == targetAgentID
	if sameOwner {
		agent, err := e.agents.Get(targetAgentID)
		if err != nil {
			return TransferRecord{}, err
		}
		if agent.Availability == directory.Offline {
			return TransferRecord{}, directory.ErrAgentOffline
		}
	} else {
		if err := e.agents.ReserveSlot(targetAgentID); err != nil {
			return TransferRecord{}, err
		}
	}

	prev, err := e.convs.SetHandler(conversationID, registry.AgentHandler(targetAgentID))
	if err != nil {
		if !sameOwner {
			if rbErr := e.agents.ReleaseSlot(targetAgentID); rbErr != nil {
				e.logger.Error("slot rollback failed",
					"conversation_id", conversationID,
					"agent_id", targetAgentID,
					"error", rbErr)
				return TransferRecord{}, fmt.Errorf("%w: %v", ErrCapacityRollback, rbErr)
			}
		}
		if errors.Is(err, registry.ErrAlreadyResolved) {
			return TransferRecord{}, ErrConversationNotTransferable
		}
		return TransferRecord{}, ErrConversationNotFound
	}

	// Reconcile capacity against the handler the registry actually
	// recorded, not the one read before the reservation. Racing transfers
	// on the same conversation each release exactly the owner they
	// displaced, so the slot total stays equal to the number of
	// agent-owned conversations.
	switch {
	case sameOwner && prev != registry.AgentHandler(targetAgentID):
		// Ownership moved away between the read and the swap; the slot we
		// skipped must be reserved after all. A reservation failure here
		// means the target went offline mid-transfer: undo the swap.
		if err := e.agents.ReserveSlot(targetAgentID); err != nil {
			if _, revertErr := e.convs.SetHandler(conversationID, prev); revertErr != nil {
				e.logger.Error("handler revert failed",
					"conversation_id", conversationID,
					"error", revertErr)
				return TransferRecord{}, fmt.Errorf("%w: %v", ErrCapacityRollback, revertErr)
			}
			return TransferRecord{}, err
		}
		fallthrough
	case !sameOwner:
		if prev.Kind == registry.HandlerAgent && prev.AgentID != targetAgentID {
			if err := e.agents.ReleaseSlot(prev.AgentID); err != nil {
				e.logger.Error("previous owner release failed",
					"conversation_id", conversationID,
					"agent_id", prev.AgentID,
					"error", err)
				return TransferRecord{}, fmt.Errorf("%w: %v", ErrCapacityRollback, err)
			}
		} else if prev.Kind == registry.HandlerAgent && prev.AgentID == targetAgentID {
			// Another transfer to the same target won the race; cancel the
			// duplicate reservation.
			if err := e.agents.ReleaseSlot(targetAgentID); err != nil {
				return TransferRecord{}, fmt.Errorf("%w: %v", ErrCapacityRollback, err)
			}
		}
	}

	at := e.now()
	auditID := e.audit.AppendSystemEvent(conversationID, transferSummary(prev, targetAgentID, priority, note))

	record := TransferRecord{
		ConversationID: conversationID,
		From:           prev,
		To:             targetAgentID,
		Priority:       priority,
		Note:           note,
		AuditMessageID: auditID,
		At:             at,
	}

	e.logger.Info("conversation transferred",
		"conversation_id", conversationID,
		"from", prev.String(),
		"to", targetAgentID,
		"priority", priority)
	return record, nil
}

// AutoSuggest returns the least-loaded available agent for the
// conversation, in the directory's deterministic ordering. Pure read, no
// mutation; ErrNoAgentsFree when nobody is available.
func (e *Engine) AutoSuggest(conversationID string) (directory.Agent, error) {
	if _, err := e.convs.Get(conversationID); err != nil {
		return directory.Agent{}, ErrConversationNotFound
	}

	avail := directory.Available
	candidates := e.agents.List(&avail)
	if len(candidates) == 0 {
		return directory.Agent{}, ErrNoAgentsFree
	}
	return candidates[0], nil
}

func transferSummary(from registry.Handler, to string, priority Priority, note string) string {
	summary := fmt.Sprintf("conversation transferred from %s to agent:%s (priority %s)", from.String(), to, priority)
	if note != "" {
		summary += ": " + note
	}
	return summary
}
