// ABOUTME: Service is the boundary the presentation and transport layers consume.
// ABOUTME: All inbound traffic, queries, and hand-off requests flow through here.

package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/events"
	"github.com/2389/coven-desk/internal/msglog"
	"github.com/2389/coven-desk/internal/registry"
	"github.com/2389/coven-desk/internal/routing"
)

// ErrEmptyMessage indicates an inbound message with no body.
var ErrEmptyMessage = errors.New("empty message body")

// Archive mirrors desk state into durable storage. Archiving is
// best-effort: failures are logged, never surfaced to the caller, and the
// in-memory state remains authoritative.
type Archive interface {
	SaveConversation(ctx context.Context, conv registry.Conversation) error
	SaveMessage(ctx context.Context, msg msglog.Message) error
	SaveAgent(ctx context.Context, agent directory.Agent) error
	SaveTransfer(ctx context.Context, rec routing.TransferRecord) error
}

// mirrorBufferSize bounds the queue between the message log's delivery
// callback and the slow archive/publish work. Appends never block on it;
// overflow drops the mirror copy, not the message.
const mirrorBufferSize = 256

// Service wires the directory, registry, message log, and routing engine
// into the operations consumed by the session gateway and presentation
// layer. Archive and publisher are optional; pass nil to disable.
type Service struct {
	agents    *directory.Directory
	convs     *registry.Registry
	log       *msglog.Log
	engine    *routing.Engine
	archive   Archive
	publisher events.Publisher
	logger    *slog.Logger

	mirror    chan msglog.Message
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a desk Service. Pass nil logger for default. If an archive
// or publisher is supplied, every appended message is mirrored to them on
// a background goroutine; call Close to drain it.
func New(agents *directory.Directory, convs *registry.Registry, log *msglog.Log, engine *routing.Engine, archive Archive, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		agents:    agents,
		convs:     convs,
		log:       log,
		engine:    engine,
		archive:   archive,
		publisher: publisher,
		logger:    logger.With("component", "desk"),
	}
	if archive != nil || publisher != nil {
		s.mirror = make(chan msglog.Message, mirrorBufferSize)
		s.done = make(chan struct{})
		log.OnAppended(s.enqueueMirror)
		go s.runMirror()
	}
	return s
}

// Close drains the message mirror queue. Safe to call repeatedly and
// when no mirror was started.
func (s *Service) Close() {
	if s.mirror == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.mirror)
		<-s.done
	})
}

// enqueueMirror runs under the conversation's append lock and must not
// block: a full queue drops the mirror copy.
func (s *Service) enqueueMirror(msg msglog.Message) {
	select {
	case s.mirror <- msg:
	default:
		s.logger.Warn("mirror queue full, dropping message copy",
			"conversation_id", msg.ConversationID,
			"message_id", msg.ID)
	}
}

func (s *Service) runMirror() {
	defer close(s.done)
	for msg := range s.mirror {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if s.archive != nil {
			if err := s.archive.SaveMessage(ctx, msg); err != nil {
				s.logger.Warn("message archive failed",
					"message_id", msg.ID,
					"error", err)
			}
		}
		s.publish(ctx, events.KeyMessageAppended, events.MessagePayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderKind:     string(msg.Sender.Kind),
			SenderAgentID:  msg.Sender.AgentID,
			Body:           msg.Body,
			SentAt:         msg.SentAt,
		})
		cancel()
	}
}

// OnCustomerMessage records inbound customer traffic: the registry is
// touched (creating the conversation if needed), the message is appended,
// and the resulting conversation snapshot is returned for the caller to
// render. conversationID may be empty; the customer's open conversation is
// found or a new one opened.
func (s *Service) OnCustomerMessage(ctx context.Context, conversationID, customerID, customerName, body string) (registry.Conversation, error) {
	if customerID == "" {
		return registry.Conversation{}, fmt.Errorf("customer id is required")
	}
	if body == "" {
		return registry.Conversation{}, ErrEmptyMessage
	}

	conv := s.convs.TouchOnInbound(conversationID, registry.Customer{ID: customerID, Name: customerName})
	s.log.Append(conv.ID, msglog.CustomerSender(), body)

	s.archiveConversation(ctx, conv)
	return conv, nil
}

// OnAgentReply records an outbound agent message and marks the
// conversation as waiting on the customer. The agent must exist; the
// conversation must exist and be open.
func (s *Service) OnAgentReply(ctx context.Context, conversationID, agentID, body string) (string, error) {
	if body == "" {
		return "", ErrEmptyMessage
	}
	if _, err := s.agents.Get(agentID); err != nil {
		return "", err
	}
	if err := s.convs.SetWaiting(conversationID); err != nil {
		return "", err
	}

	msgID := s.log.Append(conversationID, msglog.AgentSender(agentID), body)
	if conv, err := s.convs.Get(conversationID); err == nil {
		s.archiveConversation(ctx, conv)
	}
	return msgID, nil
}

// Transfer hands the conversation to the target agent. See
// routing.Engine.Transfer for the precondition order and the
// ownership-over-audit trade-off.
func (s *Service) Transfer(ctx context.Context, conversationID, targetAgentID string, priority routing.Priority, note string) (routing.TransferRecord, error) {
	record, err := s.engine.Transfer(conversationID, targetAgentID, priority, note)
	if err != nil {
		return routing.TransferRecord{}, err
	}

	if s.archive != nil {
		if archErr := s.archive.SaveTransfer(ctx, record); archErr != nil {
			s.logger.Warn("transfer archive failed",
				"conversation_id", conversationID,
				"error", archErr)
		}
	}
	s.publish(ctx, events.KeyConversationTransferred, events.TransferPayload{
		ConversationID: record.ConversationID,
		From:           record.From.String(),
		To:             record.To,
		Priority:       string(record.Priority),
		Note:           record.Note,
		At:             record.At,
	})
	if conv, err := s.convs.Get(conversationID); err == nil {
		s.archiveConversation(ctx, conv)
	}
	return record, nil
}

// AutoSuggest returns the least-loaded available agent for the
// conversation. Pure read.
func (s *Service) AutoSuggest(conversationID string) (directory.Agent, error) {
	return s.engine.AutoSuggest(conversationID)
}

// Resolve closes the conversation and releases the owning agent's
// capacity slot, keeping slot counts equal to open agent-owned
// conversations. ErrAlreadyResolved distinguishes a no-op from a state
// change.
func (s *Service) Resolve(ctx context.Context, conversationID string) error {
	handler, err := s.convs.Resolve(conversationID)
	if err != nil {
		return err
	}

	if handler.Kind == registry.HandlerAgent {
		if relErr := s.agents.ReleaseSlot(handler.AgentID); relErr != nil {
			s.logger.Error("slot release on resolve failed",
				"conversation_id", conversationID,
				"agent_id", handler.AgentID,
				"error", relErr)
		}
	}

	s.publish(ctx, events.KeyConversationResolved, events.ResolvedPayload{
		ConversationID: conversationID,
		Handler:        handler.String(),
		At:             time.Now().UTC(),
	})
	if conv, err := s.convs.Get(conversationID); err == nil {
		s.archiveConversation(ctx, conv)
	}
	return nil
}

// Reopen moves a resolved conversation back to Active. If the recorded
// handler is an agent, its slot is re-reserved; an agent that has gone
// offline or filled up in the meantime loses the conversation back to the
// unassigned pool.
func (s *Service) Reopen(ctx context.Context, conversationID string) error {
	if err := s.convs.Reopen(conversationID); err != nil {
		return err
	}

	conv, err := s.convs.Get(conversationID)
	if err != nil {
		return err
	}
	if conv.Handler.Kind == registry.HandlerAgent {
		if resErr := s.agents.ReserveSlot(conv.Handler.AgentID); resErr != nil {
			s.logger.Warn("reopened conversation returned to pool",
				"conversation_id", conversationID,
				"agent_id", conv.Handler.AgentID,
				"error", resErr)
			if _, shErr := s.convs.SetHandler(conversationID, registry.Unassigned()); shErr != nil {
				return shErr
			}
		}
	}

	if conv, err := s.convs.Get(conversationID); err == nil {
		s.archiveConversation(ctx, conv)
	}
	return nil
}

// MarkRead zeroes the conversation's unread count.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	if err := s.convs.MarkRead(conversationID); err != nil {
		return err
	}
	if conv, err := s.convs.Get(conversationID); err == nil {
		s.archiveConversation(ctx, conv)
	}
	return nil
}

// GetConversation returns a conversation snapshot.
func (s *Service) GetConversation(conversationID string) (registry.Conversation, error) {
	return s.convs.Get(conversationID)
}

// ListConversations returns conversations matching the filter, most
// recent activity first. Read-only and safe to poll.
func (s *Service) ListConversations(filter registry.ListFilter) []registry.Conversation {
	return s.convs.List(filter)
}

// Messages returns up to limit messages of the conversation, oldest
// first.
func (s *Service) Messages(conversationID string, limit int) ([]msglog.Message, error) {
	return s.log.Tail(conversationID, limit)
}

// Authenticate checks an agent's credentials against the directory.
func (s *Service) Authenticate(agentID, password string) error {
	return s.agents.Authenticate(agentID, password)
}

// GetAgent returns an agent snapshot.
func (s *Service) GetAgent(agentID string) (directory.Agent, error) {
	return s.agents.Get(agentID)
}

// AgentLoad returns the active conversation count per agent. Read-only
// and safe to poll.
func (s *Service) AgentLoad() map[string]int {
	return s.agents.Load()
}

// ListAgents returns agent snapshots in the default routing order.
func (s *Service) ListAgents(filter *directory.Availability) []directory.Agent {
	return s.agents.List(filter)
}

// SetAgentAvailability updates an agent's availability and mirrors the
// record to the archive.
func (s *Service) SetAgentAvailability(ctx context.Context, agentID string, availability directory.Availability) error {
	if err := s.agents.SetAvailability(agentID, availability); err != nil {
		return err
	}
	if s.archive != nil {
		if agent, err := s.agents.Get(agentID); err == nil {
			if archErr := s.archive.SaveAgent(ctx, agent); archErr != nil {
				s.logger.Warn("agent archive failed", "agent_id", agentID, "error", archErr)
			}
		}
	}
	return nil
}

func (s *Service) archiveConversation(ctx context.Context, conv registry.Conversation) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveConversation(ctx, conv); err != nil {
		s.logger.Warn("conversation archive failed",
			"conversation_id", conv.ID,
			"error", err)
	}
}

func (s *Service) publish(ctx context.Context, key string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, key, events.NewEnvelope(key, payload)); err != nil {
		s.logger.Warn("event publish failed", "key", key, "error", err)
	}
}
