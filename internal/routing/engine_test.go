// ABOUTME: Tests for the routing engine.
// ABOUTME: Covers precondition order, capacity conservation, rollback, and re-transfer audit.

package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/msglog"
	"github.com/2389/coven-desk/internal/registry"
)

type fixture struct {
	agents *directory.Directory
	convs  *registry.Registry
	log    *msglog.Log
	engine *Engine
}

func newFixture(t *testing.T, maxActive int) *fixture {
	t.Helper()
	f := &fixture{
		agents: directory.New(maxActive, nil),
		convs:  registry.New(nil),
		log:    msglog.New(nil),
	}
	f.engine = New(f.agents, f.convs, f.log, nil)
	return f
}

func (f *fixture) addAgent(id, name string, avail directory.Availability) {
	f.agents.Upsert(directory.Agent{ID: id, Name: name, Availability: avail})
}

func (f *fixture) openConversation(customerID string) registry.Conversation {
	return f.convs.TouchOnInbound("", registry.Customer{ID: customerID, Name: customerID})
}

func TestTransfer_Success(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	conv := f.openConversation("cust1")

	record, err := f.engine.Transfer(conv.ID, "x", PriorityNormal, "")
	require.NoError(t, err)

	assert.Equal(t, conv.ID, record.ConversationID)
	assert.Equal(t, registry.Unassigned(), record.From)
	assert.Equal(t, "x", record.To)
	assert.Equal(t, PriorityNormal, record.Priority)
	assert.NotEmpty(t, record.AuditMessageID)

	got, _ := f.convs.Get(conv.ID)
	assert.Equal(t, registry.AgentHandler("x"), got.Handler)

	agent, _ := f.agents.Get("x")
	assert.Equal(t, 1, agent.ActiveChats)

	msgs, err := f.log.Tail(conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msglog.SenderSystem, msgs[0].Sender.Kind)
	assert.Contains(t, msgs[0].Body, "agent:x")
}

func TestTransfer_OfflineAgentLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	f.addAgent("y", "Yuri", directory.Offline)
	conv := f.openConversation("cust1")

	_, err := f.engine.Transfer(conv.ID, "x", PriorityNormal, "")
	require.NoError(t, err)

	_, err = f.engine.Transfer(conv.ID, "y", PriorityHigh, "urgent")
	assert.ErrorIs(t, err, directory.ErrAgentOffline)

	// Nothing moved: handler, both slot counts, and the audit trail.
	got, _ := f.convs.Get(conv.ID)
	assert.Equal(t, registry.AgentHandler("x"), got.Handler)
	x, _ := f.agents.Get("x")
	assert.Equal(t, 1, x.ActiveChats)
	y, _ := f.agents.Get("y")
	assert.Equal(t, 0, y.ActiveChats)
	assert.Equal(t, 1, f.log.Len(conv.ID))
}

func TestTransfer_PreconditionOrder(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("off", "Olga", directory.Offline)

	// Missing conversation wins over missing agent.
	_, err := f.engine.Transfer("ghost", "nobody", PriorityNormal, "")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	// Resolved conversation wins over offline agent.
	conv := f.openConversation("cust1")
	_, rerr := f.convs.Resolve(conv.ID)
	require.NoError(t, rerr)
	_, err = f.engine.Transfer(conv.ID, "off", PriorityNormal, "")
	assert.ErrorIs(t, err, ErrConversationNotTransferable)

	// Unknown agent on a live conversation.
	conv2 := f.openConversation("cust2")
	_, err = f.engine.Transfer(conv2.ID, "nobody", PriorityNormal, "")
	assert.ErrorIs(t, err, directory.ErrAgentNotFound)
}

func TestTransfer_ReleasesPreviousOwner(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	f.addAgent("y", "Yuri", directory.Available)
	conv := f.openConversation("cust1")

	_, err := f.engine.Transfer(conv.ID, "x", PriorityNormal, "")
	require.NoError(t, err)
	record, err := f.engine.Transfer(conv.ID, "y", PriorityHigh, "escalating")
	require.NoError(t, err)

	assert.Equal(t, registry.AgentHandler("x"), record.From)

	x, _ := f.agents.Get("x")
	y, _ := f.agents.Get("y")
	assert.Equal(t, 0, x.ActiveChats)
	assert.Equal(t, 1, y.ActiveChats)

	msgs, _ := f.log.Tail(conv.ID, 0)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Body, "agent:x")
	assert.Contains(t, msgs[1].Body, "agent:y")
	assert.Contains(t, msgs[1].Body, "escalating")
}

// Property P5: re-transferring to the current owner succeeds, leaves the
// slot count alone, and still writes a fresh audit entry.
func TestTransfer_SameAgentIsAuditedNoOp(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	conv := f.openConversation("cust1")

	_, err := f.engine.Transfer(conv.ID, "x", PriorityNormal, "first")
	require.NoError(t, err)
	_, err = f.engine.Transfer(conv.ID, "x", PriorityNormal, "second")
	require.NoError(t, err)

	agent, _ := f.agents.Get("x")
	assert.Equal(t, 1, agent.ActiveChats, "no double reservation")

	msgs, _ := f.log.Tail(conv.ID, 0)
	require.Len(t, msgs, 2)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

// Property P3 holds for the current owner too: an agent that went
// offline cannot receive its own conversation back, and the rejected
// transfer leaves no trace.
func TestTransfer_OfflineOwnerIsRejected(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	conv := f.openConversation("cust1")

	_, err := f.engine.Transfer(conv.ID, "x", PriorityHigh, "")
	require.NoError(t, err)
	require.NoError(t, f.agents.SetAvailability("x", directory.Offline))

	before, _ := f.convs.Get(conv.ID)
	_, err = f.engine.Transfer(conv.ID, "x", PriorityHigh, "again")
	assert.ErrorIs(t, err, directory.ErrAgentOffline)

	// No mutation: handler, activity stamp, slot count, and audit trail.
	after, _ := f.convs.Get(conv.ID)
	assert.Equal(t, before, after)
	agent, _ := f.agents.Get("x")
	assert.Equal(t, 1, agent.ActiveChats)
	assert.Equal(t, 1, f.log.Len(conv.ID), "no audit entry for a rejected transfer")
}

// stuckRegistry reports the conversation as open but refuses the handler
// swap, simulating a resolve racing the transfer.
type stuckRegistry struct {
	conv registry.Conversation
}

func (s *stuckRegistry) Get(string) (registry.Conversation, error) { return s.conv, nil }

func (s *stuckRegistry) SetHandler(string, registry.Handler) (registry.Handler, error) {
	return registry.Handler{}, registry.ErrAlreadyResolved
}

func TestTransfer_RollsBackReservationOnRegistryFailure(t *testing.T) {
	agents := directory.New(0, nil)
	agents.Upsert(directory.Agent{ID: "x", Name: "Xenia", Availability: directory.Available})
	convs := &stuckRegistry{conv: registry.Conversation{
		ID:      "c1",
		Status:  registry.StatusActive,
		Handler: registry.Unassigned(),
	}}
	engine := New(agents, convs, msglog.New(nil), nil)

	_, err := engine.Transfer("c1", "x", PriorityNormal, "")
	assert.ErrorIs(t, err, ErrConversationNotTransferable)

	// The reservation made before the failed swap must be unwound.
	agent, _ := agents.Get("x")
	assert.Equal(t, 0, agent.ActiveChats)
}

// Property P2: across any interleaving of transfers, the sum of slot
// counts equals the number of agent-owned conversations.
func TestTransfer_CapacityConservationUnderConcurrency(t *testing.T) {
	f := newFixture(t, 0)
	agentIDs := []string{"a", "b", "c"}
	for _, id := range agentIDs {
		f.addAgent(id, id, directory.Available)
	}

	const conversations = 20
	convIDs := make([]string, conversations)
	for i := range convIDs {
		convIDs[i] = f.openConversation(fmt.Sprintf("cust%d", i)).ID
	}

	var wg sync.WaitGroup
	for round := 0; round < 5; round++ {
		for i, convID := range convIDs {
			wg.Add(1)
			go func(convID string, i, round int) {
				defer wg.Done()
				target := agentIDs[(i+round)%len(agentIDs)]
				_, err := f.engine.Transfer(convID, target, PriorityNormal, "")
				assert.NoError(t, err)
			}(convID, i, round)
		}
	}
	wg.Wait()

	owned := 0
	for _, convID := range convIDs {
		conv, err := f.convs.Get(convID)
		require.NoError(t, err)
		if conv.Handler.Kind == registry.HandlerAgent {
			owned++
		}
	}

	total := 0
	for _, count := range f.agents.Load() {
		total += count
	}
	assert.Equal(t, owned, total, "slot counts diverged from ownership")
	assert.Equal(t, conversations, owned)
}

func TestAutoSuggest(t *testing.T) {
	f := newFixture(t, 0)
	conv := f.openConversation("cust1")

	_, err := f.engine.AutoSuggest(conv.ID)
	assert.ErrorIs(t, err, ErrNoAgentsFree)

	f.addAgent("x", "Xenia", directory.Available)
	f.addAgent("y", "Yuri", directory.Available)
	f.addAgent("z", "Zoe", directory.Busy)

	// Load Xenia so Yuri becomes the least-loaded available agent.
	other := f.openConversation("cust2")
	_, err = f.engine.Transfer(other.ID, "x", PriorityNormal, "")
	require.NoError(t, err)

	suggested, err := f.engine.AutoSuggest(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", suggested.ID)

	_, err = f.engine.AutoSuggest("ghost")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestTransfer_InvalidPriorityDefaultsToNormal(t *testing.T) {
	f := newFixture(t, 0)
	f.addAgent("x", "Xenia", directory.Available)
	conv := f.openConversation("cust1")

	record, err := f.engine.Transfer(conv.ID, "x", Priority("??"), "")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, record.Priority)
}
