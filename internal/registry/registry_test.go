// ABOUTME: Tests for the conversation registry.
// ABOUTME: Covers open/touch semantics, resolve terminality, reopen, and handler transitions.

package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cust = Customer{ID: "cust1", Name: "Dana"}

func TestTouchOnInbound_CreatesConversation(t *testing.T) {
	r := New(nil)

	conv := r.TouchOnInbound("", cust)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, StatusActive, conv.Status)
	assert.Equal(t, Unassigned(), conv.Handler)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, cust, conv.Customer)
}

func TestTouchOnInbound_BumpsExisting(t *testing.T) {
	r := New(nil)
	first := r.TouchOnInbound("", cust)

	// Second inbound without an ID finds the customer's open conversation.
	second := r.TouchOnInbound("", cust)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.UnreadCount)

	third := r.TouchOnInbound(first.ID, cust)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 3, third.UnreadCount)
}

func TestTouchOnInbound_WaitingFlipsToActive(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)
	require.NoError(t, r.SetWaiting(conv.ID))

	touched := r.TouchOnInbound(conv.ID, cust)
	assert.Equal(t, StatusActive, touched.Status)
}

func TestTouchOnInbound_ResolvedOpensFreshConversation(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)
	_, err := r.Resolve(conv.ID)
	require.NoError(t, err)

	fresh := r.TouchOnInbound(conv.ID, cust)
	assert.NotEqual(t, conv.ID, fresh.ID, "resolved conversation must not be resurrected")
	assert.Equal(t, cust, fresh.Customer)
	assert.Equal(t, 1, fresh.UnreadCount)

	old, err := r.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, old.Status)
}

func TestTouchOnInbound_ForeignConversationIDIsIgnored(t *testing.T) {
	r := New(nil)
	other := Customer{ID: "cust2", Name: "Eli"}

	danas := r.TouchOnInbound("", cust)

	// Eli's traffic carrying Dana's conversation ID must never land in
	// Dana's case: it falls back to Eli's own open conversation.
	elis := r.TouchOnInbound(danas.ID, other)
	assert.NotEqual(t, danas.ID, elis.ID)
	assert.Equal(t, other, elis.Customer)
	assert.Equal(t, 1, elis.UnreadCount)

	// A second mismatched touch reuses Eli's open conversation rather
	// than opening a third.
	again := r.TouchOnInbound(danas.ID, other)
	assert.Equal(t, elis.ID, again.ID)
	assert.Equal(t, 2, again.UnreadCount)

	untouched, err := r.Get(danas.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, untouched.UnreadCount)
	assert.Equal(t, cust, untouched.Customer)
}

func TestMarkRead(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)

	require.NoError(t, r.MarkRead(conv.ID))
	got, _ := r.Get(conv.ID)
	assert.Equal(t, 0, got.UnreadCount)

	assert.ErrorIs(t, r.MarkRead("ghost"), ErrConversationNotFound)
}

func TestResolve_ZeroesUnreadAndIsTerminal(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)
	_, err := r.SetHandler(conv.ID, AgentHandler("x"))
	require.NoError(t, err)

	handler, err := r.Resolve(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, AgentHandler("x"), handler, "resolve reports the owning handler")

	got, _ := r.Get(conv.ID)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, 0, got.UnreadCount)

	// Idempotency is surfaced, not silent.
	_, err = r.Resolve(conv.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// No further transitions of any kind.
	_, err = r.SetHandler(conv.ID, AgentHandler("y"))
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.ErrorIs(t, r.SetWaiting(conv.ID), ErrAlreadyResolved)
}

func TestReopen(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)

	assert.ErrorIs(t, r.Reopen(conv.ID), ErrNotResolved)

	_, err := r.Resolve(conv.ID)
	require.NoError(t, err)
	require.NoError(t, r.Reopen(conv.ID))

	got, _ := r.Get(conv.ID)
	assert.Equal(t, StatusActive, got.Status)

	// Inbound traffic lands on the reopened conversation again.
	touched := r.TouchOnInbound("", cust)
	assert.Equal(t, conv.ID, touched.ID)
}

func TestSetHandler_ReturnsPrevious(t *testing.T) {
	r := New(nil)
	conv := r.TouchOnInbound("", cust)

	prev, err := r.SetHandler(conv.ID, Automated())
	require.NoError(t, err)
	assert.Equal(t, Unassigned(), prev)

	prev, err = r.SetHandler(conv.ID, AgentHandler("x"))
	require.NoError(t, err)
	assert.Equal(t, Automated(), prev)

	_, err = r.SetHandler("ghost", AgentHandler("x"))
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestList_Filters(t *testing.T) {
	r := New(nil)
	c1 := r.TouchOnInbound("", Customer{ID: "a", Name: "A"})
	c2 := r.TouchOnInbound("", Customer{ID: "b", Name: "B"})
	r.TouchOnInbound("", Customer{ID: "c", Name: "C"})

	_, err := r.SetHandler(c1.ID, AgentHandler("x"))
	require.NoError(t, err)
	_, err = r.Resolve(c2.ID)
	require.NoError(t, err)

	resolved := StatusResolved
	got := r.List(ListFilter{Status: &resolved})
	require.Len(t, got, 1)
	assert.Equal(t, c2.ID, got[0].ID)

	agentKind := HandlerAgent
	got = r.List(ListFilter{HandlerKind: &agentKind, AgentID: "x"})
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)

	assert.Len(t, r.List(ListFilter{}), 3)
}

func TestTouchOnInbound_ConcurrentSameCustomer(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	ids := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.TouchOnInbound("", cust).ID
		}()
	}
	wg.Wait()
	close(ids)

	// All racing touches must land on a single conversation.
	unique := map[string]bool{}
	for id := range ids {
		unique[id] = true
	}
	require.Len(t, unique, 1)

	for id := range unique {
		conv, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 32, conv.UnreadCount)
	}
}
