// ABOUTME: Tests for the SQLite archive.
// ABOUTME: Round-trips conversations, messages, agents, and transfer records.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/msglog"
	"github.com/2389/coven-desk/internal/registry"
	"github.com/2389/coven-desk/internal/routing"
)

func createTestArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := NewSQLiteArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveConversation_Upsert(t *testing.T) {
	a := createTestArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	conv := registry.Conversation{
		ID:             "c1",
		Customer:       registry.Customer{ID: "cust1", Name: "Dana"},
		Status:         registry.StatusActive,
		Handler:        registry.Unassigned(),
		UnreadCount:    1,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	require.NoError(t, a.SaveConversation(ctx, conv))

	conv.Status = registry.StatusWaiting
	conv.Handler = registry.AgentHandler("x")
	conv.UnreadCount = 0
	require.NoError(t, a.SaveConversation(ctx, conv))

	got, err := a.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusWaiting, got.Status)
	assert.Equal(t, registry.AgentHandler("x"), got.Handler)
	assert.Equal(t, 0, got.UnreadCount)
	assert.Equal(t, "Dana", got.Customer.Name)

	_, err = a.GetConversation(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConversationHistory_OrderedBySentAt(t *testing.T) {
	a := createTestArchive(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, body := range []string{"one", "two", "three"} {
		msg := msglog.Message{
			ID:             body,
			ConversationID: "c1",
			Sender:         msglog.CustomerSender(),
			Body:           body,
			SentAt:         base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, a.SaveMessage(ctx, msg))
	}
	// Replaying an immutable message is a no-op, not an error.
	require.NoError(t, a.SaveMessage(ctx, msglog.Message{
		ID: "one", ConversationID: "c1", Sender: msglog.CustomerSender(),
		Body: "mutated", SentAt: base,
	}))

	msgs, err := a.ConversationHistory(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
	assert.Equal(t, "three", msgs[1].Body)

	all, err := a.ConversationHistory(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Body, "replay must not mutate the archived body")
}

func TestSaveAgent_OmitsCredentials(t *testing.T) {
	a := createTestArchive(t)
	ctx := context.Background()

	hash, err := directory.HashCredential("secret")
	require.NoError(t, err)
	require.NoError(t, a.SaveAgent(ctx, directory.Agent{
		ID: "x", Name: "Xenia", Role: "support",
		Availability: directory.Available, ActiveChats: 2,
		CredentialHash: hash,
	}))

	var count int
	require.NoError(t, a.db.QueryRow("SELECT COUNT(*) FROM agents WHERE id = 'x'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSaveTransfer_RoundTrip(t *testing.T) {
	a := createTestArchive(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)

	rec := routing.TransferRecord{
		ConversationID: "c1",
		From:           registry.AgentHandler("x"),
		To:             "y",
		Priority:       routing.PriorityHigh,
		Note:           "escalating",
		AuditMessageID: "m1",
		At:             at,
	}
	require.NoError(t, a.SaveTransfer(ctx, rec))
	require.NoError(t, a.SaveTransfer(ctx, rec), "immutable records ignore replays")

	got, err := a.TransfersForConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, registry.AgentHandler("x"), got[0].From)
	assert.Equal(t, "y", got[0].To)
	assert.Equal(t, routing.PriorityHigh, got[0].Priority)
	assert.Equal(t, "escalating", got[0].Note)
}
