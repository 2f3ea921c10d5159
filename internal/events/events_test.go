// ABOUTME: Tests for the event envelope schema.
// ABOUTME: Consumers key on meta fields, so their shape is pinned here.

package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(KeyConversationTransferred, TransferPayload{
		ConversationID: "c1",
		From:           "unassigned",
		To:             "x",
		Priority:       "high",
	})

	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, KeyConversationTransferred, env.Meta.Type)
	assert.Equal(t, "coven-desk", env.Meta.Producer)
	assert.False(t, env.Meta.OccurredAt.IsZero())
}

func TestEnvelope_JSONShape(t *testing.T) {
	env := NewEnvelope(KeyMessageAppended, MessagePayload{
		MessageID:      "m1",
		ConversationID: "c1",
		SenderKind:     "customer",
		Body:           "hi",
	})

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "meta")
	assert.Contains(t, decoded, "data")

	var data map[string]any
	require.NoError(t, json.Unmarshal(decoded["data"], &data))
	assert.Equal(t, "c1", data["conversation_id"])
	// Empty agent ID must be omitted, not published as "".
	assert.NotContains(t, data, "sender_agent_id")
}

// NopPublisher stands in for the broker when eventing is disabled; it
// must satisfy Publisher and swallow everything without error.
func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}

	env := NewEnvelope(KeyConversationResolved, ResolvedPayload{ConversationID: "c1"})
	assert.NoError(t, p.Publish(context.Background(), KeyConversationResolved, env))
	assert.NoError(t, p.Close())
}
