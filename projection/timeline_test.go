package projection

import (
	"dm-relay/domain/event"
	"dm-relay/infrastructure/gateway"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, name event.Type, data any) gateway.Envelope {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return gateway.Envelope{Event: string(name), Data: raw}
}

func message(id, content string, at time.Time, sequence uint64) gateway.MessageDTO {
	return gateway.MessageDTO{
		ID: id, ConversationID: "alice_bob", SenderID: "alice", ReceiverID: "bob",
		Content: content, CreatedAt: at, Sequence: sequence,
	}
}

func TestTimeline_Orders_By_Time_Then_Sequence(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("bob")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, m := range []gateway.MessageDTO{
		message("3", "third", at.Add(time.Second), 3),
		message("2", "second", at, 2),
		message("1", "first", at, 1),
	} {
		changed, err := timeline.Apply(envelope(t, event.NewMessageType, map[string]any{"message": m}))
		req.NoError(err)
		req.True(changed)
	}

	conversation := timeline.Conversation("alice_bob")
	req.Len(conversation, 3)
	req.Equal("first", conversation[0].Content)
	req.Equal("second", conversation[1].Content)
	req.Equal("third", conversation[2].Content)
	req.Empty(timeline.Conversation("bob_carol"))
}

func TestTimeline_Deduplicates_And_Applies_Edits(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("bob")
	original := message("1", "draft", time.Now(), 1)
	timeline.Seed([]gateway.MessageDTO{original})

	changed, err := timeline.Apply(envelope(t, event.NewMessageType, map[string]any{"message": original}))
	req.NoError(err)
	req.False(changed)

	edited := original
	edited.Content = "final"
	edited.IsEdited = true
	changed, err = timeline.Apply(envelope(t, event.MessageUpdatedType, map[string]any{"message": edited}))
	req.NoError(err)
	req.True(changed)

	// a stale history page does not roll the edit back
	timeline.Seed([]gateway.MessageDTO{original})
	req.Equal("final", timeline.Conversation("alice_bob")[0].Content)
}

func TestTimeline_Delete_Leaves_A_Tombstone(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("bob")
	m := message("1", "oops", time.Now(), 1)
	_, err := timeline.Apply(envelope(t, event.NewMessageType, map[string]any{"message": m}))
	req.NoError(err)

	changed, err := timeline.Apply(envelope(t, event.MessageDeletedType, map[string]string{"messageId": "1", "conversationId": "alice_bob"}))
	req.NoError(err)
	req.True(changed)
	req.Empty(timeline.Conversation("alice_bob"))

	changed, err = timeline.Apply(envelope(t, event.NewMessageType, map[string]any{"message": m}))
	req.NoError(err)
	req.False(changed)
}

func TestTimeline_Ignores_Other_Events_And_Rejects_Garbage(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline("bob")

	changed, err := timeline.Apply(envelope(t, event.UserStatusChangeType, map[string]string{"userId": "alice", "status": "online"}))
	req.NoError(err)
	req.False(changed)

	_, err = timeline.Apply(gateway.Envelope{Event: string(event.NewMessageType), Data: json.RawMessage(`"nope"`)})
	req.Error(err)
}
