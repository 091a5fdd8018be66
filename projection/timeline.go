// Package projection builds local timelines from observed events.
// Handles ordering, deduplication, and projections.
// Does not emit events or interact with UI directly.
package projection

import (
	"dm-relay/domain/event"
	"dm-relay/infrastructure/gateway"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Timeline holds what one client knows about its conversations,
// keyed by message id so replayed events do not duplicate.
type Timeline struct {
	mu       sync.Mutex
	Owner    string
	messages map[string]gateway.MessageDTO
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{Owner: owner, messages: make(map[string]gateway.MessageDTO)}
}

// Seed loads history fetched on demand. Newer live state wins.
func (t *Timeline) Seed(messages []gateway.MessageDTO) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range messages {
		if _, ok := t.messages[m.ID]; !ok {
			t.messages[m.ID] = m
		}
	}
}

// Apply folds one server event into the timeline and reports whether it
// changed anything. Events that do not concern messages are ignored.
func (t *Timeline) Apply(env gateway.Envelope) (bool, error) {
	switch event.Type(env.Event) {
	case event.NewMessageType, event.MessageUpdatedType:
		var data struct {
			Message gateway.MessageDTO `json:"message"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return false, fmt.Errorf("%s: %w", env.Event, err)
		}
		return t.upsert(data.Message), nil
	case event.MessageDeletedType:
		var data struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return false, fmt.Errorf("%s: %w", env.Event, err)
		}
		return t.remove(data.MessageID), nil
	}
	return false, nil
}

func (t *Timeline) upsert(m gateway.MessageDTO) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.messages[m.ID]
	if ok && current.IsDeleted {
		return false
	}
	if ok && current.Content == m.Content && current.IsEdited == m.IsEdited {
		return false
	}
	t.messages[m.ID] = m
	return true
}

// remove keeps a tombstone so a late newMessage cannot resurrect it.
func (t *Timeline) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.messages[id]
	if ok && current.IsDeleted {
		return false
	}
	current.ID = id
	current.IsDeleted = true
	t.messages[id] = current
	return true
}

// Conversation returns the visible messages of one conversation ordered by
// creation time then store sequence.
func (t *Timeline) Conversation(conversationID string) []gateway.MessageDTO {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []gateway.MessageDTO
	for _, m := range t.messages {
		if m.ConversationID == conversationID && !m.IsDeleted {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}
