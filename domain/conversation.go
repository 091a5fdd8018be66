package domain

import (
	"sort"
	"strings"
)

// ConversationSeparator joins the two participant ids of a conversation.
// User ids are UUIDs and never contain it.
const ConversationSeparator = "_"

// keyDelimiter splits the segments of store keys built from a conversation id.
const keyDelimiter = ":"

// ConversationID identifies the pairwise channel between two users.
type ConversationID string

// DeriveConversationID returns the same id whatever the argument order.
func DeriveConversationID(userA, userB string) ConversationID {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ConversationID(strings.Join(ids, ConversationSeparator))
}

// Participants splits a derived id back into its two user ids.
// ok is false when the id was not produced by DeriveConversationID.
func (c ConversationID) Participants() (first, second string, ok bool) {
	first, second, ok = strings.Cut(string(c), ConversationSeparator)
	if !ok || !IsValidParticipantID(first) || !IsValidParticipantID(second) {
		return "", "", false
	}
	return first, second, true
}

// IsValidParticipantID reports whether id can be joined into a conversation
// id without colliding with another pair of participants.
func IsValidParticipantID(id string) bool {
	return id != "" && !strings.ContainsAny(id, ConversationSeparator+keyDelimiter)
}

// Includes reports whether userID is one of the two participants.
func (c ConversationID) Includes(userID string) bool {
	first, second, ok := c.Participants()
	return ok && (userID == first || userID == second)
}

func (c ConversationID) String() string {
	return string(c)
}
