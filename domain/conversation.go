package domain

import (
	"sort"
	"strings"
)

// conversationSeparator joins participant ids into a routing key.
// Participant ids must not contain it.
const conversationSeparator = "_"

// ConversationKey derives the order-independent routing key for a fixed
// participant set. The key is never stored, it only scopes routing.
func ConversationKey(participants ...string) string {
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)
	return strings.Join(sorted, conversationSeparator)
}

// Participants decodes the participant set encoded in a conversation key.
func Participants(conversationID string) []string {
	if conversationID == "" {
		return nil
	}
	return strings.Split(conversationID, conversationSeparator)
}

// IsParticipant reports whether userID belongs to the participant set of
// the conversation key. Membership checks against the key itself prevent
// privilege escalation through a spoofed key.
func IsParticipant(conversationID, userID string) bool {
	if userID == "" {
		return false
	}
	for _, p := range Participants(conversationID) {
		if p == userID {
			return true
		}
	}
	return false
}

// ValidParticipantID rejects ids that would corrupt a conversation key.
func ValidParticipantID(userID string) bool {
	return userID != "" && !strings.Contains(userID, conversationSeparator)
}
