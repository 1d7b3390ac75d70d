package models

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidConversationKey is returned for keys that are not user:<id> or team:<id>.
var ErrInvalidConversationKey = errors.New("invalid conversation key")

const (
	userKeyPrefix = "user:"
	teamKeyPrefix = "team:"
)

// ConversationKey partitions messages into conversations without a separate
// entity: user:<otherUserId> for direct chats seen from the viewer, and
// team:<teamId> for team chats.
type ConversationKey string

// UserKey keys a direct conversation with another user.
func UserKey(otherUserID int64) ConversationKey {
	return ConversationKey(userKeyPrefix + strconv.FormatInt(otherUserID, 10))
}

// TeamKey keys a team conversation.
func TeamKey(teamID int64) ConversationKey {
	return ConversationKey(teamKeyPrefix + strconv.FormatInt(teamID, 10))
}

// RecipientKey keys the conversation a viewer opens by addressing r.
func RecipientKey(r Recipient) ConversationKey {
	if r.Kind == RecipientTeam {
		return TeamKey(r.ID)
	}
	return UserKey(r.ID)
}

// KeyFor returns the conversation a message belongs to, from selfID's point
// of view. Direct messages key on the other participant; a message sent to
// oneself keys on self.
func KeyFor(m Message, selfID int64) ConversationKey {
	if m.Recipient.Kind == RecipientTeam {
		return TeamKey(m.Recipient.ID)
	}
	if m.SenderID == selfID {
		return UserKey(m.Recipient.ID)
	}
	return UserKey(m.SenderID)
}

// ParseConversationKey parses and validates a key.
func ParseConversationKey(raw string) (ConversationKey, error) {
	key := ConversationKey(strings.TrimSpace(raw))
	if _, err := key.Recipient(); err != nil {
		return "", err
	}
	return key, nil
}

// Recipient returns the recipient a viewer addresses to post into the conversation.
func (k ConversationKey) Recipient() (Recipient, error) {
	raw := string(k)
	var kind RecipientKind
	var rest string
	switch {
	case strings.HasPrefix(raw, userKeyPrefix):
		kind, rest = RecipientUser, strings.TrimPrefix(raw, userKeyPrefix)
	case strings.HasPrefix(raw, teamKeyPrefix):
		kind, rest = RecipientTeam, strings.TrimPrefix(raw, teamKeyPrefix)
	default:
		return Recipient{}, fmt.Errorf("%w: %q", ErrInvalidConversationKey, raw)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return Recipient{}, fmt.Errorf("%w: %q", ErrInvalidConversationKey, raw)
	}
	return Recipient{Kind: kind, ID: id}, nil
}

// IsTeam reports whether the key addresses a team.
func (k ConversationKey) IsTeam() bool {
	return strings.HasPrefix(string(k), teamKeyPrefix)
}

// UnreadCounts maps conversations to their unread message count.
type UnreadCounts map[ConversationKey]int

// Clone returns a copy with non-positive entries dropped.
func (u UnreadCounts) Clone() UnreadCounts {
	out := make(UnreadCounts, len(u))
	for key, count := range u {
		if count > 0 {
			out[key] = count
		}
	}
	return out
}

// Total sums all counts.
func (u UnreadCounts) Total() int {
	total := 0
	for _, count := range u {
		if count > 0 {
			total += count
		}
	}
	return total
}

// Keys returns the conversations with unread messages, sorted.
func (u UnreadCounts) Keys() []ConversationKey {
	keys := make([]ConversationKey, 0, len(u))
	for key, count := range u {
		if count > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
