package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message validation errors.
var (
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrEmptyContent       = errors.New("message content is required")
)

// RecipientKind discriminates direct and team conversations.
type RecipientKind string

const (
	RecipientUser RecipientKind = "USER"
	RecipientTeam RecipientKind = "TEAM"
)

// ParseRecipientKind parses a recipient kind, case-insensitively.
func ParseRecipientKind(raw string) (RecipientKind, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(RecipientUser):
		return RecipientUser, nil
	case string(RecipientTeam):
		return RecipientTeam, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidRecipient, raw)
	}
}

// Recipient is either a single user or a team.
type Recipient struct {
	Kind RecipientKind
	ID   int64
}

// UserRecipient addresses a direct conversation.
func UserRecipient(userID int64) Recipient {
	return Recipient{Kind: RecipientUser, ID: userID}
}

// TeamRecipient addresses a team conversation.
func TeamRecipient(teamID int64) Recipient {
	return Recipient{Kind: RecipientTeam, ID: teamID}
}

// IsZero reports whether the recipient is unset.
func (r Recipient) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Validate checks the kind and id.
func (r Recipient) Validate() error {
	if r.Kind != RecipientUser && r.Kind != RecipientTeam {
		return fmt.Errorf("%w: kind %q", ErrInvalidRecipient, r.Kind)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidRecipient)
	}
	return nil
}

func (r Recipient) String() string {
	return string(RecipientKey(r))
}

type recipientWire struct {
	Kind   RecipientKind `json:"kind"`
	UserID int64         `json:"userId,omitempty"`
	TeamID int64         `json:"teamId,omitempty"`
}

// MarshalJSON encodes {kind: USER, userId} or {kind: TEAM, teamId}.
func (r Recipient) MarshalJSON() ([]byte, error) {
	wire := recipientWire{Kind: r.Kind}
	if r.Kind == RecipientTeam {
		wire.TeamID = r.ID
	} else {
		wire.UserID = r.ID
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the discriminated union.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var wire recipientWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	kind, err := ParseRecipientKind(string(wire.Kind))
	if err != nil {
		return err
	}
	r.Kind = kind
	if kind == RecipientTeam {
		r.ID = wire.TeamID
	} else {
		r.ID = wire.UserID
	}
	return nil
}

// MessageType labels a message.
type MessageType string

const (
	MessageNormal         MessageType = "NORMAL"
	MessageImportant      MessageType = "IMPORTANT"
	MessageInfo           MessageType = "INFO"
	MessageActionRequired MessageType = "ACTION_REQUIRED"
)

// ParseMessageType parses a message type. Empty input means NORMAL.
func ParseMessageType(raw string) (MessageType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch MessageType(normalized) {
	case "":
		return MessageNormal, nil
	case MessageNormal, MessageImportant, MessageInfo, MessageActionRequired:
		return MessageType(normalized), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMessageType, raw)
	}
}

// Message is a single chat message as mirrored by the client.
type Message struct {
	// ID is the server id, or a placeholder while the message is pending.
	ID MessageID `json:"id"`

	// SenderID is the authoring user.
	SenderID int64 `json:"senderId"`

	// Recipient is the user or team the message was sent to.
	Recipient Recipient `json:"recipient"`

	// Content is rich text. It is stored as received and sanitized at render time.
	Content string `json:"content"`

	// Type is the message label.
	Type MessageType `json:"messageType"`

	// ParentID references the message being replied to. The parent may be
	// outside the loaded window.
	ParentID *int64 `json:"parentId,omitempty"`

	LinkURL   string `json:"linkUrl,omitempty"`
	LinkTitle string `json:"linkTitle,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ReadByMe is derived for the viewing user.
	ReadByMe bool `json:"readByMe"`

	// ReadByCount is the server-side aggregate of readers.
	ReadByCount int `json:"readByCount"`
}

// Pending reports whether the message is an unacknowledged local write.
func (m Message) Pending() bool {
	return m.ID.IsLocal()
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	if m.ParentID != nil {
		parent := *m.ParentID
		out.ParentID = &parent
	}
	return out
}

// Validate checks the fields a message must carry regardless of origin.
func (m *Message) Validate() error {
	validation := &ValidationErrors{}
	if m.ID.IsZero() {
		validation.AddMessage("id", "id is required")
	}
	if m.SenderID <= 0 {
		validation.AddMessage("senderId", "sender id must be positive")
	}
	validation.Add("recipient", m.Recipient.Validate())
	if _, err := ParseMessageType(string(m.Type)); err != nil {
		validation.Add("messageType", err)
	}
	if m.ParentID != nil && *m.ParentID <= 0 {
		validation.AddMessage("parentId", "parent id must be positive")
	}
	return validation.Err()
}

// CloneMessages deep-copies a slice.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
