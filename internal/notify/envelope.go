// Package notify routes out-of-band wake-ups to client surfaces. It signals
// intent only and never touches the message cache.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/casechat/internal/models"
)

// ErrUnknownEnvelope is returned for envelope types a surface does not handle.
var ErrUnknownEnvelope = errors.New("unknown envelope type")

// EnvelopeType discriminates cross-surface messages.
type EnvelopeType string

const (
	// EnvelopeOpenConversation asks a surface to select a conversation.
	EnvelopeOpenConversation EnvelopeType = "open_conversation"
)

// Envelope is the typed message posted between surfaces.
type Envelope struct {
	Type          EnvelopeType         `json:"type"`
	RecipientID   int64                `json:"recipientId"`
	RecipientType models.RecipientKind `json:"recipientType"`
}

// OpenConversation builds an envelope selecting r.
func OpenConversation(r models.Recipient) Envelope {
	return Envelope{Type: EnvelopeOpenConversation, RecipientID: r.ID, RecipientType: r.Kind}
}

// Recipient returns the target conversation.
func (e Envelope) Recipient() (models.Recipient, error) {
	if e.Type != EnvelopeOpenConversation {
		return models.Recipient{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, e.Type)
	}
	kind, err := models.ParseRecipientKind(string(e.RecipientType))
	if err != nil {
		return models.Recipient{}, err
	}
	r := models.Recipient{Kind: kind, ID: e.RecipientID}
	return r, r.Validate()
}

// Payload is a push notification as delivered by the collaborator. It only
// says that something happened; the client fetches content through polling.
type Payload struct {
	MessageID     int64                `json:"messageId,omitempty"`
	SenderID      int64                `json:"senderId,omitempty"`
	RecipientID   int64                `json:"recipientId"`
	RecipientType models.RecipientKind `json:"recipientType"`
	Title         string               `json:"title,omitempty"`
	Body          string               `json:"body,omitempty"`
	SentAt        time.Time            `json:"sentAt,omitempty"`
}

// Target returns the conversation the viewer should open for p. Direct
// messages address the viewer, so the conversation is the sender's.
func (p Payload) Target(selfID int64) (models.Recipient, error) {
	kind, err := models.ParseRecipientKind(string(p.RecipientType))
	if err != nil {
		return models.Recipient{}, err
	}
	r := models.Recipient{Kind: kind, ID: p.RecipientID}
	if kind == models.RecipientUser && r.ID == selfID && p.SenderID > 0 {
		r.ID = p.SenderID
	}
	return r, r.Validate()
}
