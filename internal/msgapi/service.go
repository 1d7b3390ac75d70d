// Package msgapi defines the contract of the message-store collaborator and an
// HTTP client for it.
package msgapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tOgg1/casechat/internal/models"
)

// Service is the message-store collaborator consumed by the sync engine.
type Service interface {
	// ListMessages returns messages ascending by id, or descending when
	// q.BeforeID is set.
	ListMessages(ctx context.Context, q ListQuery) ([]models.Message, error)
	ListModifiedMessages(ctx context.Context, after time.Time) ([]models.Message, error)
	CreateMessage(ctx context.Context, req CreateRequest) (models.Message, error)
	UpdateMessage(ctx context.Context, id int64, req UpdateRequest) (models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	MarkChatRead(ctx context.Context, recipient models.Recipient) error
	UnreadCountsDetailed(ctx context.Context) (models.UnreadCounts, error)
	ListTeams(ctx context.Context) ([]models.Team, error)
	CreateTeam(ctx context.Context, req TeamRequest) (models.Team, error)
	UpdateTeam(ctx context.Context, id int64, req TeamRequest) (models.Team, error)
}

// ListQuery bounds a message listing. Zero fields are unset.
type ListQuery struct {
	SinceID   int64
	BeforeID  int64
	Recipient *models.Recipient
	// Limit caps the result. Without SinceID the newest Limit records are
	// returned.
	Limit  int
	Search string
}

// Descending reports whether the listing pages backward.
func (q ListQuery) Descending() bool {
	return q.BeforeID > 0
}

// Values encodes the query as URL parameters.
func (q ListQuery) Values() url.Values {
	v := url.Values{}
	if q.SinceID > 0 {
		v.Set("sinceId", strconv.FormatInt(q.SinceID, 10))
	}
	if q.BeforeID > 0 {
		v.Set("beforeId", strconv.FormatInt(q.BeforeID, 10))
	}
	if q.Recipient != nil {
		v.Set("recipientId", strconv.FormatInt(q.Recipient.ID, 10))
		v.Set("recipientType", string(q.Recipient.Kind))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

// ParseListQuery decodes URL parameters produced by Values.
func ParseListQuery(v url.Values) (ListQuery, error) {
	var q ListQuery
	var err error
	if q.SinceID, err = parseOptionalID(v, "sinceId"); err != nil {
		return ListQuery{}, err
	}
	if q.BeforeID, err = parseOptionalID(v, "beforeId"); err != nil {
		return ListQuery{}, err
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ListQuery{}, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = n
	}
	rawID, rawType := v.Get("recipientId"), v.Get("recipientType")
	if rawID != "" || rawType != "" {
		r, err := ParseRecipient(rawID, rawType)
		if err != nil {
			return ListQuery{}, err
		}
		q.Recipient = &r
	}
	q.Search = strings.TrimSpace(v.Get("search"))
	return q, nil
}

// ParseRecipient decodes the {recipientId, recipientType} pair used in query
// strings and read markers.
func ParseRecipient(rawID, rawType string) (models.Recipient, error) {
	kind, err := models.ParseRecipientKind(rawType)
	if err != nil {
		return models.Recipient{}, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return models.Recipient{}, fmt.Errorf("%w: id %q", models.ErrInvalidRecipient, rawID)
	}
	r := models.Recipient{Kind: kind, ID: id}
	return r, r.Validate()
}

func parseOptionalID(v url.Values, name string) (int64, error) {
	raw := v.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

// CreateRequest is the payload of a new message.
type CreateRequest struct {
	Recipient models.Recipient   `json:"recipient"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"messageType"`
	ParentID  *int64             `json:"parentId,omitempty"`
	LinkURL   string             `json:"linkUrl,omitempty"`
	LinkTitle string             `json:"linkTitle,omitempty"`
}

// Validate checks the payload before it is sent or stored.
func (r *CreateRequest) Validate() error {
	validation := &models.ValidationErrors{}
	validation.Add("recipient", r.Recipient.Validate())
	if strings.TrimSpace(r.Content) == "" {
		validation.Add("content", models.ErrEmptyContent)
	}
	if _, err := models.ParseMessageType(string(r.Type)); err != nil {
		validation.Add("messageType", err)
	}
	if r.ParentID != nil && *r.ParentID <= 0 {
		validation.AddMessage("parentId", "parent id must be positive")
	}
	return validation.Err()
}

// UpdateRequest is a partial message update. Nil fields are left unchanged.
type UpdateRequest struct {
	Content   *string             `json:"content,omitempty"`
	Type      *models.MessageType `json:"messageType,omitempty"`
	LinkURL   *string             `json:"linkUrl,omitempty"`
	LinkTitle *string             `json:"linkTitle,omitempty"`
}

// Empty reports whether the update changes nothing.
func (r UpdateRequest) Empty() bool {
	return r.Content == nil && r.Type == nil && r.LinkURL == nil && r.LinkTitle == nil
}

// ReadMarker is the body of a mark-as-read call.
type ReadMarker struct {
	RecipientID   int64                `json:"recipientId"`
	RecipientType models.RecipientKind `json:"recipientType"`
}

// Recipient converts the marker.
func (m ReadMarker) Recipient() (models.Recipient, error) {
	kind, err := models.ParseRecipientKind(string(m.RecipientType))
	if err != nil {
		return models.Recipient{}, err
	}
	r := models.Recipient{Kind: kind, ID: m.RecipientID}
	return r, r.Validate()
}

// TeamRequest creates or updates a team.
type TeamRequest struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"memberIds"`
}
