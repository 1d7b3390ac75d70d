package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// ErrNotSent wraps every failed send. The placeholder has been removed by the
// time it is returned.
var ErrNotSent = errors.New("message not sent")

// NoticeKind classifies user-visible notices.
type NoticeKind string

const (
	NoticeSendFailed   NoticeKind = "send_failed"
	NoticeEditFailed   NoticeKind = "edit_failed"
	NoticeDeleteFailed NoticeKind = "delete_failed"
)

// Notice is a recoverable, user-visible event such as a failed send.
type Notice struct {
	Kind         NoticeKind
	Conversation models.ConversationKey
	Content      string
	Err          error
	At           time.Time
}

func (n Notice) String() string {
	switch n.Kind {
	case NoticeSendFailed:
		return "message not sent"
	case NoticeEditFailed:
		return "message not updated"
	case NoticeDeleteFailed:
		return "message not deleted"
	default:
		return string(n.Kind)
	}
}

// Draft is a message composed locally.
type Draft struct {
	Recipient models.Recipient
	Content   string
	Type      models.MessageType
	ParentID  *int64
	LinkURL   string
	LinkTitle string
}

func (d Draft) request() (msgapi.CreateRequest, error) {
	msgType, err := models.ParseMessageType(string(d.Type))
	if err != nil {
		return msgapi.CreateRequest{}, err
	}
	req := msgapi.CreateRequest{
		Recipient: d.Recipient,
		Content:   strings.TrimSpace(d.Content),
		Type:      msgType,
		ParentID:  d.ParentID,
		LinkURL:   strings.TrimSpace(d.LinkURL),
		LinkTitle: strings.TrimSpace(d.LinkTitle),
	}
	return req, req.Validate()
}

// Sender performs optimistic writes: the message is visible in the store
// before the collaborator acknowledges it.
type Sender struct {
	svc        msgapi.Service
	store      *chatcache.Store
	reconciler *Reconciler
	metrics    *Metrics
	notify     func(Notice)
	now        func() time.Time
	logger     zerolog.Logger

	seq atomic.Uint64
}

// NewSender creates a sender. notify receives failure notices and may be nil.
func NewSender(svc msgapi.Service, store *chatcache.Store, reconciler *Reconciler, metrics *Metrics, notify func(Notice)) *Sender {
	if notify == nil {
		notify = func(Notice) {}
	}
	return &Sender{
		svc:        svc,
		store:      store,
		reconciler: reconciler,
		metrics:    metrics,
		notify:     notify,
		now:        time.Now,
		logger:     logging.Component("chatsync-sender"),
	}
}

// Send inserts a placeholder, creates the message and swaps the placeholder
// for the acknowledged record. On failure the placeholder is removed, a
// NoticeSendFailed is published and an error wrapping ErrNotSent is returned.
// Nothing is retried.
func (s *Sender) Send(ctx context.Context, d Draft) (models.Message, error) {
	req, err := d.request()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	local := models.LocalID(s.seq.Add(1))
	now := s.now()
	placeholder := models.Message{
		ID:        local,
		SenderID:  s.store.SelfID(),
		Recipient: req.Recipient,
		Content:   req.Content,
		Type:      req.Type,
		ParentID:  req.ParentID,
		LinkURL:   req.LinkURL,
		LinkTitle: req.LinkTitle,
		CreatedAt: now,
		UpdatedAt: now,
		ReadByMe:  true,
	}
	key := models.RecipientKey(req.Recipient)
	s.store.Upsert(placeholder)

	created, err := s.svc.CreateMessage(ctx, req)
	if err == nil {
		if _, ok := created.ID.Server(); !ok {
			err = fmt.Errorf("collaborator returned id %s", created.ID)
		}
	}
	if err != nil {
		s.store.Remove(local)
		s.metrics.send("failed")
		s.logger.Warn().Err(err).Str("conversation", string(key)).Msg("send failed, placeholder removed")
		s.notify(Notice{Kind: NoticeSendFailed, Conversation: key, Content: req.Content, Err: err, At: s.now()})
		return models.Message{}, fmt.Errorf("%w: %w", ErrNotSent, err)
	}

	created.ReadByMe = true
	s.reconciler.ReplaceLocal(local, created)
	s.metrics.send("ok")
	s.logger.Debug().Str("local_id", local.String()).Str("id", created.ID.String()).Msg("send acknowledged")
	return created, nil
}

// Edit applies a partial update and stores the authoritative result.
func (s *Sender) Edit(ctx context.Context, id int64, req msgapi.UpdateRequest) (models.Message, error) {
	if req.Empty() {
		return models.Message{}, errors.New("nothing to update")
	}
	if req.Type != nil {
		parsed, err := models.ParseMessageType(string(*req.Type))
		if err != nil {
			return models.Message{}, err
		}
		req.Type = &parsed
	}
	updated, err := s.svc.UpdateMessage(ctx, id, req)
	if err != nil {
		s.publishFailure(NoticeEditFailed, id, err)
		return models.Message{}, err
	}
	s.reconciler.MergeWindow([]models.Message{updated})
	return updated, nil
}

// Delete removes a message remotely, then locally. A message the collaborator
// no longer knows is removed locally as well.
func (s *Sender) Delete(ctx context.Context, id int64) error {
	err := s.svc.DeleteMessage(ctx, id)
	if err != nil && !msgapi.IsNotFound(err) {
		s.publishFailure(NoticeDeleteFailed, id, err)
		return err
	}
	s.store.Remove(models.ServerID(id))
	return nil
}

func (s *Sender) publishFailure(kind NoticeKind, id int64, err error) {
	notice := Notice{Kind: kind, Err: err, At: s.now()}
	if msg, ok := s.store.Get(models.ServerID(id)); ok {
		notice.Conversation = models.KeyFor(msg, s.store.SelfID())
	}
	s.logger.Warn().Err(err).Int64("id", id).Str("kind", string(kind)).Msg("write failed")
	s.notify(notice)
}
