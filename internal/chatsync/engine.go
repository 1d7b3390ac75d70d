package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/notify"
	"github.com/tOgg1/casechat/internal/session"
)

// Engine errors.
var (
	ErrNoService         = errors.New("chatsync: service is required")
	ErrNoUser            = errors.New("chatsync: self id is required")
	ErrNoActive          = errors.New("no active conversation")
	ErrAlreadyStarted    = errors.New("engine already started")
	ErrBootstrapFailed   = errors.New("initial sync failed")
	defaultBootstrap     = 200
	defaultNoticeBacklog = 16
)

// Options configures an Engine.
type Options struct {
	Service msgapi.Service
	SelfID  int64

	// Session remembers the last active conversation. Optional.
	Session *session.Manager

	// Initial is selected at start, taking precedence over the session.
	Initial *models.Recipient

	Poller PollerConfig
	Reads  ReadTrackerConfig

	// PageSize is the history page size and the size of a conversation
	// refresh on selection.
	PageSize int

	// BootstrapLimit is how many of the newest messages are loaded at start.
	// Default: 200
	BootstrapLimit int

	// Registerer receives the engine metrics. Optional.
	Registerer prometheus.Registerer

	// Now overrides the clock.
	Now func() time.Time
}

// Engine owns the message cache of one mounted messaging feature and every
// component that writes to it.
type Engine struct {
	opts       Options
	svc        msgapi.Service
	store      *chatcache.Store
	cursor     *SyncCursor
	reconciler *Reconciler
	sender     *Sender
	poller     *Poller
	paginator  *Paginator
	reads      *ReadTracker
	metrics    *Metrics
	notices    chan Notice
	logger     zerolog.Logger

	mu      sync.RWMutex
	active  *models.Recipient
	baseCtx context.Context
	started bool
}

// New wires an engine. Nothing talks to the collaborator until Start.
func New(opts Options) (*Engine, error) {
	if opts.Service == nil {
		return nil, ErrNoService
	}
	if opts.SelfID <= 0 {
		return nil, ErrNoUser
	}
	if opts.BootstrapLimit <= 0 {
		opts.BootstrapLimit = defaultBootstrap
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		opts:    opts,
		svc:     opts.Service,
		store:   chatcache.New(opts.SelfID),
		cursor:  NewSyncCursor(Cursor{}),
		metrics: NewMetrics(opts.Registerer),
		notices: make(chan Notice, defaultNoticeBacklog),
		logger:  logging.Component("chatsync-engine"),
		baseCtx: context.Background(),
	}
	e.reconciler = NewReconciler(e.store, e.cursor, e.metrics)
	e.sender = NewSender(e.svc, e.store, e.reconciler, e.metrics, e.publishNotice)
	e.sender.now = opts.Now
	e.reads = NewReadTracker(opts.Reads, e.svc, e.store, e.metrics)
	e.reads.now = opts.Now
	e.paginator = NewPaginator(e.svc, e.store, e.reconciler, opts.PageSize, e.metrics)
	e.poller = NewPoller(opts.Poller, e.svc, e.store, e.cursor, e.reconciler, e.reads, e.ActiveKey, e.metrics)
	e.poller.now = opts.Now
	return e, nil
}

// Start loads the newest messages and unread counts, restores the default
// selection and starts polling.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.baseCtx = ctx
	e.mu.Unlock()

	startedAt := e.opts.Now()
	latest, err := e.svc.ListMessages(ctx, msgapi.ListQuery{Limit: e.opts.BootstrapLimit})
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	res := e.reconciler.Apply(Batch{New: latest, PollStartedAt: startedAt})

	if counts, err := e.svc.UnreadCountsDetailed(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("initial unread counts failed")
	} else {
		e.store.SetUnreadCounts(counts)
	}

	e.logger.Info().
		Int("messages", e.store.Len()).
		Int64("max_seen_id", res.Cursor.MaxSeenID).
		Msg("initial sync complete")

	if target, ok := e.defaultSelection(); ok {
		if err := e.Select(ctx, target); err != nil {
			e.logger.Warn().Err(err).Str("conversation", target.String()).Msg("restoring selection failed")
		}
	}

	return e.poller.Start(ctx)
}

func (e *Engine) defaultSelection() (models.Recipient, bool) {
	if e.opts.Initial != nil {
		return *e.opts.Initial, true
	}
	if e.opts.Session == nil {
		return models.Recipient{}, false
	}
	key, ok := e.opts.Session.LastConversation()
	if !ok {
		return models.Recipient{}, false
	}
	r, err := key.Recipient()
	return r, err == nil
}

// Stop halts polling, waits for mark-as-read calls and flushes the session.
func (e *Engine) Stop() error {
	var errs []error
	if err := e.poller.Stop(); err != nil && !errors.Is(err, ErrPollerNotRunning) {
		errs = append(errs, err)
	}
	e.reads.Wait()
	if e.opts.Session != nil {
		if err := e.opts.Session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
	return errors.Join(errs...)
}

// Store exposes the cache for rendering and change subscriptions.
func (e *Engine) Store() *chatcache.Store { return e.store }

// Cursor returns the current sync position.
func (e *Engine) Cursor() Cursor { return e.cursor.Snapshot() }

// Notices delivers user-visible notices such as failed sends.
func (e *Engine) Notices() <-chan Notice { return e.notices }

func (e *Engine) publishNotice(n Notice) {
	select {
	case e.notices <- n:
	default:
		e.logger.Warn().Str("kind", string(n.Kind)).Msg("notice backlog full, dropping notice")
	}
}

// Select makes r the active conversation. The conversation is refreshed with
// a bounded fetch; in-flight requests for the previous one are not cancelled.
// The selection sticks even when the refresh fails.
func (e *Engine) Select(ctx context.Context, r models.Recipient) error {
	if err := r.Validate(); err != nil {
		return err
	}
	key := models.RecipientKey(r)

	e.mu.Lock()
	e.active = &r
	e.mu.Unlock()

	if e.opts.Session != nil {
		e.opts.Session.SetLastConversation(key)
	}

	page, err := e.svc.ListMessages(ctx, msgapi.ListQuery{Recipient: &r, Limit: e.paginator.PageSize()})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	e.reconciler.MergeWindow(page)
	e.paginator.noteWindow(key, len(page))
	e.reads.Evaluate(ctx, key)
	return nil
}

// Active returns the active conversation's recipient.
func (e *Engine) Active() (models.Recipient, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return models.Recipient{}, false
	}
	return *e.active, true
}

// ActiveKey returns the active conversation's key.
func (e *Engine) ActiveKey() (models.ConversationKey, bool) {
	r, ok := e.Active()
	if !ok {
		return "", false
	}
	return models.RecipientKey(r), true
}

// Conversation returns the active conversation in presentation order.
func (e *Engine) Conversation() []models.Message {
	key, ok := e.ActiveKey()
	if !ok {
		return nil
	}
	return e.store.SelectConversation(key)
}

// Send sends an optimistic message.
func (e *Engine) Send(ctx context.Context, d Draft) (models.Message, error) {
	msg, err := e.sender.Send(ctx, d)
	if err == nil && e.opts.Session != nil {
		e.opts.Session.DeleteDraft(models.RecipientKey(d.Recipient))
	}
	return msg, err
}

// SendActive sends content to the active conversation.
func (e *Engine) SendActive(ctx context.Context, content string, msgType models.MessageType, parentID *int64) (models.Message, error) {
	r, ok := e.Active()
	if !ok {
		return models.Message{}, ErrNoActive
	}
	return e.Send(ctx, Draft{Recipient: r, Content: content, Type: msgType, ParentID: parentID})
}

// Edit updates a message.
func (e *Engine) Edit(ctx context.Context, id int64, req msgapi.UpdateRequest) (models.Message, error) {
	return e.sender.Edit(ctx, id, req)
}

// Delete deletes a message.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	return e.sender.Delete(ctx, id)
}

// LoadOlder pages back the active conversation.
func (e *Engine) LoadOlder(ctx context.Context) (bool, error) {
	key, ok := e.ActiveKey()
	if !ok {
		return false, ErrNoActive
	}
	return e.paginator.LoadOlder(ctx, key)
}

// LoadOlderAnchored pages back the active conversation, keeping v anchored.
func (e *Engine) LoadOlderAnchored(ctx context.Context, v Viewport) (bool, error) {
	key, ok := e.ActiveKey()
	if !ok {
		return false, ErrNoActive
	}
	return e.paginator.LoadOlderAnchored(ctx, key, v)
}

// HasMore reports whether older history may exist for the active conversation.
func (e *Engine) HasMore() bool {
	key, ok := e.ActiveKey()
	return ok && e.paginator.HasMore(key)
}

// SetVisible records surface visibility and re-evaluates read state.
func (e *Engine) SetVisible(ctx context.Context, visible bool) {
	e.reads.SetVisible(visible)
	e.evaluateActive(ctx)
}

// RecordActivity records user input and re-evaluates read state.
func (e *Engine) RecordActivity(ctx context.Context, kind ActivityKind) {
	e.reads.RecordActivity(kind)
	e.evaluateActive(ctx)
}

func (e *Engine) evaluateActive(ctx context.Context) {
	if key, ok := e.ActiveKey(); ok {
		e.reads.Evaluate(ctx, key)
	}
}

// Tick runs one poll cycle outside the schedule.
func (e *Engine) Tick(ctx context.Context) error {
	return e.poller.Tick(ctx)
}

// PollNow wakes the poller, typically after a push payload.
func (e *Engine) PollNow() error {
	return e.poller.PollNow()
}

// HandleEnvelope handles envelopes posted by the notification bridge. It
// makes an Engine usable as a notify.Handler.
func (e *Engine) HandleEnvelope(env notify.Envelope) error {
	r, err := env.Recipient()
	if err != nil {
		return err
	}
	e.mu.RLock()
	ctx := e.baseCtx
	e.mu.RUnlock()
	if err := e.Select(ctx, r); err != nil {
		e.logger.Warn().Err(err).Str("conversation", r.String()).Msg("refresh after envelope failed")
	}
	return nil
}
