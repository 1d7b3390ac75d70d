package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// ActivityKind is the input that produced a heartbeat.
type ActivityKind string

const (
	ActivityPointer  ActivityKind = "pointer"
	ActivityKeyboard ActivityKind = "keyboard"
	ActivityTouch    ActivityKind = "touch"
	ActivityScroll   ActivityKind = "scroll"
)

// ReadTrackerConfig configures presence detection and call debouncing.
type ReadTrackerConfig struct {
	// IdleWindow is how long after the last activity the user still counts
	// as present.
	// Default: 60s
	IdleWindow time.Duration

	// MinInterval spaces mark-as-read calls for one conversation.
	// Default: 2s
	MinInterval time.Duration

	// CallTimeout bounds each mark-as-read call.
	// Default: 10s
	CallTimeout time.Duration
}

// DefaultReadTrackerConfig returns sensible defaults.
func DefaultReadTrackerConfig() ReadTrackerConfig {
	return ReadTrackerConfig{
		IdleWindow:  60 * time.Second,
		MinInterval: 2 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// ReadTracker decides when the user has seen a conversation and marks it
// read. Calls are fire-and-forget; a failed call is retried implicitly the
// next time the conversation is evaluated with a non-zero count.
type ReadTracker struct {
	config  ReadTrackerConfig
	svc     msgapi.Service
	store   *chatcache.Store
	metrics *Metrics
	now     func() time.Time
	logger  zerolog.Logger

	mu           sync.Mutex
	visible      bool
	lastActivity time.Time
	inFlight     map[models.ConversationKey]bool
	limiters     map[models.ConversationKey]*rate.Limiter
	wg           sync.WaitGroup
}

// NewReadTracker creates a tracker. The surface starts hidden with no
// recorded activity.
func NewReadTracker(config ReadTrackerConfig, svc msgapi.Service, store *chatcache.Store, metrics *Metrics) *ReadTracker {
	defaults := DefaultReadTrackerConfig()
	if config.IdleWindow <= 0 {
		config.IdleWindow = defaults.IdleWindow
	}
	if config.MinInterval <= 0 {
		config.MinInterval = defaults.MinInterval
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	return &ReadTracker{
		config:   config,
		svc:      svc,
		store:    store,
		metrics:  metrics,
		now:      time.Now,
		logger:   logging.Component("chatsync-reads"),
		inFlight: make(map[models.ConversationKey]bool),
		limiters: make(map[models.ConversationKey]*rate.Limiter),
	}
}

// SetVisible records whether the surface is in the foreground.
func (t *ReadTracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = visible
}

// RecordActivity records a user-input heartbeat.
func (t *ReadTracker) RecordActivity(kind ActivityKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = t.now()
	t.logger.Trace().Str("kind", string(kind)).Msg("activity")
}

// Present reports whether the surface is visible and input happened within
// the idle window.
func (t *ReadTracker) Present(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presentLocked(now)
}

func (t *ReadTracker) presentLocked(now time.Time) bool {
	if !t.visible || t.lastActivity.IsZero() {
		return false
	}
	return now.Sub(t.lastActivity) <= t.config.IdleWindow
}

// Evaluate marks key read if it has unread messages and the user is present.
// The local counter is zeroed immediately. It reports whether a call was
// issued.
func (t *ReadTracker) Evaluate(ctx context.Context, key models.ConversationKey) bool {
	if t.store.Unread(key) == 0 {
		return false
	}
	recipient, err := key.Recipient()
	if err != nil {
		return false
	}

	t.mu.Lock()
	if !t.presentLocked(t.now()) || t.inFlight[key] || !t.limiter(key).AllowN(t.now(), 1) {
		t.mu.Unlock()
		return false
	}
	t.inFlight[key] = true
	t.wg.Add(1)
	t.mu.Unlock()

	t.store.ZeroUnread(key)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.config.CallTimeout)
	logger := logging.WithConversation(t.logger, string(key))
	go func() {
		defer t.wg.Done()
		defer cancel()
		defer func() {
			t.mu.Lock()
			delete(t.inFlight, key)
			t.mu.Unlock()
		}()

		if err := t.svc.MarkChatRead(callCtx, recipient); err != nil {
			t.metrics.markRead("failed")
			logger.Warn().Err(err).Msg("mark as read failed")
			return
		}
		t.metrics.markRead("ok")
		logger.Debug().Msg("marked as read")
	}()
	return true
}

// InFlight returns the conversations with a mark-as-read call outstanding.
func (t *ReadTracker) InFlight() []models.ConversationKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]models.ConversationKey, 0, len(t.inFlight))
	for key := range t.inFlight {
		keys = append(keys, key)
	}
	return keys
}

// Wait blocks until in-flight mark-as-read calls finish.
func (t *ReadTracker) Wait() {
	t.wg.Wait()
}

// limiter returns the per-conversation limiter. Caller holds t.mu.
func (t *ReadTracker) limiter(key models.ConversationKey) *rate.Limiter {
	if l, ok := t.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(t.config.MinInterval), 1)
	t.limiters[key] = l
	return l
}
