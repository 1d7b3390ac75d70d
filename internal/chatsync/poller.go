package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// Poller errors.
var (
	ErrPollerAlreadyRunning = errors.New("poller already running")
	ErrPollerNotRunning     = errors.New("poller not running")
	ErrTickInFlight         = errors.New("previous poll tick still in flight")
)

// PollerConfig contains configuration for the poller.
type PollerConfig struct {
	// Interval is the fixed tick interval.
	// Default: 5s
	Interval time.Duration
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 5 * time.Second}
}

// Poller refreshes unread counts and feeds new and modified messages to the
// reconciler on a fixed interval. A failing tick never stops the loop.
type Poller struct {
	config     PollerConfig
	svc        msgapi.Service
	store      *chatcache.Store
	cursor     *SyncCursor
	reconciler *Reconciler
	reads      *ReadTracker
	active     func() (models.ConversationKey, bool)
	metrics    *Metrics
	now        func() time.Time
	logger     zerolog.Logger

	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	wake     chan struct{}
	inFlight atomic.Bool
	lastTick time.Time
}

// NewPoller creates a poller. active reports the conversation the user has
// open; reads may be nil.
func NewPoller(config PollerConfig, svc msgapi.Service, store *chatcache.Store, cursor *SyncCursor,
	reconciler *Reconciler, reads *ReadTracker, active func() (models.ConversationKey, bool), metrics *Metrics) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultPollerConfig().Interval
	}
	if active == nil {
		active = func() (models.ConversationKey, bool) { return "", false }
	}
	return &Poller{
		config:     config,
		svc:        svc,
		store:      store,
		cursor:     cursor,
		reconciler: reconciler,
		reads:      reads,
		active:     active,
		metrics:    metrics,
		now:        time.Now,
		logger:     logging.Component("chatsync-poller"),
		wake:       make(chan struct{}, 1),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerAlreadyRunning
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.logger.Info().Dur("interval", p.config.Interval).Msg("poller starting")

	p.wg.Add(1)
	go p.runLoop()

	return nil
}

// Stop halts the polling loop and waits for an in-flight tick.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}

	p.logger.Info().Msg("poller stopping")
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("poller stopped")
	return nil
}

// IsRunning returns true if the poller is running.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PollNow requests an immediate tick. Requests made while a tick is pending
// collapse into one.
func (p *Poller) PollNow() error {
	if !p.IsRunning() {
		return ErrPollerNotRunning
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// LastTick returns the start time of the last completed tick.
func (p *Poller) LastTick() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastTick, !p.lastTick.IsZero()
}

func (p *Poller) runLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		if err := p.Tick(p.ctx); err != nil && !errors.Is(err, ErrTickInFlight) && p.ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("poll tick failed")
		}
	}
}

// Tick runs one poll cycle. It returns ErrTickInFlight without doing
// anything when another tick has not finished. Step errors are joined; a
// failed step does not prevent the remaining ones.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.skipped()
		p.logger.Debug().Msg("skipping tick, previous tick still in flight")
		return ErrTickInFlight
	}
	defer p.inFlight.Store(false)

	started := p.now()
	var errs []error

	counts, err := p.svc.UnreadCountsDetailed(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("unread counts: %w", err))
	} else {
		p.store.SetUnreadCounts(p.maskInFlight(counts))
	}

	cur := p.cursor.Snapshot()
	var batch Batch
	batch.PollStartedAt = started
	newOK, modOK := true, true

	batch.New, err = p.svc.ListMessages(ctx, msgapi.ListQuery{SinceID: cur.MaxSeenID})
	if err != nil {
		newOK = false
		errs = append(errs, fmt.Errorf("new messages: %w", err))
	}
	batch.Modified, err = p.svc.ListModifiedMessages(ctx, cur.LastModifiedPollAt)
	if err != nil {
		modOK = false
		errs = append(errs, fmt.Errorf("modified messages: %w", err))
	}

	switch {
	case newOK && modOK:
		if !batch.Empty() {
			res := p.reconciler.Apply(batch)
			p.logger.Debug().
				Int("added", res.Added).
				Int("updated", res.Updated).
				Int64("max_seen_id", res.Cursor.MaxSeenID).
				Msg("reconciled poll batch")
		} else {
			p.cursor.Advance(0, started)
		}
	case newOK && len(batch.New) > 0:
		// Keep the modified-since bound where it was so the failed query is
		// repeated next tick.
		p.reconciler.Apply(Batch{New: batch.New})
	}

	if p.reads != nil {
		if key, ok := p.active(); ok {
			p.reads.Evaluate(ctx, key)
		}
	}

	p.metrics.cache(p.store.Len(), p.store.TotalUnread())

	p.mu.Lock()
	p.lastTick = started
	p.mu.Unlock()

	result := "ok"
	if len(errs) > 0 {
		result = "error"
	}
	p.metrics.tick(result, p.now().Sub(started).Seconds())
	return errors.Join(errs...)
}

// maskInFlight zeroes conversations whose mark-as-read call is outstanding.
// The snapshot may predate the call and would bring the badge back.
func (p *Poller) maskInFlight(counts models.UnreadCounts) models.UnreadCounts {
	if p.reads == nil {
		return counts
	}
	pending := p.reads.InFlight()
	if len(pending) == 0 {
		return counts
	}
	masked := counts.Clone()
	for _, key := range pending {
		delete(masked, key)
	}
	return masked
}
