package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

// DefaultPageSize is the history page size.
const DefaultPageSize = 50

// Paginator loads older history one page at a time, keyed by the oldest
// loaded id of each conversation.
type Paginator struct {
	svc        msgapi.Service
	store      *chatcache.Store
	reconciler *Reconciler
	pageSize   int
	metrics    *Metrics
	logger     zerolog.Logger

	mu      sync.Mutex
	hasMore map[models.ConversationKey]bool
	loading map[models.ConversationKey]bool
}

// NewPaginator creates a paginator. pageSize <= 0 selects DefaultPageSize.
func NewPaginator(svc msgapi.Service, store *chatcache.Store, reconciler *Reconciler, pageSize int, metrics *Metrics) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		svc:        svc,
		store:      store,
		reconciler: reconciler,
		pageSize:   pageSize,
		metrics:    metrics,
		logger:     logging.Component("chatsync-paginator"),
		hasMore:    make(map[models.ConversationKey]bool),
		loading:    make(map[models.ConversationKey]bool),
	}
}

// PageSize returns the configured page size.
func (p *Paginator) PageSize() int { return p.pageSize }

// HasMore reports whether older history may exist. Conversations start with
// more history assumed.
func (p *Paginator) HasMore(key models.ConversationKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	more, ok := p.hasMore[key]
	return !ok || more
}

// Reset forgets the exhaustion state of a conversation.
func (p *Paginator) Reset(key models.ConversationKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.hasMore, key)
}

// noteWindow records a conversation window fetched outside LoadOlder. A short
// window means the whole history is loaded.
func (p *Paginator) noteWindow(key models.ConversationKey, fetched int) {
	if fetched >= p.pageSize {
		return
	}
	p.mu.Lock()
	p.hasMore[key] = false
	p.mu.Unlock()
}

// LoadOlder fetches the page preceding the oldest loaded message and merges
// it. It reports whether anything was appended. It is a no-op when nothing is
// loaded for key, when history is exhausted, or while another load for key
// is running.
func (p *Paginator) LoadOlder(ctx context.Context, key models.ConversationKey) (bool, error) {
	recipient, err := key.Recipient()
	if err != nil {
		return false, err
	}
	oldest, ok := p.store.OldestServerID(key)
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	if more, seen := p.hasMore[key]; (seen && !more) || p.loading[key] {
		p.mu.Unlock()
		return false, nil
	}
	p.loading[key] = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.loading, key)
		p.mu.Unlock()
	}()

	page, err := p.svc.ListMessages(ctx, msgapi.ListQuery{
		BeforeID:  oldest,
		Recipient: &recipient,
		Limit:     p.pageSize,
	})
	if err != nil {
		return false, fmt.Errorf("load older %s: %w", key, err)
	}
	p.metrics.page()

	exhausted := len(page) < p.pageSize
	p.mu.Lock()
	p.hasMore[key] = !exhausted
	p.mu.Unlock()

	// Pages arrive newest first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	appended := p.reconciler.MergeWindow(page)

	p.logger.Debug().
		Str("conversation", string(key)).
		Int64("before_id", oldest).
		Int("fetched", len(page)).
		Bool("exhausted", exhausted).
		Msg("loaded older history")
	return appended > 0, nil
}

// LoadOlderAnchored wraps LoadOlder in a scroll anchor so the viewport keeps
// showing the same messages after older ones are prepended.
func (p *Paginator) LoadOlderAnchored(ctx context.Context, key models.ConversationKey, v Viewport) (bool, error) {
	anchor := CaptureAnchor(v)
	appended, err := p.LoadOlder(ctx, key)
	if err != nil || !appended {
		return appended, err
	}
	anchor.Restore(v)
	return true, nil
}
