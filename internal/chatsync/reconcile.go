package chatsync

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
)

// Batch is the result of one poll cycle.
type Batch struct {
	// New holds messages with ids above the cursor.
	New []models.Message

	// Modified holds messages changed since the last poll.
	Modified []models.Message

	// PollStartedAt becomes the next modified-since bound.
	PollStartedAt time.Time
}

// Empty reports whether the batch carries no messages.
func (b Batch) Empty() bool {
	return len(b.New) == 0 && len(b.Modified) == 0
}

// Result summarizes a reconciliation.
type Result struct {
	Added           int
	Updated         int
	DroppedModified int
	Duplicates      int
	Cursor          Cursor
}

// Reconciler merges server-reported messages into the cache. It is the only
// path through which polled or paged data reaches the store.
type Reconciler struct {
	store   *chatcache.Store
	cursor  *SyncCursor
	metrics *Metrics
	logger  zerolog.Logger
}

// NewReconciler creates a reconciler over store and cursor.
func NewReconciler(store *chatcache.Store, cursor *SyncCursor, metrics *Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		cursor:  cursor,
		metrics: metrics,
		logger:  logging.Component("chatsync-reconcile"),
	}
}

// Apply merges a poll batch and advances the cursor.
//
// Modified messages replace cached copies; a modification to a message that
// is not loaded is dropped. New messages already cached are skipped. Both
// halves are de-duplicated by id and land in the store in one critical
// section, so a concurrent Remove is never undone by a stale copy.
func (r *Reconciler) Apply(b Batch) Result {
	var res Result

	modified, modifiedDups := dedupe(serverOnly(b.Modified))
	fresh, freshDups := dedupe(serverOnly(b.New))
	res.Duplicates = modifiedDups + freshDups

	var maxNew int64
	for _, msg := range fresh {
		if n, _ := msg.ID.Server(); n > maxNew {
			maxNew = n
		}
	}

	merged := r.store.Merge(modified, fresh)
	res.Added = merged.Added
	res.Updated = merged.Updated
	res.DroppedModified = merged.Dropped

	res.Cursor = r.cursor.Advance(maxNew, b.PollStartedAt)

	r.metrics.reconciled("new", res.Added)
	r.metrics.reconciled("modified", res.Updated)
	r.metrics.reconciled("dropped_modified", res.DroppedModified)
	r.metrics.reconciled("duplicate", res.Duplicates)

	if res.DroppedModified > 0 {
		r.logger.Debug().Int("count", res.DroppedModified).Msg("ignored modifications outside the loaded window")
	}
	return res
}

// MergeWindow upserts a bounded fetch such as a history page or a
// conversation refresh. It does not move the cursor: the window says nothing
// about other conversations between the cursor and its ids.
func (r *Reconciler) MergeWindow(msgs []models.Message) int {
	writes, dups := dedupe(serverOnly(msgs))
	r.store.Upsert(writes...)
	r.metrics.reconciled("window", len(writes))
	r.metrics.reconciled("duplicate", dups)
	return len(writes)
}

// ReplaceLocal swaps an acknowledged placeholder for its server record.
func (r *Reconciler) ReplaceLocal(local models.MessageID, msg models.Message) bool {
	return r.store.ReplaceLocal(local, msg)
}

func serverOnly(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if _, ok := msg.ID.Server(); ok {
			out = append(out, msg)
		}
	}
	return out
}

// dedupe keeps the last record per id, at the position of its first
// occurrence.
func dedupe(msgs []models.Message) ([]models.Message, int) {
	index := make(map[models.MessageID]int, len(msgs))
	out := make([]models.Message, 0, len(msgs))
	dups := 0
	for _, msg := range msgs {
		if i, ok := index[msg.ID]; ok {
			out[i] = msg
			dups++
			continue
		}
		index[msg.ID] = len(out)
		out = append(out, msg)
	}
	return out, dups
}
