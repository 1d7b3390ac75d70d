// Package chatsync keeps the client message cache eventually consistent with
// the message-store collaborator: reconciliation, optimistic sends, polling,
// history paging and read tracking.
package chatsync

import (
	"sync"
	"time"
)

// Cursor is a snapshot of the sync position.
type Cursor struct {
	// MaxSeenID is the highest server id ever merged from the new-message stream.
	MaxSeenID int64

	// LastModifiedPollAt is the start time of the last successful poll.
	LastModifiedPollAt time.Time
}

// SyncCursor bounds the next poll's queries. It is process-local and only
// moves forward.
type SyncCursor struct {
	mu  sync.RWMutex
	cur Cursor
}

// NewSyncCursor creates a cursor at the given position.
func NewSyncCursor(start Cursor) *SyncCursor {
	return &SyncCursor{cur: start}
}

// Snapshot returns the current position.
func (c *SyncCursor) Snapshot() Cursor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Advance moves the cursor forward. Smaller ids and earlier timestamps are
// ignored.
func (c *SyncCursor) Advance(maxSeenID int64, pollStartedAt time.Time) Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxSeenID > c.cur.MaxSeenID {
		c.cur.MaxSeenID = maxSeenID
	}
	if pollStartedAt.After(c.cur.LastModifiedPollAt) {
		c.cur.LastModifiedPollAt = pollStartedAt
	}
	return c.cur
}
