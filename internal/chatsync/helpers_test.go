package chatsync

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/testutil"
)

const (
	self  = int64(1)
	other = int64(2)
)

var base = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

// dm builds a direct message between self and other. Odd ids are sent by
// other.
func dm(id int64) models.Message {
	sender, recipient := self, other
	if id%2 == 1 {
		sender, recipient = other, self
	}
	at := base.Add(time.Duration(id) * time.Second)
	return models.Message{
		ID:        models.ServerID(id),
		SenderID:  sender,
		Recipient: models.UserRecipient(recipient),
		Content:   fmt.Sprintf("message %d", id),
		Type:      models.MessageNormal,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func dms(from, to int64) []models.Message {
	out := make([]models.Message, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, dm(id))
	}
	return out
}

func teamMsg(id, teamID int64) models.Message {
	msg := dm(id)
	msg.SenderID = other
	msg.Recipient = models.TeamRecipient(teamID)
	return msg
}

func ids(msgs []models.Message) []models.MessageID {
	out := make([]models.MessageID, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ID)
	}
	return out
}

func serverIDs(from, to int64) []models.MessageID {
	out := make([]models.MessageID, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, models.ServerID(id))
	}
	return out
}

// manualClock is a settable clock for presence and rate limiting.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock { return &manualClock{now: base} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc        *testutil.FakeService
	store      *chatcache.Store
	cursor     *SyncCursor
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := chatcache.New(self)
	cursor := NewSyncCursor(Cursor{})
	return &harness{
		svc:        testutil.NewFakeService(self),
		store:      store,
		cursor:     cursor,
		reconciler: NewReconciler(store, cursor, nil),
	}
}
