package chatsync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/testutil"
)

func newTestPoller(h *harness, interval time.Duration) *Poller {
	p := NewPoller(PollerConfig{Interval: interval}, h.svc, h.store, h.cursor, h.reconciler, nil, nil, nil)
	p.now = h.svc.Now
	return p
}

func TestTickAppliesNewModifiedAndUnread(t *testing.T) {
	h := newHarness(t)
	h.svc.Seed(dms(1, 3)...)
	h.svc.SetUnread(models.UnreadCounts{models.UserKey(other): 2})
	p := newTestPoller(h, time.Hour)

	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, serverIDs(1, 3), h.store.IDs())
	assert.Equal(t, int64(3), h.cursor.Snapshot().MaxSeenID)
	assert.Equal(t, 2, h.store.Unread(models.UserKey(other)))

	h.svc.Modify(2, func(m *models.Message) { m.Content = "edited" })
	h.svc.Seed(dm(4))
	require.NoError(t, p.Tick(context.Background()))

	got, _ := h.store.Get(models.ServerID(2))
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, int64(4), h.cursor.Snapshot().MaxSeenID)

	queries := h.svc.Queries()
	assert.Equal(t, int64(3), queries[len(queries)-1].SinceID)
	_, ok := p.LastTick()
	assert.True(t, ok)
}

func TestTickSkipsWhilePreviousInFlight(t *testing.T) {
	h := newHarness(t)
	p := newTestPoller(h, time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool
	h.svc.BeforeCall = func(method string) {
		if method == testutil.MethodUnread && blocked.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Tick(context.Background()) }()
	<-started

	require.ErrorIs(t, p.Tick(context.Background()), ErrTickInFlight)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.svc.Calls(testutil.MethodUnread))
	assert.Equal(t, 1, h.svc.Calls(testutil.MethodList))
}

func TestTickContinuesPastFailedSteps(t *testing.T) {
	h := newHarness(t)
	h.svc.Seed(dms(1, 2)...)
	h.svc.Fail(testutil.MethodListModified, errors.New("timeout"))
	h.svc.Fail(testutil.MethodUnread, errors.New("timeout"))
	p := newTestPoller(h, time.Hour)

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified messages")
	assert.Contains(t, err.Error(), "unread counts")

	assert.Equal(t, serverIDs(1, 2), h.store.IDs(), "new messages still land")
	assert.True(t, h.cursor.Snapshot().LastModifiedPollAt.IsZero(), "modified bound must not advance")

	h.svc.Fail(testutil.MethodListModified, nil)
	h.svc.Fail(testutil.MethodUnread, nil)
	require.NoError(t, p.Tick(context.Background()))
	assert.Equal(t, h.svc.Now(), h.cursor.Snapshot().LastModifiedPollAt)
}

func TestTickWithNothingNewAdvancesModifiedBound(t *testing.T) {
	h := newHarness(t)
	p := newTestPoller(h, time.Hour)

	require.NoError(t, p.Tick(context.Background()))

	cur := h.cursor.Snapshot()
	assert.Zero(t, cur.MaxSeenID)
	assert.Equal(t, h.svc.Now(), cur.LastModifiedPollAt)
}

func TestPollerStartStop(t *testing.T) {
	h := newHarness(t)
	h.svc.Seed(dm(1))
	p := newTestPoller(h, 10*time.Millisecond)

	require.ErrorIs(t, p.PollNow(), ErrPollerNotRunning)
	require.NoError(t, p.Start(context.Background()))
	require.ErrorIs(t, p.Start(context.Background()), ErrPollerAlreadyRunning)
	require.True(t, p.IsRunning())
	require.NoError(t, p.PollNow())

	require.Eventually(t, func() bool { return h.store.Has(models.ServerID(1)) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	require.ErrorIs(t, p.Stop(), ErrPollerNotRunning)
	require.False(t, p.IsRunning())
}

func TestPollerEvaluatesActiveConversation(t *testing.T) {
	h := newHarness(t)
	h.svc.Seed(dm(1))
	h.svc.SetUnread(models.UnreadCounts{models.UserKey(other): 1})

	clock := newManualClock()
	reads := NewReadTracker(ReadTrackerConfig{}, h.svc, h.store, nil)
	reads.now = clock.Now
	reads.SetVisible(true)
	reads.RecordActivity(ActivityKeyboard)

	active := func() (models.ConversationKey, bool) { return models.UserKey(other), true }
	p := NewPoller(PollerConfig{}, h.svc, h.store, h.cursor, h.reconciler, reads, active, nil)

	require.NoError(t, p.Tick(context.Background()))
	reads.Wait()

	assert.Equal(t, []models.Recipient{models.UserRecipient(other)}, h.svc.ReadMarks())
	assert.Zero(t, h.store.Unread(models.UserKey(other)))
}

func TestTickKeepsInFlightConversationRead(t *testing.T) {
	h := newHarness(t)
	key := models.UserKey(other)
	h.svc.Seed(dm(1))
	h.svc.SetUnread(models.UnreadCounts{key: 1, models.TeamKey(9): 2})
	h.store.SetUnreadCounts(models.UnreadCounts{key: 1})

	release := make(chan struct{})
	var released atomic.Bool
	unblock := func() {
		if released.CompareAndSwap(false, true) {
			close(release)
		}
	}
	t.Cleanup(unblock)
	h.svc.BeforeCall = func(method string) {
		if method == testutil.MethodMarkRead {
			<-release
		}
	}

	clock := newManualClock()
	reads := NewReadTracker(ReadTrackerConfig{}, h.svc, h.store, nil)
	reads.now = clock.Now
	reads.SetVisible(true)
	reads.RecordActivity(ActivityKeyboard)
	require.True(t, reads.Evaluate(context.Background(), key))
	require.Equal(t, []models.ConversationKey{key}, reads.InFlight())

	active := func() (models.ConversationKey, bool) { return key, true }
	p := NewPoller(PollerConfig{}, h.svc, h.store, h.cursor, h.reconciler, reads, active, nil)

	require.NoError(t, p.Tick(context.Background()))
	assert.Zero(t, h.store.Unread(key), "server snapshot predates the pending mark-as-read")
	assert.Equal(t, 2, h.store.Unread(models.TeamKey(9)))

	unblock()
	reads.Wait()
	assert.Empty(t, reads.InFlight())

	require.NoError(t, p.Tick(context.Background()))
	assert.Zero(t, h.store.Unread(key))
	assert.Equal(t, 1, h.svc.Calls(testutil.MethodMarkRead))
}
