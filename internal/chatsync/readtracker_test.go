package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/testutil"
)

func newTestTracker(h *harness) (*ReadTracker, *manualClock) {
	clock := newManualClock()
	reads := NewReadTracker(ReadTrackerConfig{}, h.svc, h.store, nil)
	reads.now = clock.Now
	return reads, clock
}

func TestEvaluateRequiresPresence(t *testing.T) {
	h := newHarness(t)
	key := models.UserKey(other)
	h.store.SetUnreadCounts(models.UnreadCounts{key: 3})
	reads, clock := newTestTracker(h)

	assert.False(t, reads.Evaluate(context.Background(), key), "hidden surface")

	reads.SetVisible(true)
	assert.False(t, reads.Evaluate(context.Background(), key), "no activity yet")

	reads.RecordActivity(ActivityPointer)
	clock.Advance(61 * time.Second)
	assert.False(t, reads.Evaluate(context.Background(), key), "idle")
	assert.Equal(t, 3, h.store.Unread(key))
	assert.Zero(t, h.svc.Calls(testutil.MethodMarkRead))

	reads.RecordActivity(ActivityScroll)
	require.True(t, reads.Evaluate(context.Background(), key))
	assert.Zero(t, h.store.Unread(key), "counter is zeroed before the call completes")
	reads.Wait()

	assert.Equal(t, []models.Recipient{models.UserRecipient(other)}, h.svc.ReadMarks())
	assert.False(t, reads.Evaluate(context.Background(), key), "nothing unread")
	assert.Equal(t, 1, h.svc.Calls(testutil.MethodMarkRead))
}

func TestEvaluateRetriesAfterFailure(t *testing.T) {
	h := newHarness(t)
	key := models.TeamKey(9)
	h.store.SetUnreadCounts(models.UnreadCounts{key: 2})
	h.svc.Fail(testutil.MethodMarkRead, errors.New("unavailable"))
	reads, clock := newTestTracker(h)
	reads.SetVisible(true)
	reads.RecordActivity(ActivityTouch)

	require.True(t, reads.Evaluate(context.Background(), key))
	reads.Wait()
	assert.Empty(t, h.svc.ReadMarks())

	// The next poll reports the conversation unread again.
	h.store.SetUnreadCounts(models.UnreadCounts{key: 2})
	h.svc.Fail(testutil.MethodMarkRead, nil)
	assert.False(t, reads.Evaluate(context.Background(), key), "calls are spaced")

	clock.Advance(3 * time.Second)
	require.True(t, reads.Evaluate(context.Background(), key))
	reads.Wait()
	assert.Equal(t, []models.Recipient{models.TeamRecipient(9)}, h.svc.ReadMarks())
	assert.Equal(t, 2, h.svc.Calls(testutil.MethodMarkRead))
}

func TestEvaluateKeepsOneCallInFlightPerConversation(t *testing.T) {
	h := newHarness(t)
	key := models.UserKey(other)
	reads, clock := newTestTracker(h)
	reads.SetVisible(true)
	reads.RecordActivity(ActivityKeyboard)

	release := make(chan struct{})
	h.svc.BeforeCall = func(method string) {
		if method == testutil.MethodMarkRead {
			<-release
		}
	}

	h.store.SetUnreadCounts(models.UnreadCounts{key: 1})
	require.True(t, reads.Evaluate(context.Background(), key))

	h.store.SetUnreadCounts(models.UnreadCounts{key: 1})
	clock.Advance(5 * time.Second)
	assert.False(t, reads.Evaluate(context.Background(), key))

	close(release)
	reads.Wait()
	assert.Equal(t, 1, h.svc.Calls(testutil.MethodMarkRead))
}
