package chatcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
)

const self = int64(1)

func dm(id int64, from, to int64) models.Message {
	return models.Message{
		ID:        models.ServerID(id),
		SenderID:  from,
		Recipient: models.UserRecipient(to),
		Content:   "m",
		Type:      models.MessageNormal,
		CreatedAt: time.Unix(id, 0).UTC(),
	}
}

func ids(msgs []models.Message) []models.MessageID {
	out := make([]models.MessageID, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.ID
	}
	return out
}

func TestUpsertNeverDuplicates(t *testing.T) {
	store := New(self)
	key := models.UserKey(2)

	store.Upsert(dm(3, self, 2), dm(1, 2, self))
	store.Upsert(dm(3, self, 2), dm(2, self, 2))
	edited := dm(1, 2, self)
	edited.Content = "edited"
	store.Upsert(edited, edited)

	got := store.SelectConversation(key)
	require.Equal(t, []models.MessageID{models.ServerID(1), models.ServerID(2), models.ServerID(3)}, ids(got))
	require.Equal(t, "edited", got[0].Content)
	require.Equal(t, 3, store.Len())
}

func TestMergeReplacesLoadedAndInsertsFresh(t *testing.T) {
	store := New(self)
	store.Upsert(dm(1, 2, self), dm(2, self, 2))
	var changes []Change
	store.Subscribe(func(c Change) { changes = append(changes, c) })

	edited := dm(2, self, 2)
	edited.Content = "edited"
	outside := dm(9, 2, self)
	outside.Content = "not loaded"
	fresh := dm(3, 2, self)
	freshEdited := dm(3, 2, self)
	freshEdited.Content = "edited after send"

	res := store.Merge(
		[]models.Message{edited, outside, freshEdited},
		[]models.Message{dm(1, 2, self), fresh},
	)

	require.Equal(t, MergeResult{Added: 1, Updated: 1, Dropped: 1}, res)
	require.False(t, store.Has(models.ServerID(9)))
	got, _ := store.Get(models.ServerID(2))
	require.Equal(t, "edited", got.Content)
	got, _ = store.Get(models.ServerID(3))
	require.Equal(t, "edited after send", got.Content)
	got, _ = store.Get(models.ServerID(1))
	require.Equal(t, "m", got.Content)
	require.Len(t, changes, 1)
	require.ElementsMatch(t, []models.MessageID{models.ServerID(2), models.ServerID(3)}, changes[0].Upserted)
}

func TestMergeDropsModificationOfRemovedMessage(t *testing.T) {
	store := New(self)
	store.Upsert(dm(1, 2, self))
	require.True(t, store.Remove(models.ServerID(1)))

	edited := dm(1, 2, self)
	edited.Content = "stale edit"
	res := store.Merge([]models.Message{edited}, nil)

	require.Equal(t, MergeResult{Dropped: 1}, res)
	require.Zero(t, store.Len())
}

func TestSelectConversationPartitionsByViewer(t *testing.T) {
	store := New(self)
	team := dm(7, 3, 0)
	team.Recipient = models.TeamRecipient(9)
	store.Upsert(dm(5, self, 2), dm(6, 3, self), team, dm(4, 2, self))

	require.Equal(t, []models.MessageID{models.ServerID(4), models.ServerID(5)}, ids(store.SelectConversation(models.UserKey(2))))
	require.Equal(t, []models.MessageID{models.ServerID(6)}, ids(store.SelectConversation(models.UserKey(3))))
	require.Equal(t, []models.MessageID{models.ServerID(7)}, ids(store.SelectConversation(models.TeamKey(9))))
	require.Empty(t, store.SelectConversation(models.TeamKey(10)))
}

func TestReplaceLocalKeepsPosition(t *testing.T) {
	store := New(self)
	key := models.UserKey(2)
	store.Upsert(dm(10, self, 2), dm(11, 2, self))

	pending := dm(0, self, 2)
	pending.ID = models.LocalID(1)
	store.Upsert(pending)
	require.Equal(t, models.LocalID(1), store.SelectConversation(key)[2].ID)

	require.True(t, store.ReplaceLocal(models.LocalID(1), dm(12, self, 2)))

	got := store.SelectConversation(key)
	require.Equal(t, []models.MessageID{models.ServerID(10), models.ServerID(11), models.ServerID(12)}, ids(got))
	require.False(t, store.Has(models.LocalID(1)))
}

func TestReplaceLocalAfterPollMergedServerCopy(t *testing.T) {
	store := New(self)
	pending := dm(0, self, 2)
	pending.ID = models.LocalID(4)
	store.Upsert(pending, dm(20, self, 2))

	require.True(t, store.ReplaceLocal(models.LocalID(4), dm(20, self, 2)))
	require.Equal(t, []models.MessageID{models.ServerID(20)}, store.IDs())

	require.False(t, store.ReplaceLocal(models.LocalID(4), dm(20, self, 2)))
	require.False(t, store.ReplaceLocal(models.LocalID(5), pending))
	require.Equal(t, 1, store.Len())
}

func TestRemove(t *testing.T) {
	store := New(self)
	store.Upsert(dm(1, self, 2))

	require.True(t, store.Remove(models.ServerID(1)))
	require.False(t, store.Remove(models.ServerID(1)))
	require.Zero(t, store.Len())
}

func TestParentMissingIsNotFound(t *testing.T) {
	store := New(self)
	parent := int64(1)
	reply := dm(2, self, 2)
	reply.ParentID = &parent
	store.Upsert(reply)

	_, ok := store.Parent(reply)
	require.False(t, ok)

	store.Upsert(dm(1, 2, self))
	got, ok := store.Parent(reply)
	require.True(t, ok)
	require.Equal(t, models.ServerID(1), got.ID)

	_, ok = store.Parent(dm(3, self, 2))
	require.False(t, ok)
}

func TestServerIDBounds(t *testing.T) {
	store := New(self)
	pending := dm(0, self, 2)
	pending.ID = models.LocalID(99)
	store.Upsert(dm(40, self, 2), dm(12, 2, self), dm(90, 3, self), pending)

	oldest, ok := store.OldestServerID(models.UserKey(2))
	require.True(t, ok)
	require.Equal(t, int64(12), oldest)
	require.Equal(t, int64(90), store.NewestServerID())

	_, ok = store.OldestServerID(models.TeamKey(1))
	require.False(t, ok)
}

func TestUnreadIndex(t *testing.T) {
	store := New(self)
	store.SetUnreadCounts(models.UnreadCounts{"user:2": 3, "team:4": 1, "team:5": 0})

	require.Equal(t, 3, store.Unread(models.UserKey(2)))
	require.Equal(t, 4, store.TotalUnread())

	require.True(t, store.ZeroUnread(models.UserKey(2)))
	require.False(t, store.ZeroUnread(models.UserKey(2)))
	require.Equal(t, models.UnreadCounts{"team:4": 1}, store.UnreadCounts())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := New(self)
	var changes []Change
	cancel := store.Subscribe(func(c Change) {
		// Listeners run outside the lock and may read the store.
		_ = store.Len()
		changes = append(changes, c)
	})

	pending := dm(0, self, 2)
	pending.ID = models.LocalID(1)
	store.Upsert(pending)
	store.ReplaceLocal(models.LocalID(1), dm(3, self, 2))
	store.ZeroUnread(models.UserKey(2))
	store.Remove(models.ServerID(3))
	cancel()
	store.Upsert(dm(4, self, 2))

	require.Len(t, changes, 3)
	require.Equal(t, []models.MessageID{models.LocalID(1)}, changes[0].Upserted)
	require.Equal(t, models.ServerID(3), changes[1].Replaced[models.LocalID(1)])
	require.Equal(t, []models.MessageID{models.ServerID(3)}, changes[2].Removed)
}
