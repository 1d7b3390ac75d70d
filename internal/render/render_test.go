package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/chatcache"
	"github.com/tOgg1/casechat/internal/models"
)

func TestSanitize(t *testing.T) {
	dirty := `<p onclick="steal()">Offer <b>accepted</b><script>alert(1)</script></p>`

	assert.Equal(t, `<p>Offer <b>accepted</b></p>`, HTML(dirty))
	assert.Equal(t, "Offer accepted", Text(dirty))
	assert.Equal(t, "Tom & Jerry", Text("Tom &amp; <i>Jerry</i>"))
	assert.Equal(t, "a b c", Text("a\n\n b \t c"))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("<em>short</em>", 10))
	assert.Equal(t, "abcd…", Excerpt("abcdefghij", 5))
	assert.Equal(t, "abcdefghij", Excerpt("abcdefghij", 0))
}

func TestResolveReplyDegradesToUnknown(t *testing.T) {
	store := chatcache.New(1)
	parentID, missingID := int64(5), int64(99)
	store.Upsert(models.Message{
		ID: models.ServerID(5), SenderID: 2, Recipient: models.UserRecipient(1), Content: "see the <b>draft</b>",
	})

	known := ResolveReply(models.Message{ParentID: &parentID}, store)
	require.Equal(t, ReplyKnown, known.State)
	assert.Equal(t, `↪ #5 "see the draft"`, known.String())

	unknown := ResolveReply(models.Message{ParentID: &missingID}, store)
	assert.Equal(t, ReplyUnknown, unknown.State)
	assert.Equal(t, "↪ unknown message", unknown.String())

	assert.Equal(t, ReplyUnknown, ResolveReply(models.Message{ParentID: &parentID}, nil).State)
	assert.Equal(t, ReplyNone, ResolveReply(models.Message{}, store).State)
}

func TestLine(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	missing := int64(3)
	opts := Options{
		SelfID: 1,
		Now:    func() time.Time { return now },
		Names: func(id int64) string {
			if id == 2 {
				return "bob"
			}
			return ""
		},
		Parents: chatcache.New(1),
	}

	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{
			name: "incoming",
			msg: models.Message{ID: models.ServerID(12), SenderID: 2, Content: "hello",
				CreatedAt: now.Add(-3 * time.Minute)},
			want: "#12 bob (3 minutes ago): hello",
		},
		{
			name: "own with readers and type",
			msg: models.Message{ID: models.ServerID(13), SenderID: 1, Content: "sign here",
				Type: models.MessageActionRequired, ReadByCount: 2},
			want: "#13 you [ACTION_REQUIRED]: sign here ✓2",
		},
		{
			name: "pending reply to unloaded parent",
			msg:  models.Message{ID: models.LocalID(1), SenderID: 1, Content: "ok", ParentID: &missing},
			want: "  …  you: ↪ unknown message ok",
		},
		{
			name: "unknown sender with link",
			msg: models.Message{ID: models.ServerID(14), SenderID: 7, Content: "deed",
				LinkURL: "https://example.com/deed"},
			want: "#14 user 7: deed <link: https://example.com/deed>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Line(tt.msg, opts))
		})
	}
}

func TestUnreadSummary(t *testing.T) {
	assert.Equal(t, "no unread messages", UnreadSummary(nil))
	assert.Equal(t, "team:7 (1,200), user:2 (3)",
		UnreadSummary(models.UnreadCounts{models.UserKey(2): 3, models.TeamKey(7): 1200}))
}
