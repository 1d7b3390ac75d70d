// Package render turns cached messages into display text. Content is stored
// as received and sanitized here.
package render

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"github.com/tOgg1/casechat/internal/models"
)

const excerptLength = 40

var (
	ugc    = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

// HTML returns content with unsafe markup removed.
func HTML(content string) string {
	return ugc.Sanitize(content)
}

// Text strips all markup and collapses whitespace for terminal output.
func Text(content string) string {
	plain := html.UnescapeString(strict.Sanitize(content))
	return strings.Join(strings.Fields(plain), " ")
}

// Excerpt shortens Text(content) to at most limit runes.
func Excerpt(content string, limit int) string {
	text := Text(content)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}

// ParentResolver finds the parent of a reply among loaded messages.
// chatcache.Store implements it.
type ParentResolver interface {
	Parent(msg models.Message) (models.Message, bool)
}

// ReplyState describes how a reply reference resolved.
type ReplyState int

const (
	// ReplyNone means the message is not a reply.
	ReplyNone ReplyState = iota
	// ReplyKnown means the parent is loaded.
	ReplyKnown
	// ReplyUnknown means the parent is outside the loaded window or gone.
	ReplyUnknown
)

// Reply is a resolved parent reference.
type Reply struct {
	State    ReplyState
	ParentID int64
	Parent   models.Message
}

// ResolveReply looks up msg's parent. A dangling reference is a normal
// outcome, never an error.
func ResolveReply(msg models.Message, parents ParentResolver) Reply {
	if msg.ParentID == nil {
		return Reply{State: ReplyNone}
	}
	reply := Reply{State: ReplyUnknown, ParentID: *msg.ParentID}
	if parents == nil {
		return reply
	}
	if parent, ok := parents.Parent(msg); ok {
		reply.State = ReplyKnown
		reply.Parent = parent
	}
	return reply
}

func (r Reply) String() string {
	switch r.State {
	case ReplyKnown:
		return fmt.Sprintf("↪ #%d %q", r.ParentID, Excerpt(r.Parent.Content, excerptLength))
	case ReplyUnknown:
		return "↪ unknown message"
	default:
		return ""
	}
}

// Options controls Line output.
type Options struct {
	// SelfID labels the session user's messages as "you".
	SelfID int64

	// Now anchors relative times. Default: time.Now.
	Now func() time.Time

	// Names maps user ids to display names. Default: "user <id>".
	Names func(userID int64) string

	// Parents resolves reply references.
	Parents ParentResolver
}

func (o Options) name(userID int64) string {
	if userID == o.SelfID && o.SelfID != 0 {
		return "you"
	}
	if o.Names != nil {
		if name := o.Names(userID); name != "" {
			return name
		}
	}
	return "user " + strconv.FormatInt(userID, 10)
}

// Line formats a message on one line for terminal surfaces.
func Line(msg models.Message, opts Options) string {
	now := time.Now()
	if opts.Now != nil {
		now = opts.Now()
	}

	var b strings.Builder
	if msg.Pending() {
		b.WriteString("  …  ")
	} else {
		b.WriteString("#")
		b.WriteString(msg.ID.String())
		b.WriteString(" ")
	}
	b.WriteString(opts.name(msg.SenderID))
	if !msg.CreatedAt.IsZero() {
		b.WriteString(" (")
		b.WriteString(humanize.RelTime(msg.CreatedAt, now, "ago", "from now"))
		b.WriteString(")")
	}
	if msg.Type != "" && msg.Type != models.MessageNormal {
		b.WriteString(" [")
		b.WriteString(string(msg.Type))
		b.WriteString("]")
	}
	b.WriteString(": ")

	if reply := ResolveReply(msg, opts.Parents); reply.State != ReplyNone {
		b.WriteString(reply.String())
		b.WriteString(" ")
	}
	b.WriteString(Text(msg.Content))
	if msg.LinkURL != "" {
		title := Text(msg.LinkTitle)
		if title == "" {
			title = "link"
		}
		fmt.Fprintf(&b, " <%s: %s>", title, msg.LinkURL)
	}
	if msg.SenderID == opts.SelfID && msg.ReadByCount > 0 {
		fmt.Fprintf(&b, " ✓%d", msg.ReadByCount)
	}
	return b.String()
}

// UnreadSummary formats unread counts as "user:2 (3), team:7 (1)".
func UnreadSummary(counts models.UnreadCounts) string {
	keys := counts.Keys()
	if len(keys) == 0 {
		return "no unread messages"
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s (%s)", key, humanize.Comma(int64(counts[key]))))
	}
	return strings.Join(parts, ", ")
}
