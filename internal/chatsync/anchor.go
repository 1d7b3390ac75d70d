package chatsync

// Viewport is a scroll container showing a conversation.
type Viewport interface {
	// ContentHeight returns the height of the rendered content. It must
	// reflect inserted messages by the time Restore runs.
	ContentHeight() int
	ScrollTop() int
	SetScrollTop(int)
}

// ScrollAnchor is a measurement taken before older messages are inserted.
type ScrollAnchor struct {
	PreviousHeight    int
	PreviousScrollTop int
}

// CaptureAnchor measures v before insertion.
func CaptureAnchor(v Viewport) ScrollAnchor {
	return ScrollAnchor{PreviousHeight: v.ContentHeight(), PreviousScrollTop: v.ScrollTop()}
}

// Offset returns the scroll position that keeps the same content in view
// once the content has grown to newHeight.
func (a ScrollAnchor) Offset(newHeight int) int {
	top := newHeight - a.PreviousHeight + a.PreviousScrollTop
	if top < 0 {
		return 0
	}
	return top
}

// Restore measures v after insertion and scrolls it back to the anchored
// content.
func (a ScrollAnchor) Restore(v Viewport) {
	v.SetScrollTop(a.Offset(v.ContentHeight()))
}
