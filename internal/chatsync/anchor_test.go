package chatsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrollAnchorOffset(t *testing.T) {
	tests := []struct {
		name      string
		anchor    ScrollAnchor
		newHeight int
		want      int
	}{
		{name: "at top", anchor: ScrollAnchor{PreviousHeight: 1000, PreviousScrollTop: 0}, newHeight: 1400, want: 400},
		{name: "scrolled", anchor: ScrollAnchor{PreviousHeight: 1000, PreviousScrollTop: 30}, newHeight: 1400, want: 430},
		{name: "unchanged", anchor: ScrollAnchor{PreviousHeight: 1000, PreviousScrollTop: 12}, newHeight: 1000, want: 12},
		{name: "shrunk", anchor: ScrollAnchor{PreviousHeight: 1000, PreviousScrollTop: 0}, newHeight: 600, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.anchor.Offset(tt.newHeight))
		})
	}
}

type staticViewport struct{ height, top int }

func (v *staticViewport) ContentHeight() int { return v.height }
func (v *staticViewport) ScrollTop() int     { return v.top }
func (v *staticViewport) SetScrollTop(n int) { v.top = n }

func TestScrollAnchorRestore(t *testing.T) {
	v := &staticViewport{height: 1000}
	anchor := CaptureAnchor(v)
	v.height = 1400

	anchor.Restore(v)

	assert.Equal(t, 400, v.top)
}
