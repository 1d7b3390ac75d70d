package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
)

const self = int64(1)

func TestRoutePostsToMostRecentlyFocusedSurface(t *testing.T) {
	hub := NewHub()
	var gotA, gotB []Envelope
	focusedB := 0

	a, _, err := hub.Register(func(env Envelope) error { gotA = append(gotA, env); return nil }, nil)
	require.NoError(t, err)
	b, _, err := hub.Register(func(env Envelope) error { gotB = append(gotB, env); return nil }, func() { focusedB++ })
	require.NoError(t, err)
	require.NoError(t, a.Focus())

	opener := OpenerFunc(func(context.Context, string) error {
		t.Fatal("opener must not run while a surface is open")
		return nil
	})
	bridge := NewBridge(hub, opener, "casechat://open", self)

	route, err := bridge.Route(context.Background(), Payload{SenderID: 5, RecipientID: self, RecipientType: models.RecipientUser})
	require.NoError(t, err)
	require.Equal(t, RoutePosted, route.Action)
	require.Equal(t, a.ID(), route.SurfaceID)
	require.Equal(t, []Envelope{{Type: EnvelopeOpenConversation, RecipientID: 5, RecipientType: models.RecipientUser}}, gotA)
	require.Empty(t, gotB)
	require.Zero(t, focusedB)
	require.Equal(t, a.ID(), hub.Surfaces()[0].ID())

	require.NoError(t, b.Focus())
	require.Equal(t, 1, focusedB)
	require.Equal(t, b.ID(), hub.Surfaces()[0].ID())
}

func TestRouteSkipsRejectingSurface(t *testing.T) {
	hub := NewHub()
	accepting, _, err := hub.Register(func(Envelope) error { return nil }, nil)
	require.NoError(t, err)
	_, _, err = hub.Register(func(Envelope) error { return errors.New("closing") }, nil)
	require.NoError(t, err)

	route, err := NewBridge(hub, nil, "", self).Route(context.Background(),
		Payload{RecipientID: 4, RecipientType: models.RecipientTeam})
	require.NoError(t, err)
	require.Equal(t, accepting.ID(), route.SurfaceID)
}

func TestRouteOpensNewSurfaceWithTarget(t *testing.T) {
	hub := NewHub()
	_, unregister, err := hub.Register(func(Envelope) error { return nil }, nil)
	require.NoError(t, err)
	unregister()
	require.Zero(t, hub.Count())

	var opened string
	bridge := NewBridge(hub, OpenerFunc(func(_ context.Context, target string) error {
		opened = target
		return nil
	}), "http://localhost:8470/chat?tab=messages", self)

	route, err := bridge.Route(context.Background(), Payload{RecipientID: 9, RecipientType: models.RecipientTeam})
	require.NoError(t, err)
	require.Equal(t, RouteOpened, route.Action)
	require.Equal(t, opened, route.URL)

	r, ok, err := ParseOpenTarget(opened)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.TeamRecipient(9), r)
	require.Contains(t, opened, "tab=messages")
}

func TestRouteWithoutSurfaceOrOpener(t *testing.T) {
	_, err := NewBridge(NewHub(), nil, "", self).Route(context.Background(),
		Payload{RecipientID: 2, RecipientType: models.RecipientUser})
	require.ErrorIs(t, err, ErrNoOpener)

	_, err = NewBridge(NewHub(), nil, "", self).Route(context.Background(), Payload{RecipientType: "ROOM"})
	require.ErrorIs(t, err, models.ErrInvalidRecipient)
}

func TestParseOpenTarget(t *testing.T) {
	_, ok, err := ParseOpenTarget("http://localhost/chat")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = ParseOpenTarget("http://localhost/chat?recipientId=x&recipientType=USER")
	require.ErrorIs(t, err, models.ErrInvalidRecipient)

	r, ok, err := ParseOpenTarget("?recipientId=3&recipientType=user")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.UserRecipient(3), r)
}

func TestPayloadTargetUsesSenderForDirectMessages(t *testing.T) {
	r, err := Payload{SenderID: 6, RecipientID: self, RecipientType: models.RecipientUser}.Target(self)
	require.NoError(t, err)
	require.Equal(t, models.UserRecipient(6), r)

	r, err = Payload{SenderID: 6, RecipientID: 3, RecipientType: models.RecipientTeam}.Target(self)
	require.NoError(t, err)
	require.Equal(t, models.TeamRecipient(3), r)
}

func TestEnvelopeRecipient(t *testing.T) {
	r, err := OpenConversation(models.TeamRecipient(2)).Recipient()
	require.NoError(t, err)
	require.Equal(t, models.TeamRecipient(2), r)

	_, err = Envelope{Type: "close"}.Recipient()
	require.ErrorIs(t, err, ErrUnknownEnvelope)
}

func TestHubRegisterRejectsNilHandler(t *testing.T) {
	_, _, err := NewHub().Register(nil, nil)
	require.ErrorIs(t, err, ErrNilHandler)
}
