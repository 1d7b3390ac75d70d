package msgserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/msgdb"
	"github.com/tOgg1/casechat/internal/notify"
	"github.com/tOgg1/casechat/internal/testutil"
)

const (
	alice = int64(1)
	bob   = int64(2)
	carol = int64(3)
)

type testServer struct {
	srv  *Server
	http *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	testutil.SkipIfNoNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := msgdb.Open(ctx, filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := New(store, Options{Registry: prometheus.NewRegistry()})
	srv.Start(ctx)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testServer{srv: srv, http: hs}
}

func (ts *testServer) client(t *testing.T, user int64) *msgapi.Client {
	t.Helper()
	c, err := msgapi.NewClient(msgapi.ClientConfig{BaseURL: ts.http.URL, UserID: user})
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	a, b := ts.client(t, alice), ts.client(t, bob)

	sent, err := a.CreateMessage(ctx, msgapi.CreateRequest{
		Recipient: models.UserRecipient(bob), Content: "<b>offer</b> accepted", Type: models.MessageImportant,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ServerID(1), sent.ID)
	assert.Equal(t, models.MessageImportant, sent.Type)

	aliceChat := models.UserRecipient(alice)
	msgs, err := b.ListMessages(ctx, msgapi.ListQuery{Recipient: &aliceChat, Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "<b>offer</b> accepted", msgs[0].Content)
	assert.False(t, msgs[0].ReadByMe)

	counts, err := b.UnreadCountsDetailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.UnreadCounts{models.UserKey(alice): 1}, counts)

	checkpoint := time.Now().Add(-time.Second)
	require.NoError(t, b.MarkChatRead(ctx, aliceChat))

	counts, err = b.UnreadCountsDetailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	modified, err := a.ListModifiedMessages(ctx, checkpoint)
	require.NoError(t, err)
	require.Len(t, modified, 1)
	assert.Equal(t, 1, modified[0].ReadByCount)

	content := "offer withdrawn"
	updated, err := a.UpdateMessage(ctx, 1, msgapi.UpdateRequest{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)

	require.NoError(t, a.DeleteMessage(ctx, 1))
	err = a.DeleteMessage(ctx, 1)
	require.Error(t, err)
	assert.True(t, msgapi.IsNotFound(err))
}

func TestTeamsOverHTTP(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	a, c := ts.client(t, alice), ts.client(t, carol)

	team, err := a.CreateTeam(ctx, msgapi.TeamRequest{Name: "Closing", MemberIDs: []int64{bob}})
	require.NoError(t, err)
	assert.Equal(t, []int64{alice, bob}, team.MemberIDs)

	teams, err := c.ListTeams(ctx)
	require.NoError(t, err)
	assert.Empty(t, teams)

	_, err = c.UpdateTeam(ctx, team.ID, msgapi.TeamRequest{Name: "Mine"})
	var apiErr *msgapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = a.CreateTeam(ctx, msgapi.TeamRequest{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "team name is required")
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
	}{
		{name: "missing user", method: http.MethodGet, path: "/v1/messages", status: http.StatusUnauthorized},
		{name: "bad limit", method: http.MethodGet, path: "/v1/messages?limit=x", user: "1", status: http.StatusBadRequest},
		{name: "bad after", method: http.MethodGet, path: "/v1/messages/modified?after=yesterday", user: "1", status: http.StatusBadRequest},
		{name: "unknown message", method: http.MethodGet, path: "/v1/messages/99", user: "1", status: http.StatusNotFound},
		{name: "empty content", method: http.MethodPost, path: "/v1/messages", user: "1",
			body: `{"recipient":{"kind":"USER","userId":2},"content":"  "}`, status: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, path: "/v1/messages", user: "1", body: `{`, status: http.StatusBadRequest},
		{name: "bad marker", method: http.MethodPost, path: "/v1/chats/read", user: "1",
			body: `{"recipientId":2,"recipientType":"GROUP"}`, status: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/v2/nothing", status: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPut, path: "/v1/unread", user: "1", status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.http.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.user != "" {
				req.Header.Set(msgapi.HeaderUserID, tt.user)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get(msgapi.HeaderRequestID))
			var body msgapi.APIError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `casechat_msgserver_requests_total{code="200",method="GET",route="/healthz"} 1`)
	assert.Contains(t, string(body), "casechat_msgserver_push_connections 0")
}

func TestPushDeliversToAudience(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/push"

	header := http.Header{}
	header.Set(msgapi.HeaderUserID, "2")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.srv.push.connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = ts.client(t, alice).CreateMessage(context.Background(), msgapi.CreateRequest{
		Recipient: models.UserRecipient(bob), Content: "  wire   instructions\nattached ",
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload notify.Payload
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, int64(1), payload.MessageID)
	assert.Equal(t, alice, payload.SenderID)
	assert.Equal(t, bob, payload.RecipientID)
	assert.Equal(t, models.RecipientUser, payload.RecipientType)
	assert.Equal(t, "wire instructions attached", payload.Body)
}

func TestPushRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/push"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b", snippet(" a \n b ", 10))
	assert.Equal(t, "abcd…", snippet("abcdefgh", 5))
}
