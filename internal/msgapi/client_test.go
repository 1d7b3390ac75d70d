package msgapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/casechat/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", UserID: 7, Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "http://localhost"})
	require.ErrorIs(t, err, ErrNoUser)

	_, err = NewClient(ClientConfig{BaseURL: "localhost:80", UserID: 1})
	require.Error(t, err)
}

func TestListMessagesSendsQueryAndHeaders(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "7", r.Header.Get(HeaderUserID))
		require.NotEmpty(t, r.Header.Get(HeaderRequestID))

		q := r.URL.Query()
		require.Equal(t, "100", q.Get("beforeId"))
		require.Equal(t, "TEAM", q.Get("recipientType"))
		require.Equal(t, "3", q.Get("recipientId"))
		require.Equal(t, "50", q.Get("limit"))

		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: models.ServerID(99), SenderID: 2, Recipient: models.TeamRecipient(3), Content: "hi", Type: models.MessageInfo},
		})
	})

	team := models.TeamRecipient(3)
	msgs, err := client.ListMessages(context.Background(), ListQuery{BeforeID: 100, Recipient: &team, Limit: 50})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.ServerID(99), msgs[0].ID)
	require.Equal(t, models.TeamRecipient(3), msgs[0].Recipient)
}

func TestListModifiedEncodesTimestamp(t *testing.T) {
	after := time.Date(2026, 3, 4, 5, 6, 7, 8000, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages/modified", r.URL.Path)
		got, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("after"))
		require.NoError(t, err)
		require.True(t, got.Equal(after))
		_, _ = w.Write([]byte(`[]`))
	})

	msgs, err := client.ListModifiedMessages(context.Background(), after)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestCreateMessageRoundTrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var req CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, models.UserRecipient(4), req.Recipient)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Message{
			ID: models.ServerID(12), SenderID: 7, Recipient: req.Recipient, Content: req.Content, Type: req.Type,
		})
	})

	msg, err := client.CreateMessage(context.Background(), CreateRequest{
		Recipient: models.UserRecipient(4), Content: "hello", Type: models.MessageNormal,
	})
	require.NoError(t, err)
	require.Equal(t, models.ServerID(12), msg.ID)
	require.Equal(t, "hello", msg.Content)
}

func TestAPIErrorCarriesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"message 5 not found"}`))
	})

	err := client.DeleteMessage(context.Background(), 5)
	require.Error(t, err)
	require.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "message 5 not found", apiErr.Message)
	require.NotEmpty(t, apiErr.RequestID)
}

func TestPlainTextErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.UnreadCountsDetailed(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "boom", apiErr.Message)
	require.False(t, IsNotFound(err))
}

func TestMarkChatReadAndUnread(t *testing.T) {
	var marker ReadMarker
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chats/read":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&marker))
			w.WriteHeader(http.StatusNoContent)
		case "/v1/unread":
			_, _ = w.Write([]byte(`{"user:2":3,"team:9":1}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, client.MarkChatRead(context.Background(), models.TeamRecipient(9)))
	require.Equal(t, ReadMarker{RecipientID: 9, RecipientType: models.RecipientTeam}, marker)

	counts, err := client.UnreadCountsDetailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.UnreadCounts{"user:2": 3, "team:9": 1}, counts)
}

func TestListQueryValuesRoundTrip(t *testing.T) {
	user := models.UserRecipient(5)
	in := ListQuery{SinceID: 10, Recipient: &user, Limit: 20, Search: "deed"}

	out, err := ParseListQuery(in.Values())
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.False(t, out.Descending())

	_, err = ParseListQuery(map[string][]string{"recipientId": {"x"}, "recipientType": {"USER"}})
	require.ErrorIs(t, err, models.ErrInvalidRecipient)

	_, err = ParseListQuery(map[string][]string{"limit": {"-1"}})
	require.Error(t, err)
}

func TestCreateRequestValidate(t *testing.T) {
	req := CreateRequest{Recipient: models.UserRecipient(2), Content: "  "}
	require.ErrorIs(t, req.Validate(), models.ErrEmptyContent)

	req.Content = "ok"
	require.NoError(t, req.Validate())
}
