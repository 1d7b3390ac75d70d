package msgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
)

// Header names shared with the server.
const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrNoUser is returned when a client is built without a session user.
var ErrNoUser = errors.New("msgapi: user id is required")

// APIError is a non-2xx response from the collaborator.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	RequestID  string `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("msgapi: %d %s", e.StatusCode, msg)
}

// IsNotFound reports whether err is a 404 from the collaborator.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the collaborator root, e.g. http://127.0.0.1:8470.
	BaseURL string

	// UserID is the session user sent with every request.
	UserID int64

	// Timeout bounds each request. Default: 10s.
	Timeout time.Duration

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// Client implements Service over HTTP/JSON.
type Client struct {
	base   *url.URL
	userID int64
	httpc  *http.Client
	logger zerolog.Logger
}

var _ Service = (*Client)(nil)

// NewClient validates cfg and builds a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.UserID <= 0 {
		return nil, ErrNoUser
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("msgapi: invalid base url %q", cfg.BaseURL)
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   base,
		userID: cfg.UserID,
		httpc:  httpc,
		logger: logging.Component("msgapi-client"),
	}, nil
}

// UserID returns the session user.
func (c *Client) UserID() int64 { return c.userID }

func (c *Client) ListMessages(ctx context.Context, q ListQuery) ([]models.Message, error) {
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, "/v1/messages", q.Values(), nil, &out); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (c *Client) ListModifiedMessages(ctx context.Context, after time.Time) ([]models.Message, error) {
	query := url.Values{}
	query.Set("after", after.UTC().Format(time.RFC3339Nano))
	var out []models.Message
	if err := c.do(ctx, http.MethodGet, "/v1/messages/modified", query, nil, &out); err != nil {
		return nil, fmt.Errorf("list modified messages: %w", err)
	}
	return out, nil
}

func (c *Client) CreateMessage(ctx context.Context, req CreateRequest) (models.Message, error) {
	var out models.Message
	if err := c.do(ctx, http.MethodPost, "/v1/messages", nil, req, &out); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateMessage(ctx context.Context, id int64, req UpdateRequest) (models.Message, error) {
	var out models.Message
	if err := c.do(ctx, http.MethodPatch, "/v1/messages/"+strconv.FormatInt(id, 10), nil, req, &out); err != nil {
		return models.Message{}, fmt.Errorf("update message %d: %w", id, err)
	}
	return out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/messages/"+strconv.FormatInt(id, 10), nil, nil, nil); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

func (c *Client) MarkChatRead(ctx context.Context, recipient models.Recipient) error {
	body := ReadMarker{RecipientID: recipient.ID, RecipientType: recipient.Kind}
	if err := c.do(ctx, http.MethodPost, "/v1/chats/read", nil, body, nil); err != nil {
		return fmt.Errorf("mark %s read: %w", recipient, err)
	}
	return nil
}

func (c *Client) UnreadCountsDetailed(ctx context.Context) (models.UnreadCounts, error) {
	out := models.UnreadCounts{}
	if err := c.do(ctx, http.MethodGet, "/v1/unread", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	return out, nil
}

func (c *Client) ListTeams(ctx context.Context) ([]models.Team, error) {
	var out []models.Team
	if err := c.do(ctx, http.MethodGet, "/v1/teams", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return out, nil
}

func (c *Client) CreateTeam(ctx context.Context, req TeamRequest) (models.Team, error) {
	var out models.Team
	if err := c.do(ctx, http.MethodPost, "/v1/teams", nil, req, &out); err != nil {
		return models.Team{}, fmt.Errorf("create team: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateTeam(ctx context.Context, id int64, req TeamRequest) (models.Team, error) {
	var out models.Team
	if err := c.do(ctx, http.MethodPut, "/v1/teams/"+strconv.FormatInt(id, 10), nil, req, &out); err != nil {
		return models.Team{}, fmt.Errorf("update team %d: %w", id, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	target := *c.base
	target.Path = c.base.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(HeaderUserID, strconv.FormatInt(c.userID, 10))
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", logging.RedactURL(target.String())).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("collaborator call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
