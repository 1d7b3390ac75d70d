package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/logging"
)

const (
	pushReadLimit   = 64 << 10
	pushPongTimeout = 60 * time.Second
)

// PushConfig configures a PushReceiver.
type PushConfig struct {
	// URL is the collaborator's push endpoint, e.g. ws://host/v1/push.
	URL string

	// UserID is sent as the session header.
	UserID int64

	// MaxBackoff caps the reconnect delay.
	// Default: 30s
	MaxBackoff time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// PushReceiver keeps a best-effort websocket subscription to push payloads.
// Delivery is a wake-up only; missed payloads are covered by polling.
type PushReceiver struct {
	config    PushConfig
	onPayload func(Payload)
	logger    zerolog.Logger
}

// NewPushReceiver creates a receiver that hands each payload to onPayload.
func NewPushReceiver(config PushConfig, onPayload func(Payload)) *PushReceiver {
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if onPayload == nil {
		onPayload = func(Payload) {}
	}
	return &PushReceiver{
		config:    config,
		onPayload: onPayload,
		logger:    logging.Component("notify-push"),
	}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (r *PushReceiver) Run(ctx context.Context) error {
	if r.config.URL == "" {
		return errors.New("push url is required")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = r.config.MaxBackoff

	for {
		connected, err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		r.logger.Debug().Err(err).Dur("retry_in", wait).Msg("push connection lost")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (r *PushReceiver) session(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	header.Set("X-User-ID", strconv.FormatInt(r.config.UserID, 10))

	conn, resp, err := r.config.Dialer.DialContext(ctx, r.config.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %s", logging.RedactURL(r.config.URL), logging.Redact(err.Error()))
	}
	r.logger.Info().Str("url", logging.RedactURL(r.config.URL)).Msg("push connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	conn.SetReadLimit(pushReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pushPongTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pushPongTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pushPongTimeout))

		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			r.logger.Debug().Err(err).Msg("ignoring malformed push payload")
			continue
		}
		r.onPayload(p)
	}
}
