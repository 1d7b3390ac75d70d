package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/models"
)

// Query parameters carrying the open target of a new surface.
const (
	ParamRecipientID   = "recipientId"
	ParamRecipientType = "recipientType"
)

// ErrNoOpener is returned when no surface is open and none can be created.
var ErrNoOpener = errors.New("no surface open and no opener configured")

// Opener creates a new surface showing target.
type Opener interface {
	Open(ctx context.Context, target string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, target string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, target string) error { return f(ctx, target) }

// RouteAction says how a payload was routed.
type RouteAction string

const (
	RoutePosted RouteAction = "posted"
	RouteOpened RouteAction = "opened"
)

// Route describes the outcome of Bridge.Route.
type Route struct {
	Action    RouteAction
	SurfaceID string
	URL       string
	Recipient models.Recipient
}

// Bridge routes notification interactions to an open surface, or opens one.
type Bridge struct {
	registry SurfaceRegistry
	opener   Opener
	baseURL  string
	selfID   int64
	logger   zerolog.Logger
}

// NewBridge creates a bridge. baseURL is the address new surfaces are opened
// at; the target conversation is appended as query parameters.
func NewBridge(registry SurfaceRegistry, opener Opener, baseURL string, selfID int64) *Bridge {
	return &Bridge{
		registry: registry,
		opener:   opener,
		baseURL:  baseURL,
		selfID:   selfID,
		logger:   logging.Component("notify-bridge"),
	}
}

// Route handles a user interaction with notification p. The most recently
// focused surface that accepts the envelope is told to open the conversation
// and is focused; without one a new surface is opened.
func (b *Bridge) Route(ctx context.Context, p Payload) (Route, error) {
	recipient, err := p.Target(b.selfID)
	if err != nil {
		return Route{}, fmt.Errorf("route notification: %w", err)
	}
	env := OpenConversation(recipient)

	if b.registry != nil {
		for _, surface := range b.registry.Surfaces() {
			if err := surface.Post(env); err != nil {
				b.logger.Warn().Err(err).Str("surface", surface.ID()).Msg("surface rejected envelope")
				continue
			}
			if err := surface.Focus(); err != nil {
				b.logger.Debug().Err(err).Str("surface", surface.ID()).Msg("focus failed")
			}
			b.logger.Debug().Str("surface", surface.ID()).Str("conversation", recipient.String()).Msg("routed to open surface")
			return Route{Action: RoutePosted, SurfaceID: surface.ID(), Recipient: recipient}, nil
		}
	}

	if b.opener == nil {
		return Route{}, ErrNoOpener
	}
	target, err := OpenTargetURL(b.baseURL, recipient)
	if err != nil {
		return Route{}, err
	}
	if err := b.opener.Open(ctx, target); err != nil {
		return Route{}, fmt.Errorf("open surface: %w", err)
	}
	b.logger.Debug().Str("url", target).Msg("opened new surface")
	return Route{Action: RouteOpened, URL: target, Recipient: recipient}, nil
}

// OpenTargetURL encodes r into base's query string.
func OpenTargetURL(base string, r models.Recipient) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse surface url %q: %w", base, err)
	}
	query := u.Query()
	query.Set(ParamRecipientID, strconv.FormatInt(r.ID, 10))
	query.Set(ParamRecipientType, string(r.Kind))
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// ParseOpenTarget decodes the conversation a new surface should select.
// ok is false when the URL carries no target.
func ParseOpenTarget(raw string) (r models.Recipient, ok bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return models.Recipient{}, false, err
	}
	query := u.Query()
	rawID, rawType := query.Get(ParamRecipientID), query.Get(ParamRecipientType)
	if rawID == "" && rawType == "" {
		return models.Recipient{}, false, nil
	}
	kind, err := models.ParseRecipientKind(rawType)
	if err != nil {
		return models.Recipient{}, false, err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return models.Recipient{}, false, fmt.Errorf("%w: id %q", models.ErrInvalidRecipient, rawID)
	}
	r = models.Recipient{Kind: kind, ID: id}
	if err := r.Validate(); err != nil {
		return models.Recipient{}, false, err
	}
	return r, true, nil
}
