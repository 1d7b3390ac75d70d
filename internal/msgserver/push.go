package msgserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/casechat/internal/logging"
	"github.com/tOgg1/casechat/internal/msgapi"
	"github.com/tOgg1/casechat/internal/notify"
)

const (
	pushSendBuffer = 64
	pushWriteWait  = 10 * time.Second
	pushPingPeriod = 30 * time.Second
)

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type connection struct {
	ws     *websocket.Conn
	userID int64
	send   chan []byte
	hub    *pushHub
}

// reader drains client frames so control frames are processed; clients have
// nothing to say on this channel.
func (c *connection) reader() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.ws.Close()
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *connection) writer() {
	ticker := time.NewTicker(pushPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type delivery struct {
	userIDs []int64
	message []byte
}

// pushHub fans payloads out to the connections of their recipients. All
// connection bookkeeping happens on the run goroutine.
type pushHub struct {
	register   chan *connection
	unregister chan *connection
	broadcast  chan delivery
	count      chan chan int
	logger     zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func newPushHub() *pushHub {
	return &pushHub{
		register:   make(chan *connection),
		unregister: make(chan *connection),
		broadcast:  make(chan delivery, 256),
		count:      make(chan chan int),
		logger:     logging.Component("msgserver-push"),
		done:       make(chan struct{}),
	}
}

func (h *pushHub) run(ctx context.Context) {
	connections := make(map[int64]map[*connection]bool)
	defer func() {
		for _, conns := range connections {
			for c := range conns {
				close(c.send)
			}
		}
		h.stopOnce.Do(func() { close(h.done) })
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			if connections[c.userID] == nil {
				connections[c.userID] = make(map[*connection]bool)
			}
			connections[c.userID][c] = true
			h.logger.Debug().Int64("user_id", c.userID).Msg("registered push connection")
		case c := <-h.unregister:
			if conns, ok := connections[c.userID]; ok && conns[c] {
				delete(conns, c)
				close(c.send)
				if len(conns) == 0 {
					delete(connections, c.userID)
				}
				h.logger.Debug().Int64("user_id", c.userID).Msg("unregistered push connection")
			}
		case d := <-h.broadcast:
			for _, userID := range d.userIDs {
				for c := range connections[userID] {
					select {
					case c.send <- d.message:
					default:
						// Slow consumer; polling covers what it misses.
						delete(connections[userID], c)
						close(c.send)
					}
				}
			}
		case reply := <-h.count:
			n := 0
			for _, conns := range connections {
				n += len(conns)
			}
			reply <- n
		}
	}
}

// publish queues p for userIDs without blocking the request path.
func (h *pushHub) publish(userIDs []int64, p notify.Payload) {
	if len(userIDs) == 0 {
		return
	}
	message, err := json.Marshal(p)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode push payload")
		return
	}
	select {
	case h.broadcast <- delivery{userIDs: userIDs, message: message}:
	case <-h.done:
	default:
		h.logger.Warn().Int64("message_id", p.MessageID).Msg("push backlog full, dropping payload")
	}
}

// connections returns the number of open connections.
func (h *pushHub) connections() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.Header.Get(msgapi.HeaderUserID), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, errNoUser)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &connection{ws: ws, userID: userID, send: make(chan []byte, pushSendBuffer), hub: s.push}
	select {
	case s.push.register <- c:
	case <-s.push.done:
		_ = ws.Close()
		return
	}
	go c.writer()
	c.reader()
}
