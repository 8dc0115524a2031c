package relay

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"roomchat/internal/logging"
	"roomchat/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

// Conn is one live websocket connection.
type Conn struct {
	id   uint64
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	// auth is the identity proven by the upgrade request's token, if any.
	auth *Identity

	mu     sync.Mutex
	closed bool
}

func newConn(hub *Hub, ws *websocket.Conn, id uint64, auth *Identity, buffer int) *Conn {
	return &Conn{
		id:   id,
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, buffer),
		auth: auth,
	}
}

// enqueue hands payload to the write pump. A connection whose buffer is full
// cannot keep up and is closed.
func (c *Conn) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.closed = true
		close(c.send)
		metrics.RelayDroppedTotal.WithLabelValues("slow_consumer").Inc()
		logging.Warn().Uint64("conn", c.id).Msg("closing slow live connection")
		return false
	}
}

// shutdown stops the write pump, which closes the socket.
func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.shutdown()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(maxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("conn", c.id).Msg("live connection closed unexpectedly")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
			metrics.RecordRelayEvent("unknown", "invalid")
			logging.Debug().Uint64("conn", c.id).Msg("dropping malformed live frame")
			continue
		}
		c.hub.dispatch(c, env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
