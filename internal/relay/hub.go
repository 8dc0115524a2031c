package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"roomchat/internal/chat"
	"roomchat/internal/logging"
	"roomchat/internal/metrics"
)

// ErrHubClosed is returned by Attach after the hub has shut down.
var ErrHubClosed = errors.New("relay hub is closed")

// Appender persists a live message before it is relayed.
type Appender interface {
	Append(ctx context.Context, in chat.AppendInput) (*chat.Message, error)
}

type Options struct {
	// SendBuffer is the per-connection outbound buffer.
	SendBuffer int
	// RoomQueue is the depth of each room's fan-out queue.
	RoomQueue int
	// SendRate and SendBurst throttle send_message per user. A zero rate
	// disables throttling.
	SendRate  float64
	SendBurst int
	// Appender, when set, makes send_message append to the room's log first
	// and relay the stored message.
	Appender Appender
	// SweepInterval controls how often idle throttle entries are dropped.
	SweepInterval time.Duration
}

func (o *Options) defaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RoomQueue <= 0 {
		o.RoomQueue = 1024
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
}

// Stats is a point-in-time view of the registries.
type Stats struct {
	Connections int `json:"connections"`
	Identified  int `json:"identified"`
	OnlineUsers int `json:"onlineUsers"`
	Rooms       int `json:"rooms"`
}

type presence struct {
	identity *Identity
	rooms    map[string]struct{}
}

// Hub is the process-wide connection registry. Create it once with NewHub and
// run Serve under the supervisor; cancelling Serve's context closes every
// connection.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*Conn]*presence
	rooms  map[string]*roomGroup
	online map[int64]int
	// draining holds stopped groups whose queues may still hold deliveries.
	draining map[string]*roomGroup
	closed bool

	opts     Options
	throttle *throttle
	nextID   atomic.Uint64
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewHub(opts Options) *Hub {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:    make(map[*Conn]*presence),
		rooms:    make(map[string]*roomGroup),
		online:   make(map[int64]int),
		draining: make(map[string]*roomGroup),
		opts:     opts,
		throttle: newThrottle(opts.SendRate, opts.SendBurst),
		now:      func() time.Time { return time.Now().UTC() },
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Unified reports whether live sends go through the message log.
func (h *Hub) Unified() bool { return h.opts.Appender != nil }

// Serve runs housekeeping until ctx is cancelled, then closes the hub.
func (h *Hub) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()
	logging.Info().Msg("relay hub started")
	for {
		select {
		case <-ctx.Done():
			stats := h.Stats()
			h.Close()
			logging.Info().
				Int("connections", stats.Connections).
				Int("rooms", stats.Rooms).
				Msg("relay hub stopped")
			return ctx.Err()
		case now := <-ticker.C:
			if n := h.throttle.sweep(now.Add(-h.opts.SweepInterval)); n > 0 {
				logging.Debug().Int("entries", n).Msg("swept idle send throttles")
			}
			h.pruneDrained()
		}
	}
}

func (h *Hub) String() string { return "relay-hub" }

// Close shuts every connection down and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	h.cancel()
	for _, c := range conns {
		c.shutdown()
	}
}

// Attach registers an upgraded websocket and starts its pumps. auth is the
// identity proven by the upgrade request, or nil for anonymous connections.
func (h *Hub) Attach(ws *websocket.Conn, auth *Identity) (*Conn, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	c := newConn(h, ws, h.nextID.Add(1), auth, h.opts.SendBuffer)
	h.conns[c] = &presence{rooms: make(map[string]struct{})}
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	logging.Debug().Uint64("conn", c.id).Bool("authenticated", auth != nil).Msg("live connection attached")
	go c.writePump()
	go c.readPump()
	return c, nil
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Stats{Connections: len(h.conns), OnlineUsers: len(h.online), Rooms: len(h.rooms)}
	for _, p := range h.conns {
		if p.identity != nil {
			s.Identified++
		}
	}
	return s
}

// Online reports whether userID has at least one identified connection.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// Subscribers returns how many connections are subscribed to roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if g := h.rooms[roomID]; g != nil {
		return len(g.members)
	}
	return 0
}

func (h *Hub) dispatch(c *Conn, env Envelope) {
	switch env.Event {
	case EventJoinUser:
		h.joinUser(c, env.Data)
	case EventJoinRoom:
		h.joinRoom(c, env.Data)
	case EventLeaveRoom:
		h.leaveRoom(c, env.Data)
	case EventSendMessage:
		h.sendMessage(c, env.Data)
	case EventSendDirectMessage:
		h.sendDirect(c, env.Data)
	default:
		metrics.RecordRelayEvent("unknown", "invalid")
		logging.Debug().Str("event", env.Event).Uint64("conn", c.id).Msg("dropping unknown live event")
	}
}

func (h *Hub) joinUser(c *Conn, data json.RawMessage) {
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		h.drop(c, EventJoinUser, "invalid")
		return
	}
	if c.auth != nil {
		id.ID = c.auth.ID
		id.Username = c.auth.Username
	}
	if !id.valid() {
		h.drop(c, EventJoinUser, "invalid")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.conns[c]
	if p == nil {
		return
	}
	if p.identity != nil {
		// A connection keeps the identity it first announced.
		if p.identity.ID != id.ID {
			h.drop(c, EventJoinUser, "identity_locked")
			return
		}
		p.identity = &id
		metrics.RecordRelayEvent(EventJoinUser, "ok")
		return
	}
	metrics.IdentifiedConnections.Inc()
	p.identity = &id
	h.online[id.ID]++
	if h.online[id.ID] == 1 {
		h.broadcastLocked(EventUserOnline, Presence{Identity: id}, c)
	}
	metrics.RecordRelayEvent(EventJoinUser, "ok")
}

func (h *Hub) joinRoom(c *Conn, data json.RawMessage) {
	roomID, ok := roomIDFrom(data)
	if !ok {
		h.drop(c, EventJoinRoom, "invalid")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.conns[c]
	if p == nil {
		return
	}
	if p.identity == nil {
		h.drop(c, EventJoinRoom, "anonymous")
		return
	}
	if _, ok := p.rooms[roomID]; ok {
		metrics.RecordRelayEvent(EventJoinRoom, "duplicate")
		return
	}
	g := h.rooms[roomID]
	if g == nil {
		var after <-chan struct{}
		if prev := h.draining[roomID]; prev != nil {
			delete(h.draining, roomID)
			if !prev.drained() {
				after = prev.done
			}
		}
		g = newRoomGroup(roomID, h.opts.RoomQueue, after)
		h.rooms[roomID] = g
	}
	g.members[c] = struct{}{}
	p.rooms[roomID] = struct{}{}
	h.publishLocked(g, EventUserJoinedRoom, Presence{Identity: *p.identity, RoomID: roomID}, skipConn(c))
	metrics.RecordRelayEvent(EventJoinRoom, "ok")
}

func (h *Hub) leaveRoom(c *Conn, data json.RawMessage) {
	roomID, ok := roomIDFrom(data)
	if !ok {
		h.drop(c, EventLeaveRoom, "invalid")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.conns[c]
	if p == nil {
		return
	}
	if _, ok := p.rooms[roomID]; !ok {
		h.drop(c, EventLeaveRoom, "not_subscribed")
		return
	}
	h.removeFromRoomLocked(c, p, roomID)
	metrics.RecordRelayEvent(EventLeaveRoom, "ok")
}

func (h *Hub) sendMessage(c *Conn, data json.RawMessage) {
	fields, ok := decodeOutgoing(data)
	if !ok {
		h.drop(c, EventSendMessage, "invalid")
		return
	}
	sender, ok := h.identityOf(c)
	if !ok {
		h.drop(c, EventSendMessage, "anonymous")
		return
	}
	if strings.TrimSpace(fields.str("content")) == "" {
		h.drop(c, EventSendMessage, "invalid")
		return
	}
	roomID := fields.str("roomId")
	if roomID == "" {
		h.deliverDirect(c, sender, fields, EventSendMessage)
		return
	}
	// Only a token-backed identity may write to the message log.
	if h.opts.Appender != nil && c.auth == nil {
		h.drop(c, EventSendMessage, "unauthenticated")
		return
	}
	now := h.now()
	if !h.throttle.allow(sender.ID, now) {
		h.drop(c, EventSendMessage, "throttled")
		return
	}

	var payload any
	if h.opts.Appender != nil {
		msg, err := h.opts.Appender.Append(h.baseCtx, chat.AppendInput{
			RoomID:   roomID,
			SenderID: c.auth.ID,
			Content:  fields.str("content"),
			Kind:     chat.Kind(fields.str("type")),
			FileURL:  fields.str("fileUrl"),
			FileName: fields.str("fileName"),
		})
		if err != nil {
			logging.Debug().Err(err).Str("room", roomID).Int64("user", c.auth.ID).Msg("live append rejected")
			h.drop(c, EventSendMessage, "append_failed")
			return
		}
		payload = LiveMessage{Message: msg, Timestamp: now}
	} else {
		stamped, err := fields.stamp(sender, now)
		if err != nil {
			h.drop(c, EventSendMessage, "invalid")
			return
		}
		payload = stamped
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if g := h.rooms[roomID]; g != nil {
		h.publishLocked(g, EventReceiveMessage, payload, skipConn(c))
	}
	metrics.RecordRelayEvent(EventSendMessage, "ok")
}

func (h *Hub) sendDirect(c *Conn, data json.RawMessage) {
	fields, ok := decodeOutgoing(data)
	if !ok {
		h.drop(c, EventSendDirectMessage, "invalid")
		return
	}
	sender, ok := h.identityOf(c)
	if !ok {
		h.drop(c, EventSendDirectMessage, "anonymous")
		return
	}
	h.deliverDirect(c, sender, fields, EventSendDirectMessage)
}

func (h *Hub) deliverDirect(c *Conn, sender Identity, fields outgoingMessage, event string) {
	recipient := fields.id("recipientId")
	if recipient <= 0 || strings.TrimSpace(fields.str("content")) == "" {
		h.drop(c, event, "invalid")
		return
	}
	now := h.now()
	if !h.throttle.allow(sender.ID, now) {
		h.drop(c, event, "throttled")
		return
	}
	stamped, err := fields.stamp(sender, now)
	if err != nil {
		h.drop(c, event, "invalid")
		return
	}
	payload, err := encode(EventReceiveDirectMessage, stamped)
	if err != nil {
		h.drop(c, event, "invalid")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for other, p := range h.conns {
		if other != c && p.identity != nil && p.identity.ID == recipient {
			other.enqueue(payload)
		}
	}
	metrics.RecordRelayEvent(event, "ok")
}

// PublishRoomMessage relays a message appended outside the live channel to the
// room's subscribers, skipping every connection of the sender.
func (h *Hub) PublishRoomMessage(msg *chat.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	g := h.rooms[msg.RoomID]
	if g == nil {
		return
	}
	h.publishLocked(g, EventReceiveMessage, LiveMessage{Message: msg, Timestamp: h.now()}, func(other *Conn) bool {
		p := h.conns[other]
		return p != nil && p.identity != nil && p.identity.ID == msg.Sender.ID
	})
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.conns[c]
	if !ok {
		return
	}
	for roomID := range p.rooms {
		h.removeFromRoomLocked(c, p, roomID)
	}
	delete(h.conns, c)
	metrics.ActiveConnections.Dec()
	if p.identity != nil {
		h.releaseLocked(c, *p.identity)
		metrics.IdentifiedConnections.Dec()
	}
	logging.Debug().Uint64("conn", c.id).Msg("live connection detached")
}

// removeFromRoomLocked unsubscribes c and tells the remaining subscribers.
func (h *Hub) removeFromRoomLocked(c *Conn, p *presence, roomID string) {
	delete(p.rooms, roomID)
	g := h.rooms[roomID]
	if g == nil {
		return
	}
	delete(g.members, c)
	if p.identity != nil {
		h.publishLocked(g, EventUserLeftRoom, Presence{Identity: *p.identity, RoomID: roomID}, nil)
	}
	if len(g.members) == 0 {
		delete(h.rooms, roomID)
		g.stop()
		h.draining[roomID] = g
	}
}

// pruneDrained forgets stopped groups that have delivered their backlog.
func (h *Hub) pruneDrained() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, g := range h.draining {
		if g.drained() {
			delete(h.draining, roomID)
		}
	}
}

// releaseLocked drops one identified connection of id and announces the user
// offline once their last connection is gone.
func (h *Hub) releaseLocked(c *Conn, id Identity) {
	n := h.online[id.ID] - 1
	if n > 0 {
		h.online[id.ID] = n
		return
	}
	delete(h.online, id.ID)
	h.broadcastLocked(EventUserOffline, Presence{Identity: id}, c)
}

func (h *Hub) broadcastLocked(event string, data any, except *Conn) {
	payload, err := encode(event, data)
	if err != nil {
		logging.Err(err).Str("event", event).Msg("encode live event")
		return
	}
	for c := range h.conns {
		if c != except {
			c.enqueue(payload)
		}
	}
}

func (h *Hub) publishLocked(g *roomGroup, event string, data any, skip func(*Conn) bool) {
	payload, err := encode(event, data)
	if err != nil {
		logging.Err(err).Str("event", event).Msg("encode live event")
		return
	}
	g.publish(payload, skip)
}

func (h *Hub) identityOf(c *Conn) (Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.conns[c]
	if p == nil || p.identity == nil {
		return Identity{}, false
	}
	return *p.identity, true
}

func (h *Hub) drop(c *Conn, event, outcome string) {
	metrics.RecordRelayEvent(event, outcome)
	logging.Debug().Str("event", event).Str("outcome", outcome).Uint64("conn", c.id).Msg("dropped live event")
}

func skipConn(c *Conn) func(*Conn) bool {
	return func(other *Conn) bool { return other == c }
}
