// Package relay fans live chat events out to websocket connections. It keeps
// two registries: every open connection with its identity, and every room
// with its subscribed connections.
package relay

import (
	"bytes"
	"time"

	"github.com/goccy/go-json"

	"roomchat/internal/chat"
)

// Client to server events.
const (
	EventJoinUser          = "join_user"
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventSendDirectMessage = "send_direct_message"
)

// Server to client events.
const (
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventUserJoinedRoom       = "user_joined_room"
	EventUserLeftRoom         = "user_left_room"
	EventReceiveMessage       = "receive_message"
	EventReceiveDirectMessage = "receive_direct_message"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is what a connection announces with join_user.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

func (i Identity) valid() bool { return i.ID > 0 && i.Username != "" }

// Presence is the payload of the four presence events.
type Presence struct {
	Identity
	RoomID string `json:"roomId,omitempty"`
}

// LiveMessage is a persisted message as relayed to subscribers.
type LiveMessage struct {
	*chat.Message
	Timestamp time.Time `json:"timestamp"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// roomIDFrom accepts either a bare string or {"roomId": "..."}.
func roomIDFrom(data json.RawMessage) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", false
	}
	var id string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", false
		}
	} else {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", false
		}
		id = obj.RoomID
	}
	return id, id != ""
}

// outgoingMessage carries the client's send_message fields through verbatim,
// with sender and timestamp set by the server.
type outgoingMessage map[string]json.RawMessage

func decodeOutgoing(data json.RawMessage) (outgoingMessage, bool) {
	var fields outgoingMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

func (m outgoingMessage) str(key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (m outgoingMessage) id(key string) int64 {
	raw, ok := m[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func (m outgoingMessage) stamp(sender Identity, now time.Time) (outgoingMessage, error) {
	out := make(outgoingMessage, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	var err error
	if out["sender"], err = json.Marshal(sender); err != nil {
		return nil, err
	}
	if out["timestamp"], err = json.Marshal(now); err != nil {
		return nil, err
	}
	return out, nil
}
