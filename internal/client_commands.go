package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"roomchat/internal/chat"
	"roomchat/internal/relay"
)

// bubbletea messages for everything that finishes off the UI goroutine
type (
	authDoneMsg struct {
		session sessionFile
		server  serverInfo
		err     error
	}
	roomsLoadedMsg struct {
		rooms []roomResponse
		mine  bool
		err   error
	}
	roomOpenedMsg struct {
		view *openRoomResponse
		err  error
	}
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{ roomID string }
	liveEventMsg     struct {
		conn *websocket.Conn
		env  relay.Envelope
	}
	liveClosedMsg struct {
		conn *websocket.Conn
		err  error
	}
	sentMsg struct {
		msg *chat.Message
		err error
	}
	leftRoomMsg struct {
		roomID string
		err    error
	}
	loggedOutMsg struct{}
)

// liveMessage covers both relay shapes of receive_message: a stored message
// and a client payload stamped with sender and timestamp.
type liveMessage struct {
	ID        int64        `json:"id"`
	RoomID    string       `json:"roomId"`
	Sender    chat.UserRef `json:"sender"`
	Content   string       `json:"content"`
	Kind      string       `json:"type"`
	FileURL   string       `json:"fileUrl"`
	FileName  string       `json:"fileName"`
	CreatedAt time.Time    `json:"createdAt"`
	Timestamp time.Time    `json:"timestamp"`
}

func (m liveMessage) line() chatLine {
	at := m.CreatedAt
	if at.IsZero() {
		at = m.Timestamp
	}
	return chatLine{RoomID: m.RoomID, User: m.Sender.Username, Body: m.Content, FileName: m.FileName, At: at}
}

func lineFromMessage(msg chat.Message) chatLine {
	return chatLine{
		RoomID:   msg.RoomID,
		User:     msg.Sender.Username,
		Body:     msg.Content,
		FileName: msg.FileName,
		At:       msg.CreatedAt,
	}
}

func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*httpTimeout)
		defer cancel()
		if intent == authIntentSignup {
			if err := api.signup(ctx, username, password); err != nil {
				return authDoneMsg{err: err}
			}
		}
		resp, err := api.login(ctx, username, password)
		if err != nil {
			return authDoneMsg{err: err}
		}
		return authDoneMsg{
			session: sessionFile{Username: resp.User.Username, UserID: resp.User.ID, Token: resp.Token},
			server:  probeServer(ctx, api),
		}
	}
}

// resumeCmd checks that a saved token is still accepted.
func (model *TUIModel) resumeCmd(session sessionFile) tea.Cmd {
	api := model.api
	api.token = session.Token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*httpTimeout)
		defer cancel()
		if _, err := api.myRooms(ctx); err != nil {
			return authDoneMsg{err: err}
		}
		return authDoneMsg{session: session, server: probeServer(ctx, api)}
	}
}

// serverInfo is what the client learns from /healthz after logging in.
type serverInfo struct {
	version string
	unified bool
}

func probeServer(ctx context.Context, api *apiClient) serverInfo {
	h, err := api.health(ctx)
	if err != nil {
		return serverInfo{}
	}
	return serverInfo{version: h.Version, unified: h.UnifiedSend}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	api := model.api
	sessionPath := model.opts.SessionPath
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		_ = api.logout(ctx)
		_ = deleteSessionFile(sessionPath)
		return loggedOutMsg{}
	}
}

func (model *TUIModel) loadRoomsCmd(mine bool) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		var (
			rooms []roomResponse
			err   error
		)
		if mine {
			rooms, err = api.myRooms(ctx)
		} else {
			rooms, err = api.publicRooms(ctx, "")
		}
		return roomsLoadedMsg{rooms: rooms, mine: mine, err: err}
	}
}

func (model *TUIModel) createRoomCmd(name string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*httpTimeout)
		defer cancel()
		room, err := api.createRoom(ctx, name, chat.VisibilityPublic)
		if err != nil {
			return roomOpenedMsg{err: err}
		}
		view, err := api.openRoom(ctx, room.ID)
		return roomOpenedMsg{view: view, err: err}
	}
}

// openRoomCmd fetches the room snapshot, joining first when the caller is not
// yet a member of a public room.
func (model *TUIModel) openRoomCmd(roomID string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*httpTimeout)
		defer cancel()
		view, err := api.openRoom(ctx, roomID)
		if err != nil {
			return roomOpenedMsg{err: err}
		}
		if view.UserRole == chat.RoleGuest.String() {
			if err := api.joinRoom(ctx, roomID); err != nil {
				return roomOpenedMsg{err: err}
			}
			if view, err = api.openRoom(ctx, roomID); err != nil {
				return roomOpenedMsg{err: err}
			}
		}
		return roomOpenedMsg{view: view}
	}
}

func (model *TUIModel) leaveRoomCmd(roomID string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		return leftRoomMsg{roomID: roomID, err: api.leaveRoom(ctx, roomID)}
	}
}

func (model *TUIModel) scheduleReconnect(roomID string) tea.Cmd {
	const retryDelay = 2 * time.Second
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{roomID: roomID}
	})
}

// connectCmd dials the live endpoint, announces the user and subscribes to
// the room.
func (model *TUIModel) connectCmd(roomID string) tea.Cmd {
	base, path, token := model.opts.ServerURL, model.opts.LivePath, model.api.token
	identity := relay.Identity{ID: model.userID, Username: model.username}
	return func() tea.Msg {
		joinURL, err := liveURL(base, path, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		for _, frame := range []struct {
			event string
			data  any
		}{
			{relay.EventJoinUser, identity},
			{relay.EventJoinRoom, map[string]string{"roomId": roomID}},
		} {
			if err := writeEnvelope(conn, frame.event, frame.data); err != nil {
				_ = conn.Close()
				return connectFailedMsg{err: err}
			}
		}
		return connectedMsg{conn: conn}
	}
}

func readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return liveClosedMsg{conn: conn, err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var env relay.Envelope
			if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
				continue
			}
			return liveEventMsg{conn: conn, env: env}
		}
	}
}

// sendCmd stores the message over HTTP and, when the server does not relay
// stored messages itself, forwards it on the live connection.
func (model *TUIModel) sendCmd(roomID string, req appendMessageRequest) tea.Cmd {
	send := model.sender(roomID)
	return func() tea.Msg {
		return send(req)
	}
}

func (model *TUIModel) uploadCmd(roomID, path string) tea.Cmd {
	api := model.api
	send := model.sender(roomID)
	return func() tea.Msg {
		up, err := api.uploadFile(context.Background(), roomID, path)
		if err != nil {
			return sentMsg{err: err}
		}
		return send(appendMessageRequest{
			Type:     string(chat.KindFile),
			FileURL:  up.FileURL,
			FileName: up.FileName,
			Content:  fmt.Sprintf("shared %s (%s)", up.FileName, formatFileSize(up.Size)),
		})
	}
}

func (model *TUIModel) sender(roomID string) func(appendMessageRequest) tea.Msg {
	api := model.api
	conn := model.websocketConn
	relayLive := !model.unified
	mu := &model.writeMutex
	return func(req appendMessageRequest) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		msg, err := api.appendMessage(ctx, roomID, req)
		if err != nil {
			return sentMsg{err: err}
		}
		if relayLive && conn != nil {
			mu.Lock()
			err = writeEnvelope(conn, relay.EventSendMessage, map[string]string{
				"roomId":   roomID,
				"content":  msg.Content,
				"type":     string(msg.Kind),
				"fileUrl":  msg.FileURL,
				"fileName": msg.FileName,
			})
			mu.Unlock()
			if err != nil {
				return sentMsg{msg: msg, err: fmt.Errorf("stored but not relayed: %w", err)}
			}
		}
		return sentMsg{msg: msg}
	}
}

func (model *TUIModel) closeLive() {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client quit"))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// unsubscribe tells the relay the client left the room without closing the
// connection.
func (model *TUIModel) unsubscribe(roomID string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = writeEnvelope(model.websocketConn, relay.EventLeaveRoom, map[string]string{"roomId": roomID})
	model.writeMutex.Unlock()
}

func writeEnvelope(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(relay.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(httpTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func describeError(err error) string {
	var apiErr *apiError
	switch {
	case errors.Is(err, errUnauthorized):
		return "Session expired or credentials rejected. Please log in again."
	case errors.As(err, &apiErr):
		return apiErr.Message
	default:
		return err.Error()
	}
}
