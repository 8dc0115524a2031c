package internal

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"roomchat/internal/relay"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeLive()
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			return model.updateAuthMenu(typedMessage)
		case modeAuthUsername, modeAuthPassword:
			return model.updateAuthPrompt(typedMessage)
		case modeRooms:
			return model.updateRooms(typedMessage)
		case modeNewRoom, modeRoomID:
			return model.updateRoomPrompt(typedMessage)
		case modeChat:
			return model.updateChat(typedMessage)
		case modeFileBrowser:
			return model.updateFileBrowser(typedMessage)
		}

	case authDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.api.token = ""
			model.notify(describeError(typedMessage.err))
			model.enterAuthMenu()
			return model, nil
		}
		model.username = typedMessage.session.Username
		model.userID = typedMessage.session.UserID
		model.unified = typedMessage.server.unified
		if !compatibleVersions(Version, typedMessage.server.version) {
			model.notify(fmt.Sprintf("Server runs %s, this client is %s; some features may not work.", typedMessage.server.version, Version))
		}
		if model.opts.SessionPath != "" {
			if err := saveSessionToDisk(model.opts.SessionPath, typedMessage.session); err != nil {
				model.notify(fmt.Sprintf("Could not save session: %v", err))
			}
		}
		model.enterRooms()
		cmds := []tea.Cmd{model.loadRoomsCmd(false)}
		if model.opts.Room != "" {
			model.loading = true
			cmds = append(cmds, model.openRoomCmd(model.opts.Room))
			model.opts.Room = ""
		}
		return model, tea.Batch(cmds...)

	case loggedOutMsg:
		model.closeLive()
		model.userID = 0
		model.rooms = nil
		model.room = nil
		model.notify("Logged out.")
		model.enterAuthMenu()
		return model, nil

	case roomsLoadedMsg:
		model.loading = false
		if typedMessage.err != nil {
			model.notify("Could not load rooms: " + describeError(typedMessage.err))
			return model, nil
		}
		model.rooms = typedMessage.rooms
		model.roomsMine = typedMessage.mine
		model.selectedRoom = clampIndex(model.selectedRoom, len(model.rooms))
		return model, nil

	case roomOpenedMsg:
		model.loading = false
		if typedMessage.err != nil {
			if isStatus(typedMessage.err, http.StatusNotFound) {
				model.notify("Room not found.")
			} else {
				model.notify("Could not open room: " + describeError(typedMessage.err))
			}
			if model.mode != modeRooms {
				model.enterRooms()
			}
			return model, nil
		}
		return model, model.enterChat(typedMessage.view)

	case connectedMsg:
		if model.mode != modeChat || model.room == nil {
			_ = typedMessage.conn.Close()
			return model, nil
		}
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		return model, readOnceCmd(typedMessage.conn)

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if model.mode == modeChat && model.room != nil {
			return model, model.scheduleReconnect(model.room.ID)
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeChat && model.room != nil && model.room.ID == typedMessage.roomID && !model.isConnected {
			return model, model.connectCmd(typedMessage.roomID)
		}
		return model, nil

	case liveEventMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.handleLiveEvent(typedMessage.env)
		return model, readOnceCmd(typedMessage.conn)

	case liveClosedMsg:
		if typedMessage.conn != model.websocketConn {
			return model, nil
		}
		model.websocketConn = nil
		model.isConnected = false
		model.connectionError = typedMessage.err
		if model.mode == modeChat && model.room != nil {
			return model, model.scheduleReconnect(model.room.ID)
		}
		return model, nil

	case sentMsg:
		if typedMessage.msg != nil && model.room != nil && typedMessage.msg.RoomID == model.room.ID {
			model.appendLine(lineFromMessage(*typedMessage.msg))
		}
		if typedMessage.err != nil {
			model.systemLine("Send failed: " + describeError(typedMessage.err))
		}
		return model, nil

	case leftRoomMsg:
		if typedMessage.err != nil {
			model.notify("Leave failed: " + describeError(typedMessage.err))
		} else {
			model.notify("You left the room.")
		}
		return model, model.loadRoomsCmd(model.roomsMine)
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "1", "l", "L":
		model.authIntent = authIntentLogin
	case "2", "s", "S":
		model.authIntent = authIntentSignup
	case "q", "Q", "esc":
		return model, tea.Quit
	default:
		return model, nil
	}
	model.mode = modeAuthUsername
	return model, model.prompt("user> ", "Username…", model.username)
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.enterAuthMenu()
		return model, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(model.textInput.Value())
		if value == "" || model.loading {
			return model, nil
		}
		if model.mode == modeAuthUsername {
			model.pendingUser = value
			model.mode = modeAuthPassword
			focus := model.prompt("pass> ", "Password…", "")
			model.textInput.EchoMode = textinputPassword
			return model, focus
		}
		model.loading = true
		model.textInput.SetValue("")
		return model, model.authCmd(model.authIntent, model.pendingUser, value)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateRooms(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if model.selectedRoom > 0 {
			model.selectedRoom--
		}
	case "down", "j":
		if model.selectedRoom < len(model.rooms)-1 {
			model.selectedRoom++
		}
	case "enter":
		if len(model.rooms) == 0 || model.loading {
			return model, nil
		}
		model.loading = true
		return model, model.openRoomCmd(model.rooms[model.selectedRoom].ID)
	case "tab":
		model.loading = true
		return model, model.loadRoomsCmd(!model.roomsMine)
	case "r", "R":
		model.loading = true
		return model, model.loadRoomsCmd(model.roomsMine)
	case "n", "N":
		model.mode = modeNewRoom
		return model, model.prompt("name> ", "Room name…", "")
	case "m", "M":
		model.mode = modeRoomID
		return model, model.prompt("room> ", "Room id…", "")
	case "l", "L":
		return model, model.logoutCmd()
	case "q", "Q":
		model.closeLive()
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.enterRooms()
		return model, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(model.textInput.Value())
		if value == "" || model.loading {
			return model, nil
		}
		model.loading = true
		model.textInput.SetValue("")
		if model.mode == modeNewRoom {
			return model, model.createRoomCmd(value)
		}
		return model, model.openRoomCmd(value)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, model.exitRoom(false)
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" || model.room == nil {
			return model, nil
		}
		model.textInput.SetValue("")
		if strings.HasPrefix(trimmed, "/") {
			return model, model.runCommand(trimmed)
		}
		return model, model.sendCmd(model.room.ID, appendMessageRequest{Content: trimmed, Type: "text"})
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) runCommand(input string) tea.Cmd {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		model.closeLive()
		return tea.Quit
	case "/rooms", "/back":
		return model.exitRoom(false)
	case "/leave":
		return model.exitRoom(true)
	case "/upload":
		if len(fields) > 1 {
			path := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
			model.systemLine("Uploading " + path + "…")
			return model.uploadCmd(model.room.ID, path)
		}
		return model.enterFileBrowser()
	case "/help":
		model.systemLine("Commands: /rooms back to the list, /leave leave the room, /upload [path] share a file, /quit exit")
		return nil
	}
	model.systemLine("Unknown command " + fields[0] + ". Try /help.")
	return nil
}

func (model *TUIModel) updateFileBrowser(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "esc", "q":
		model.mode = modeChat
		return model, model.textInput.Focus()
	case "up", "k":
		if model.selectedFile > 0 {
			model.selectedFile--
		}
	case "down", "j":
		if model.selectedFile < len(model.files)-1 {
			model.selectedFile++
		}
	case "enter":
		if len(model.files) == 0 {
			return model, nil
		}
		item := model.files[model.selectedFile]
		if item.IsDir {
			model.browsePath = item.Path
			return model, model.enterFileBrowser()
		}
		model.mode = modeChat
		model.systemLine("Uploading " + item.Name + "…")
		return model, tea.Batch(model.textInput.Focus(), model.uploadCmd(model.room.ID, item.Path))
	}
	return model, nil
}

func (model *TUIModel) handleLiveEvent(env relay.Envelope) {
	switch env.Event {
	case relay.EventReceiveMessage:
		var msg liveMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if model.room != nil && msg.RoomID == model.room.ID {
			model.appendLine(msg.line())
		}
	case relay.EventUserJoinedRoom, relay.EventUserLeftRoom:
		var p relay.Presence
		if err := json.Unmarshal(env.Data, &p); err != nil || model.room == nil || p.RoomID != model.room.ID {
			return
		}
		verb := "joined"
		if env.Event == relay.EventUserLeftRoom {
			verb = "left"
		}
		model.systemLine(fmt.Sprintf("%s %s the room", p.Username, verb))
	case relay.EventUserOnline:
		var p relay.Presence
		if err := json.Unmarshal(env.Data, &p); err == nil {
			model.online[p.ID] = p.Username
		}
	case relay.EventUserOffline:
		var p relay.Presence
		if err := json.Unmarshal(env.Data, &p); err == nil {
			delete(model.online, p.ID)
		}
	}
}

func (model *TUIModel) enterAuthMenu() {
	model.mode = modeAuthMenu
	model.pendingUser = ""
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinputNormal
	model.textInput.Blur()
}

func (model *TUIModel) enterRooms() {
	model.mode = modeRooms
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinputNormal
	model.textInput.Blur()
}

func (model *TUIModel) enterChat(view *openRoomResponse) tea.Cmd {
	model.closeLive()
	room := view.roomResponse
	model.room = &room
	model.mode = modeChat
	model.notices = nil
	model.connectionError = nil
	model.messages = model.messages[:0]
	for _, msg := range view.Messages {
		model.appendLine(lineFromMessage(msg))
	}
	focus := model.prompt("> ", "Type a message…", "")
	return tea.Batch(focus, model.connectCmd(room.ID))
}

// exitRoom returns to the room list, optionally leaving the room for good.
func (model *TUIModel) exitRoom(leave bool) tea.Cmd {
	if model.room == nil {
		model.enterRooms()
		return nil
	}
	roomID := model.room.ID
	model.unsubscribe(roomID)
	model.closeLive()
	model.room = nil
	model.enterRooms()
	if leave {
		return model.leaveRoomCmd(roomID)
	}
	return model.loadRoomsCmd(model.roomsMine)
}

func (model *TUIModel) enterFileBrowser() tea.Cmd {
	items, err := browseDirectory(model.browsePath)
	if err != nil {
		model.systemLine(fmt.Sprintf("Cannot open %s: %v", model.browsePath, err))
		return nil
	}
	model.files = items
	model.selectedFile = 0
	model.mode = modeFileBrowser
	model.textInput.Blur()
	return nil
}

func (model *TUIModel) prompt(prefix, placeholder, value string) tea.Cmd {
	model.textInput.Prompt = prefix
	model.textInput.Placeholder = placeholder
	model.textInput.EchoMode = textinputNormal
	model.textInput.SetValue(value)
	return model.textInput.Focus()
}

func (model *TUIModel) appendLine(line chatLine) {
	if line.At.IsZero() {
		line.At = time.Now()
	}
	model.messages = append(model.messages, line)
	if over := len(model.messages) - maxChatLines; over > 0 {
		model.messages = append(model.messages[:0], model.messages[over:]...)
	}
}

func (model *TUIModel) systemLine(body string) {
	roomID := ""
	if model.room != nil {
		roomID = model.room.ID
	}
	model.appendLine(chatLine{RoomID: roomID, User: "system", Body: body, System: true})
}

func (model *TUIModel) notify(body string) {
	model.notices = append(model.notices, body)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
