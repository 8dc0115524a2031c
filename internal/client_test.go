package internal

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/goccy/go-json"

	"roomchat/internal/chat"
	"roomchat/internal/relay"
)

func TestClientAPIAgainstServer(t *testing.T) {
	h := newAPIHarness(t, false)
	ctx := context.Background()
	api := newAPIClient(h.srv.URL + "/")

	if err := api.signup(ctx, "alice", "secret-pass"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	login, err := api.login(ctx, "alice", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if api.token == "" || login.User.Username != "alice" {
		t.Fatalf("unexpected login %+v", login)
	}

	health, err := api.health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Version != Version || health.UnifiedSend {
		t.Fatalf("health = %+v", health)
	}

	room, err := api.createRoom(ctx, "Gophers", chat.VisibilityPublic)
	if err != nil {
		t.Fatalf("createRoom: %v", err)
	}
	mine, err := api.myRooms(ctx)
	if err != nil || len(mine) != 1 || mine[0].ID != room.ID || mine[0].UserRole != "admin" {
		t.Fatalf("myRooms = %+v, %v", mine, err)
	}
	public, err := api.publicRooms(ctx, "goph")
	if err != nil || len(public) != 1 {
		t.Fatalf("publicRooms = %+v, %v", public, err)
	}

	msg, err := api.appendMessage(ctx, room.ID, appendMessageRequest{Content: "hello", Type: "text"})
	if err != nil || msg.Content != "hello" || msg.Sender.Username != "alice" {
		t.Fatalf("appendMessage = %+v, %v", msg, err)
	}

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("meeting notes"), 0o600); err != nil {
		t.Fatal(err)
	}
	up, err := api.uploadFile(ctx, room.ID, path)
	if err != nil || up.FileName != "notes.txt" || up.Size != int64(len("meeting notes")) {
		t.Fatalf("uploadFile = %+v, %v", up, err)
	}

	view, err := api.openRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("openRoom: %v", err)
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != "hello" {
		t.Fatalf("openRoom messages = %+v", view.Messages)
	}

	if err := api.leaveRoom(ctx, room.ID); err != nil {
		t.Fatalf("leaveRoom: %v", err)
	}
	if err := api.leaveRoom(ctx, room.ID); !isStatus(err, http.StatusNotFound) {
		t.Fatalf("second leave = %v, want 404", err)
	}

	token := api.token
	if err := api.logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	api.token = token
	if _, err := api.myRooms(ctx); !errors.Is(err, errUnauthorized) {
		t.Fatalf("myRooms after logout = %v", err)
	}
}

func TestClientAPIReportsServerMessage(t *testing.T) {
	h := newAPIHarness(t, false)
	ctx := context.Background()
	api := newAPIClient(h.srv.URL)

	if err := api.signup(ctx, "alice", "secret-pass"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	err := api.signup(ctx, "alice", "secret-pass")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Message != "username already taken" {
		t.Fatalf("duplicate signup = %v", err)
	}
	if got := describeError(err); got != "username already taken" {
		t.Fatalf("describeError = %q", got)
	}
	if _, err := api.login(ctx, "alice", "wrong-pass"); !errors.Is(err, errUnauthorized) {
		t.Fatalf("bad login = %v", err)
	}
}

func TestReadResponseError(t *testing.T) {
	cases := map[string]string{
		`{"message":"room is at maximum capacity"}`: "room is at maximum capacity",
		"plain failure\n": "plain failure",
		"":                "request failed",
	}
	for body, want := range cases {
		if got := readResponseError(strings.NewReader(body)); got != want {
			t.Errorf("readResponseError(%q) = %q, want %q", body, got, want)
		}
	}
}

func TestLiveURL(t *testing.T) {
	cases := []struct {
		base, path, token, want string
	}{
		{"http://localhost:8080", "/live", "abc", "ws://localhost:8080/live?token=abc"},
		{"https://chat.example.com/", "", "", "wss://chat.example.com/live"},
		{"ws://127.0.0.1:9000", "/stream", "t", "ws://127.0.0.1:9000/stream?token=t"},
	}
	for _, tc := range cases {
		got, err := liveURL(tc.base, tc.path, tc.token)
		if err != nil || got != tc.want {
			t.Errorf("liveURL(%q, %q) = %q, %v; want %q", tc.base, tc.path, got, err, tc.want)
		}
	}
	if _, err := liveURL("ftp://host", "/live", ""); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	want := sessionFile{Username: "alice", UserID: 7, Token: "tok"}
	if err := saveSessionToDisk(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadSessionFromDisk(path)
	if err != nil || *got != want {
		t.Fatalf("load = %+v, %v", got, err)
	}
	if err := deleteSessionFile(path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := deleteSessionFile(path); err != nil {
		t.Fatalf("deleting a missing session should succeed: %v", err)
	}
	if _, err := loadSessionFromDisk(path); err == nil {
		t.Fatal("expected an error after delete")
	}
}

func typeText(model *TUIModel, text string) {
	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestModelLoginFlow(t *testing.T) {
	h := newAPIHarness(t, false)
	h.login("alice")
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	model := NewTUIModel(ClientOptions{ServerURL: h.srv.URL, Username: "ignored", SessionPath: sessionPath})

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'1'}})
	if model.mode != modeAuthUsername {
		t.Fatalf("mode = %v, want username prompt", model.mode)
	}
	model.textInput.SetValue("")
	typeText(model, "alice")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.mode != modeAuthPassword || model.pendingUser != "alice" {
		t.Fatalf("mode = %v pending = %q", model.mode, model.pendingUser)
	}
	typeText(model, "secret-pass")
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil || !model.loading {
		t.Fatal("expected an auth command")
	}

	done, ok := cmd().(authDoneMsg)
	if !ok || done.err != nil {
		t.Fatalf("auth result = %+v", done)
	}
	model.Update(done)
	if model.mode != modeRooms || model.username != "alice" || model.userID == 0 {
		t.Fatalf("after login mode=%v user=%q id=%d", model.mode, model.username, model.userID)
	}
	saved, err := loadSessionFromDisk(sessionPath)
	if err != nil || saved.Username != "alice" {
		t.Fatalf("saved session = %+v, %v", saved, err)
	}

	// A new model resumes from the saved session.
	resumed := NewTUIModel(ClientOptions{ServerURL: h.srv.URL, SessionPath: sessionPath})
	initCmd := resumed.Init()
	if initCmd == nil {
		t.Fatal("expected a resume command")
	}
	resumed.Update(initCmd())
	if resumed.mode != modeRooms || resumed.username != "alice" {
		t.Fatalf("resume mode=%v user=%q", resumed.mode, resumed.username)
	}
}

func TestModelRejectedLoginReturnsToMenu(t *testing.T) {
	model := NewTUIModel(ClientOptions{ServerURL: "http://localhost:1"})
	model.mode = modeAuthPassword
	model.loading = true
	model.Update(authDoneMsg{err: errUnauthorized})
	if model.mode != modeAuthMenu || model.loading || len(model.notices) != 1 {
		t.Fatalf("mode=%v loading=%v notices=%v", model.mode, model.loading, model.notices)
	}
}

func TestModelRoomView(t *testing.T) {
	model := NewTUIModel(ClientOptions{ServerURL: "http://localhost:1"})
	model.username = "alice"
	model.userID = 1
	model.mode = modeRooms

	now := time.Now().UTC()
	room := &chat.Room{ID: "room-1", Name: "Gophers", Capacity: 50}
	view := &openRoomResponse{
		roomResponse: roomResponse{Room: room, UserRole: "member"},
		Messages: []chat.Message{
			{ID: 1, RoomID: "room-1", Sender: chat.UserRef{ID: 2, Username: "bob"}, Content: "earlier", CreatedAt: now},
		},
	}
	_, cmd := model.Update(roomOpenedMsg{view: view})
	if cmd == nil || model.mode != modeChat || model.room.ID != "room-1" {
		t.Fatalf("mode=%v room=%+v", model.mode, model.room)
	}
	if len(model.messages) != 1 || model.messages[0].Body != "earlier" {
		t.Fatalf("messages = %+v", model.messages)
	}

	emit := func(event string, data any) {
		raw, _ := json.Marshal(data)
		model.Update(liveEventMsg{env: relay.Envelope{Event: event, Data: raw}})
	}
	emit(relay.EventReceiveMessage, relay.LiveMessage{
		Message:   &chat.Message{RoomID: "room-1", Sender: chat.UserRef{ID: 2, Username: "bob"}, Content: "live hello", CreatedAt: now},
		Timestamp: now,
	})
	emit(relay.EventReceiveMessage, map[string]any{
		"roomId": "elsewhere", "content": "not for us", "sender": relay.Identity{ID: 3, Username: "carol"},
	})
	emit(relay.EventUserJoinedRoom, relay.Presence{Identity: relay.Identity{ID: 3, Username: "carol"}, RoomID: "room-1"})
	emit(relay.EventUserOnline, relay.Presence{Identity: relay.Identity{ID: 3, Username: "carol"}})

	if len(model.messages) != 3 {
		t.Fatalf("messages = %+v", model.messages)
	}
	if model.messages[1].Body != "live hello" || !model.messages[2].System || !strings.Contains(model.messages[2].Body, "carol joined") {
		t.Fatalf("unexpected lines %+v", model.messages[1:])
	}
	if model.online[3] != "carol" {
		t.Fatalf("online = %v", model.online)
	}

	rendered := model.View()
	for _, want := range []string{"Gophers", "live hello", "carol joined the room"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("view missing %q", want)
		}
	}

	model.Update(sentMsg{msg: &chat.Message{RoomID: "room-1", Sender: chat.UserRef{ID: 1, Username: "alice"}, Content: "mine", CreatedAt: now}})
	if last := model.messages[len(model.messages)-1]; last.Body != "mine" || last.User != "alice" {
		t.Fatalf("own message not echoed: %+v", last)
	}

	model.textInput.SetValue("/rooms")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.mode != modeRooms || model.room != nil {
		t.Fatalf("after /rooms mode=%v room=%+v", model.mode, model.room)
	}
}

func TestModelReconnectsAfterLiveClose(t *testing.T) {
	model := NewTUIModel(ClientOptions{ServerURL: "http://localhost:1"})
	model.room = &roomResponse{Room: &chat.Room{ID: "r"}}
	model.mode = modeChat
	_, cmd := model.Update(liveClosedMsg{conn: nil, err: errors.New("gone")})
	if cmd == nil || model.connectionError == nil {
		t.Fatal("closing the current connection should schedule a reconnect")
	}
}

func TestBrowseDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"b.txt": "bb", "a.txt": "a", ".hidden": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	items, err := browseDirectory(dir)
	if err != nil {
		t.Fatalf("browseDirectory: %v", err)
	}
	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	if got := strings.Join(names, ","); got != "..,sub,a.txt,b.txt" {
		t.Fatalf("entries = %s", got)
	}
	if items[3].Size != 2 || !items[1].IsDir {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
		3 << 30:         "3.0 GB",
	}
	for in, want := range cases {
		if got := formatFileSize(in); got != want {
			t.Errorf("formatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestVersionComparison(t *testing.T) {
	if CompareVersions("1.2.0", "v1.10.0") != -1 {
		t.Error("1.2.0 should sort before 1.10.0")
	}
	if CompareVersions("v2.0.0", "2.0.0") != 0 {
		t.Error("a leading v should not matter")
	}
	if !compatibleVersions("1.4.0", "1.9.2") || compatibleVersions("1.4.0", "2.0.0") {
		t.Error("major versions decide compatibility")
	}
	if !compatibleVersions("1.0.0", "") {
		t.Error("an unknown server version is compatible")
	}
}
