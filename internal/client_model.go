package internal

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput textinput.Model
	api       *apiClient
	opts      ClientOptions

	username string
	userID   int64
	unified  bool

	messages []chatLine
	notices  []string

	rooms        []roomResponse
	roomsMine    bool
	selectedRoom int
	room         *roomResponse
	online       map[int64]string

	files        []fileItem
	browsePath   string
	selectedFile int

	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error

	mode        appMode
	authIntent  authIntent
	pendingUser string
	loading     bool
}

// chatLine is one rendered entry of the open room's log.
type chatLine struct {
	RoomID   string
	User     string
	Body     string
	FileName string
	At       time.Time
	System   bool
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRooms
	modeNewRoom
	modeRoomID
	modeChat
	modeFileBrowser
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	// ServerURL is the http(s) base of the server.
	ServerURL string
	// LivePath is the websocket endpoint path, /live by default.
	LivePath string
	// Username pre-fills the login prompt.
	Username string
	// Room is opened right after login when set.
	Room string
	// SessionPath persists the login token between runs. Empty disables it.
	SessionPath string
}

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Blur()

	if opts.Username == "" {
		opts.Username = defaultUsername()
	}
	if opts.LivePath == "" {
		opts.LivePath = "/live"
	}

	return &TUIModel{
		textInput:  input,
		api:        newAPIClient(opts.ServerURL),
		opts:       opts,
		username:   opts.Username,
		messages:   make([]chatLine, 0, 64),
		online:     make(map[int64]string),
		mode:       modeAuthMenu,
		browsePath: getDefaultBrowsePath(),
	}
}

// init user
func defaultUsername() string {
	if user := os.Getenv("ROOMCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

// Init resumes a saved session when one is on disk.
func (model *TUIModel) Init() tea.Cmd {
	if model.opts.SessionPath == "" {
		return nil
	}
	session, err := loadSessionFromDisk(model.opts.SessionPath)
	if err != nil {
		return nil
	}
	model.loading = true
	return model.resumeCmd(*session)
}
