package internal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/logging"
	"roomchat/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeLive upgrades to a websocket and hands the connection to the relay.
// A valid token pins the connection's identity; without one the connection
// stays anonymous until it announces itself with join_user.
func (s *Server) ServeLive(w http.ResponseWriter, r *http.Request) {
	var auth *relay.Identity
	if bearerToken(r) != "" {
		a, err := s.authenticateRequest(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		auth = &relay.Identity{ID: a.UserID, Username: a.Username, Avatar: a.Avatar}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	if _, err := s.hub.Attach(ws, auth); err != nil {
		if errors.Is(err, relay.ErrHubClosed) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), s.now().Add(time.Second))
		}
		_ = ws.Close()
	}
}
