package internal

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"roomchat/internal/chat"
	"roomchat/internal/logging"
)

const (
	defaultRoomPageSize    = 20
	defaultMessagePageSize = 50
	maxPageSize            = 100
)

type roomResponse struct {
	*chat.Room
	MemberCount  int       `json:"memberCount"`
	LastActivity time.Time `json:"lastActivity"`
	UserRole     string    `json:"userRole,omitempty"`
}

func newRoomResponse(room *chat.Room, viewer *authContext) roomResponse {
	resp := roomResponse{Room: room, MemberCount: len(room.Members), LastActivity: room.UpdatedAt}
	if viewer != nil {
		resp.UserRole = room.RoleOf(viewer.UserID).String()
	}
	return resp
}

type roomListResponse struct {
	Rooms       []roomResponse `json:"rooms"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	TotalRooms  int            `json:"totalRooms"`
}

type openRoomResponse struct {
	roomResponse
	Messages []chat.Message `json:"messages"`
}

type messageListResponse struct {
	Messages      []chat.Message `json:"messages"`
	TotalMessages int            `json:"totalMessages"`
	HasMore       bool           `json:"hasMore"`
}

type createRoomRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Type        string   `json:"type" validate:"omitempty,oneof=public private direct"`
	Category    string   `json:"category"`
	MaxMembers  int      `json:"maxMembers" validate:"min=0,max=10000"`
	Rules       []string `json:"rules" validate:"max=50,dive,max=200"`
}

type updateRoomRequest struct {
	Name        *string  `json:"name" validate:"omitempty,max=100"`
	Description *string  `json:"description" validate:"omitempty,max=500"`
	MaxMembers  *int     `json:"maxMembers" validate:"omitempty,max=10000"`
	Rules       []string `json:"rules" validate:"max=50,dive,max=200"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type appendMessageRequest struct {
	Content  string `json:"content" validate:"max=4000"`
	Type     string `json:"type"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// HandleListRooms lists active public rooms, newest first.
func (s *Server) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultRoomPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit = min(limit, maxPageSize)
	filter := chat.RoomFilter{
		Visibility: chat.VisibilityPublic,
		Category:   chat.Category(q.Get("category")),
		Query:      q.Get("search"),
		ActiveOnly: true,
	}
	if filter.Category != "" && !filter.Category.Valid() {
		s.fail(w, r, fmt.Errorf("%w: unknown category %q", chat.ErrValidation, filter.Category))
		return
	}
	result, err := s.chat.ListRooms(r.Context(), filter, page, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := roomListResponse{
		Rooms:       make([]roomResponse, 0, len(result.Rooms)),
		TotalPages:  (result.Total + limit - 1) / limit,
		CurrentPage: page,
		TotalRooms:  result.Total,
	}
	for i := range result.Rooms {
		resp.Rooms = append(resp.Rooms, newRoomResponse(&result.Rooms[i], nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleMyRooms(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	rooms, err := s.chat.ListMemberRooms(r.Context(), viewer.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		resp = append(resp, newRoomResponse(&rooms[i], viewer))
	}
	writeJSON(w, http.StatusOK, map[string][]roomResponse{"rooms": resp})
}

func (s *Server) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	var req createRoomRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	room, err := s.chat.CreateRoom(r.Context(), viewer.UserID, chat.CreateRoomInput{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  chat.Visibility(req.Type),
		Category:    chat.Category(req.Category),
		Capacity:    req.MaxMembers,
		Rules:       req.Rules,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("room", room.ID).Str("name", room.Name).Msg("room created")
	writeJSON(w, http.StatusCreated, newRoomResponse(room, viewer))
}

// HandleGetRoom opens a room: its metadata, the viewer's role and the most
// recent messages.
func (s *Server) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	view, err := s.chat.Open(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, openRoomResponse{
		roomResponse: newRoomResponse(view.Room, viewer),
		Messages:     view.Recent,
	})
}

func (s *Server) HandleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	var req updateRoomRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	room, err := s.chat.UpdateSettings(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID, chat.SettingsInput{
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.MaxMembers,
		Rules:       req.Rules,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room, viewer))
}

func (s *Server) HandleRetireRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")
	if err := s.chat.Retire(r.Context(), roomID, viewer.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("room", roomID).Msg("room retired")
	writeJSON(w, http.StatusOK, map[string]string{"message": "room deleted"})
}

func (s *Server) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	room, err := s.chat.Join(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room, viewer))
}

func (s *Server) HandleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	if err := s.chat.Leave(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "left room"})
}

func (s *Server) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	targetID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || targetID <= 0 {
		s.fail(w, r, fmt.Errorf("%w: invalid user id", chat.ErrValidation))
		return
	}
	var req setRoleRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role, err := chat.ParseRole(req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	room, err := s.chat.SetRole(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID, targetID, role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room, viewer))
}

func (s *Server) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultMessagePageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.chat.Page(r.Context(), chi.URLParam(r, "roomID"), viewer.UserID, page, min(limit, maxPageSize))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageListResponse{
		Messages:      result.Messages,
		TotalMessages: result.Total,
		HasMore:       result.HasMore,
	})
}

// HandleAppendMessage stores a message. When live sends are unified the
// message is also relayed to the room's other subscribers; otherwise the
// sending client relays it over its live connection.
func (s *Server) HandleAppendMessage(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	var req appendMessageRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.chat.Append(r.Context(), chat.AppendInput{
		RoomID:   chi.URLParam(r, "roomID"),
		SenderID: viewer.UserID,
		Content:  req.Content,
		Kind:     chat.Kind(req.Type),
		FileURL:  req.FileURL,
		FileName: req.FileName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.hub.Unified() {
		s.hub.PublishRoomMessage(msg)
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) HandleEditMessage(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	messageID, err := pathID(r, "messageID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req editMessageRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.chat.EditMessage(r.Context(), chi.URLParam(r, "roomID"), messageID, viewer.UserID, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) HandleReact(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	messageID, err := pathID(r, "messageID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req reactionRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	msg, err := s.chat.React(r.Context(), chi.URLParam(r, "roomID"), messageID, viewer.UserID, req.Emoji)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q is not a positive number", chat.ErrValidation, raw)
	}
	return n, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", chat.ErrValidation, name)
	}
	return id, nil
}
