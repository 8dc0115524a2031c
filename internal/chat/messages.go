package chat

import (
	"context"
	"fmt"
	"strings"

	"roomchat/internal/metrics"
)

// SnapshotSize is how many recent messages accompany an opened room.
const SnapshotSize = 50

type AppendInput struct {
	RoomID   string
	SenderID int64
	Content  string
	Kind     Kind
	FileURL  string
	FileName string
}

type MessagePage struct {
	Messages []Message
	Total    int
	HasMore  bool
}

// RoomView is what a viewer sees when opening a room.
type RoomView struct {
	Room   *Room
	Recent []Message
	Role   Role
}

// Append adds a message to the room's log and trims the log to the bound.
func (s *Service) Append(ctx context.Context, in AppendInput) (*Message, error) {
	if in.Kind == "" {
		in.Kind = KindText
	}
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, in.Kind)
	}
	content := strings.TrimSpace(in.Content)
	switch in.Kind {
	case KindText:
		if content == "" {
			return nil, fmt.Errorf("%w: message content is required", ErrValidation)
		}
	default:
		if strings.TrimSpace(in.FileURL) == "" {
			return nil, fmt.Errorf("%w: fileUrl is required for %s messages", ErrValidation, in.Kind)
		}
	}

	unlock := s.locks.lock(in.RoomID)
	defer unlock()

	room, err := s.activeRoom(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.CanSend(in.SenderID) {
		return nil, fmt.Errorf("%w: this room is private", ErrForbidden)
	}

	now := s.now()
	msg := &Message{
		RoomID:    in.RoomID,
		Sender:    UserRef{ID: in.SenderID},
		Content:   content,
		Kind:      in.Kind,
		FileURL:   strings.TrimSpace(in.FileURL),
		FileName:  strings.TrimSpace(in.FileName),
		Reactions: []Reaction{},
		CreatedAt: now,
	}
	trimmed, err := s.store.AppendMessage(ctx, msg, s.logBound)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesAppendedTotal.WithLabelValues(string(msg.Kind)).Inc()
	if trimmed > 0 {
		metrics.MessagesTrimmedTotal.Add(float64(trimmed))
	}
	if room.IsMember(in.SenderID) {
		if err := s.store.TouchMember(ctx, in.RoomID, in.SenderID, now); err != nil {
			return nil, fmt.Errorf("touch member: %w", err)
		}
	}
	return msg, nil
}

// Page returns one page of history, newest first. Page 1 holds the most recent
// pageSize messages.
func (s *Service) Page(ctx context.Context, roomID string, viewerID int64, page, pageSize int) (MessagePage, error) {
	if page < 1 || pageSize < 1 {
		return MessagePage{}, fmt.Errorf("%w: page and limit must be positive", ErrValidation)
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return MessagePage{}, err
	}
	if !room.CanRead(viewerID) {
		return MessagePage{}, fmt.Errorf("%w: access denied to private room", ErrForbidden)
	}
	total, err := s.store.CountMessages(ctx, roomID)
	if err != nil {
		return MessagePage{}, fmt.Errorf("count messages: %w", err)
	}
	start, end := pageWindow(total, page, pageSize)
	out := MessagePage{Messages: []Message{}, Total: total, HasMore: start > 0}
	if end <= start {
		return out, nil
	}
	window, err := s.store.ListMessages(ctx, roomID, start, end-start)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	for i := len(window) - 1; i >= 0; i-- {
		out.Messages = append(out.Messages, window[i])
	}
	return out, nil
}

// pageWindow maps a page onto [start, end) of the append-ordered log.
func pageWindow(total, page, pageSize int) (int, int) {
	start := max(0, total-page*pageSize)
	end := max(0, total-(page-1)*pageSize)
	return start, end
}

// Recent returns up to limit of the newest messages, oldest first.
func (s *Service) Recent(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit < 1 {
		return []Message{}, nil
	}
	total, err := s.store.CountMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	start := max(0, total-limit)
	msgs, err := s.store.ListMessages(ctx, roomID, start, total-start)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Open returns the room with its recent history and the viewer's role.
// Private rooms are only visible to members.
func (s *Service) Open(ctx context.Context, roomID string, viewerID int64) (*RoomView, error) {
	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanRead(viewerID) {
		return nil, fmt.Errorf("%w: access denied to private room", ErrForbidden)
	}
	recent, err := s.Recent(ctx, roomID, SnapshotSize)
	if err != nil {
		return nil, err
	}
	return &RoomView{Room: room, Recent: recent, Role: room.RoleOf(viewerID)}, nil
}

// EditMessage replaces the content of a text message. Only its sender may edit.
func (s *Service) EditMessage(ctx context.Context, roomID string, messageID, editorID int64, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}
	unlock := s.locks.lock(roomID)
	defer unlock()

	msg, err := s.store.GetMessage(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Sender.ID != editorID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", ErrForbidden)
	}
	now := s.now()
	if err := s.store.EditMessage(ctx, roomID, messageID, content, now); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &now
	return msg, nil
}

// React attaches an emoji reaction from userID to a message.
func (s *Service) React(ctx context.Context, roomID string, messageID, userID int64, emoji string) (*Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, fmt.Errorf("%w: emoji is required", ErrValidation)
	}
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanRead(userID) {
		return nil, fmt.Errorf("%w: access denied to private room", ErrForbidden)
	}
	if _, err := s.store.GetMessage(ctx, roomID, messageID); err != nil {
		return nil, err
	}
	if err := s.store.AddReaction(ctx, messageID, Reaction{UserID: userID, Emoji: emoji}); err != nil {
		return nil, err
	}
	return s.store.GetMessage(ctx, roomID, messageID)
}
