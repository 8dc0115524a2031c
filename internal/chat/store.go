package chat

import (
	"context"
	"time"
)

// RoomFilter narrows ListRooms. Zero fields do not filter.
type RoomFilter struct {
	Visibility Visibility
	Category   Category
	Query      string
	ActiveOnly bool
}

// Store persists rooms, memberships and per-room message logs. Lookups of
// missing rows return an error wrapping ErrNotFound.
type Store interface {
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListRooms(ctx context.Context, filter RoomFilter, offset, limit int) ([]Room, int, error)
	ListMemberRooms(ctx context.Context, userID int64) ([]Room, error)
	// UpdateRoom writes name, description, capacity, rules, active and updated_at.
	UpdateRoom(ctx context.Context, room *Room) error

	AddMember(ctx context.Context, roomID string, member Member) error
	// RemoveMember deletes the membership and any admin entry for the user.
	RemoveMember(ctx context.Context, roomID string, userID int64) error
	// SetMemberRole updates the member role and the admin set together.
	SetMemberRole(ctx context.Context, roomID string, userID int64, role Role) error
	TouchMember(ctx context.Context, roomID string, userID int64, at time.Time) error

	// AppendMessage stores msg (filling ID and sender display fields) and trims
	// the room's log to bound oldest-first in the same transaction. It returns
	// the number of trimmed entries.
	AppendMessage(ctx context.Context, msg *Message, bound int) (int, error)
	CountMessages(ctx context.Context, roomID string) (int, error)
	// ListMessages returns a window of the log in append order.
	ListMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, error)
	GetMessage(ctx context.Context, roomID string, messageID int64) (*Message, error)
	EditMessage(ctx context.Context, roomID string, messageID int64, content string, at time.Time) error
	// AddReaction returns ErrConflict when the user already used that emoji.
	AddReaction(ctx context.Context, messageID int64, reaction Reaction) error
}
