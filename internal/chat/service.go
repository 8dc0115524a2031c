package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	LogBound int
	Now      func() time.Time
	NewID    func() string
}

// Service owns the room lifecycle, membership rules and message log. All
// mutations on a room are serialised through a per-room lock so concurrent
// joins cannot overshoot capacity and appends keep a total order.
type Service struct {
	store    Store
	locks    *roomLocks
	logBound int
	now      func() time.Time
	newID    func() string
}

func NewService(store Store, opts Options) *Service {
	if opts.LogBound <= 0 {
		opts.LogBound = DefaultLogBound
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		store:    store,
		locks:    newRoomLocks(),
		logBound: opts.LogBound,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// LogBound reports the per-room message cap.
func (s *Service) LogBound() int { return s.logBound }

type CreateRoomInput struct {
	Name        string
	Description string
	Visibility  Visibility
	Category    Category
	Capacity    int
	Rules       []string
}

type SettingsInput struct {
	Name        *string
	Description *string
	Capacity    *int
	Rules       []string
}

type RoomPage struct {
	Rooms []Room
	Total int
}

func (s *Service) CreateRoom(ctx context.Context, creatorID int64, in CreateRoomInput) (*Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrValidation)
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return nil, fmt.Errorf("%w: unknown room type %q", ErrValidation, in.Visibility)
	}
	if in.Category == "" {
		in.Category = CategoryGeneral
	}
	if !in.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrValidation, in.Category)
	}
	if in.Capacity == 0 {
		in.Capacity = DefaultCapacity
	}
	if in.Capacity < 1 {
		return nil, fmt.Errorf("%w: maxMembers must be at least 1", ErrValidation)
	}

	now := s.now()
	room := &Room{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Visibility:  in.Visibility,
		Category:    in.Category,
		Capacity:    in.Capacity,
		Rules:       cleanRules(in.Rules),
		Members: []Member{{
			User:     UserRef{ID: creatorID},
			Role:     RoleAdmin,
			JoinedAt: now,
			LastSeen: now,
		}},
		Admins:    []int64{creatorID},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return s.store.GetRoom(ctx, room.ID)
}

// GetRoom returns the room regardless of its activity flag.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

func (s *Service) ListRooms(ctx context.Context, filter RoomFilter, page, pageSize int) (RoomPage, error) {
	if page < 1 || pageSize < 1 {
		return RoomPage{}, fmt.Errorf("%w: page and limit must be positive", ErrValidation)
	}
	filter.Query = strings.TrimSpace(filter.Query)
	rooms, total, err := s.store.ListRooms(ctx, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		return RoomPage{}, fmt.Errorf("list rooms: %w", err)
	}
	return RoomPage{Rooms: rooms, Total: total}, nil
}

func (s *Service) ListMemberRooms(ctx context.Context, userID int64) ([]Room, error) {
	rooms, err := s.store.ListMemberRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list member rooms: %w", err)
	}
	return rooms, nil
}

func (s *Service) UpdateSettings(ctx context.Context, roomID string, requesterID int64, in SettingsInput) (*Room, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAdmin(requesterID) {
		return nil, fmt.Errorf("%w: only room admins can update settings", ErrForbidden)
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: room name is required", ErrValidation)
		}
		room.Name = name
	}
	if in.Description != nil {
		room.Description = strings.TrimSpace(*in.Description)
	}
	if in.Capacity != nil {
		c := *in.Capacity
		if c < 1 {
			return nil, fmt.Errorf("%w: maxMembers must be at least 1", ErrValidation)
		}
		if c < len(room.Members) {
			return nil, fmt.Errorf("%w: maxMembers cannot be below the current member count (%d)", ErrValidation, len(room.Members))
		}
		room.Capacity = c
	}
	if in.Rules != nil {
		room.Rules = cleanRules(in.Rules)
	}
	room.UpdatedAt = s.now()
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	return room, nil
}

// Retire deactivates a room. Its data stays in the store.
func (s *Service) Retire(ctx context.Context, roomID string, requesterID int64) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsAdmin(requesterID) {
		return fmt.Errorf("%w: only room admins can delete the room", ErrForbidden)
	}
	room.Active = false
	room.UpdatedAt = s.now()
	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("retire room: %w", err)
	}
	return nil
}

func (s *Service) Join(ctx context.Context, roomID string, userID int64) (*Room, error) {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsMember(userID) {
		return nil, fmt.Errorf("%w: already a member of this room", ErrConflict)
	}
	if len(room.Members) >= room.Capacity {
		return nil, fmt.Errorf("%w: room is at maximum capacity", ErrCapacityExceeded)
	}
	now := s.now()
	if err := s.store.AddMember(ctx, roomID, Member{
		User:     UserRef{ID: userID},
		Role:     RoleMember,
		JoinedAt: now,
		LastSeen: now,
	}); err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	return s.store.GetRoom(ctx, roomID)
}

func (s *Service) Leave(ctx context.Context, roomID string, userID int64) error {
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsMember(userID) {
		return fmt.Errorf("%w: not a member of this room", ErrNotFound)
	}
	if err := s.store.RemoveMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// SetRole changes a member's role. Granting admin adds the member to the admin
// set and any other role removes them from it.
func (s *Service) SetRole(ctx context.Context, roomID string, requesterID, targetID int64, role Role) (*Room, error) {
	if role == RoleGuest || role > RoleAdmin {
		return nil, fmt.Errorf("%w: invalid role %s", ErrValidation, role)
	}
	unlock := s.locks.lock(roomID)
	defer unlock()

	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAdmin(requesterID) {
		return nil, fmt.Errorf("%w: only room admins can change roles", ErrForbidden)
	}
	if !room.IsMember(targetID) {
		return nil, fmt.Errorf("%w: user is not a member of this room", ErrNotFound)
	}
	if role != RoleAdmin && room.IsAdmin(targetID) && len(room.Admins) == 1 {
		return nil, fmt.Errorf("%w: a room needs at least one admin", ErrConflict)
	}
	if err := s.store.SetMemberRole(ctx, roomID, targetID, role); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	return s.store.GetRoom(ctx, roomID)
}

func (s *Service) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsMember(userID), nil
}

func (s *Service) IsAdmin(ctx context.Context, roomID string, userID int64) (bool, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsAdmin(userID), nil
}

func (s *Service) RoleOf(ctx context.Context, roomID string, userID int64) (Role, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return RoleGuest, err
	}
	return room.RoleOf(userID), nil
}

// CanRead reports whether userID may read the room's history.
func (s *Service) CanRead(ctx context.Context, roomID string, userID int64) (bool, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.CanRead(userID), nil
}

// CanSend reports whether userID may post to an active room.
func (s *Service) CanSend(ctx context.Context, roomID string, userID int64) (bool, error) {
	room, err := s.activeRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.CanSend(userID), nil
}

func (s *Service) activeRoom(ctx context.Context, roomID string) (*Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.Active {
		return nil, fmt.Errorf("%w: room %s is no longer active", ErrNotFound, roomID)
	}
	return room, nil
}

func cleanRules(rules []string) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// IsClientError reports whether err belongs to one of the service's error
// classes rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCapacityExceeded)
}
