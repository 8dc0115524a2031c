package chat

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLogBound is the maximum number of messages kept per room.
const DefaultLogBound = 1000

// DefaultCapacity applies when a room is created without a member limit.
const DefaultCapacity = 100

// Visibility controls who may read and post in a room.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityDirect  Visibility = "direct"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityDirect:
		return true
	}
	return false
}

// Category groups rooms for browsing.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryJobs        Category = "jobs"
	CategoryMarketplace Category = "marketplace"
	CategoryTech        Category = "tech"
	CategoryDesign      Category = "design"
	CategoryBusiness    Category = "business"
	CategoryOther       Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryJobs, CategoryMarketplace, CategoryTech,
		CategoryDesign, CategoryBusiness, CategoryOther:
		return true
	}
	return false
}

// Kind is the payload type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile:
		return true
	}
	return false
}

// Role is a member's standing inside a room. The zero value is a guest, i.e.
// somebody who is not a member at all.
type Role uint8

const (
	RoleGuest Role = iota
	RoleMember
	RoleModerator
	RoleAdmin
)

var roleNames = [...]string{
	RoleGuest:     "guest",
	RoleMember:    "member",
	RoleModerator: "moderator",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// CanModerate reports whether the role may act on other members' content.
func (r Role) CanModerate() bool { return r == RoleModerator || r == RoleAdmin }

// CanAdminister reports whether the role may change room settings and roles.
func (r Role) CanAdminister() bool { return r == RoleAdmin }

// ParseRole parses a member role name. "guest" is not a member role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleGuest, fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	if string(text) == "guest" {
		*r = RoleGuest
		return nil
	}
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// UserRef identifies a user together with display fields.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Member is one user's membership of a room.
type Member struct {
	User     UserRef   `json:"user"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	LastSeen time.Time `json:"lastSeen"`
}

// Reaction is one (user, emoji) pair on a message.
type Reaction struct {
	UserID int64  `json:"user"`
	Emoji  string `json:"emoji"`
}

// Message is an entry of a room's message log.
type Message struct {
	ID        int64      `json:"id"`
	RoomID    string     `json:"roomId"`
	Sender    UserRef    `json:"sender"`
	Content   string     `json:"content"`
	Kind      Kind       `json:"type"`
	FileURL   string     `json:"fileUrl,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	Edited    bool       `json:"isEdited"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Reactions []Reaction `json:"reactions"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Room is a channel's metadata and membership. The message log lives in the
// store keyed by room id and is never loaded with the room.
type Room struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Visibility  Visibility `json:"type"`
	Category    Category   `json:"category"`
	Capacity    int        `json:"maxMembers"`
	Rules       []string   `json:"rules"`
	Members     []Member   `json:"members"`
	Admins      []int64    `json:"admins"`
	Active      bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Member returns the membership entry for userID, if any.
func (r *Room) Member(userID int64) (Member, bool) {
	for _, m := range r.Members {
		if m.User.ID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) IsMember(userID int64) bool {
	_, ok := r.Member(userID)
	return ok
}

func (r *Room) IsAdmin(userID int64) bool {
	for _, id := range r.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// RoleOf returns the user's role, RoleGuest for non-members.
func (r *Room) RoleOf(userID int64) Role {
	if m, ok := r.Member(userID); ok {
		return m.Role
	}
	return RoleGuest
}

// CanRead applies the access rule: only public rooms are open to non-members.
func (r *Room) CanRead(userID int64) bool {
	return r.Visibility == VisibilityPublic || r.IsMember(userID)
}

// CanSend follows the same rule as CanRead.
func (r *Room) CanSend(userID int64) bool {
	return r.CanRead(userID)
}
