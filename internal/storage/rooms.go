package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"roomchat/internal/chat"
)

var _ chat.Store = (*Store)(nil)

const roomColumns = `id, name, description, visibility, category, capacity, rules, is_active, created_at, updated_at`

// CreateRoom inserts the room with its initial members and admins.
func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	rules, err := json.Marshal(nonNilRules(room.Rules))
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms(`+roomColumns+`)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.Description, string(room.Visibility), string(room.Category),
			room.Capacity, string(rules), room.Active, room.CreatedAt.UTC(), room.UpdatedAt.UTC()); err != nil {
			return err
		}
		for _, m := range room.Members {
			if err := insertMember(ctx, tx, room.ID, m); err != nil {
				return err
			}
		}
		for _, id := range room.Admins {
			if _, err := tx.ExecContext(ctx, `INSERT INTO room_admins(room_id, user_id) VALUES(?, ?)`, room.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRoom loads a room with its members and admin set.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: room not found", chat.ErrNotFound)
		}
		return nil, err
	}
	if err := s.hydrate(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// ListRooms returns one window of rooms matching filter, newest first, and the
// total number of matches.
func (s *Store) ListRooms(ctx context.Context, filter chat.RoomFilter, offset, limit int) ([]chat.Room, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if filter.Visibility != "" {
		where = append(where, "visibility = ?")
		args = append(args, string(filter.Visibility))
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Query != "" {
		pattern := "%" + escapeLike(strings.ToLower(filter.Query)) + "%"
		where = append(where, `(lower(name) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rooms`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roomColumns+` FROM rooms`+clause+` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	rooms, err := collectRooms(rows)
	if err != nil {
		return nil, 0, err
	}
	for i := range rooms {
		if err := s.hydrate(ctx, &rooms[i]); err != nil {
			return nil, 0, err
		}
	}
	return rooms, total, nil
}

// ListMemberRooms returns active rooms userID belongs to, most recently
// updated first.
func (s *Store) ListMemberRooms(ctx context.Context, userID int64) ([]chat.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.visibility, r.category, r.capacity, r.rules,
		       r.is_active, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = ? AND r.is_active = 1
		ORDER BY r.updated_at DESC, r.rowid DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	rooms, err := collectRooms(rows)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if err := s.hydrate(ctx, &rooms[i]); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// UpdateRoom writes the mutable room settings.
func (s *Store) UpdateRoom(ctx context.Context, room *chat.Room) error {
	rules, err := json.Marshal(nonNilRules(room.Rules))
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET name = ?, description = ?, capacity = ?, rules = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		room.Name, room.Description, room.Capacity, string(rules), room.Active, room.UpdatedAt.UTC(), room.ID)
	if err != nil {
		return err
	}
	return expectRow(res, "room not found")
}

func (s *Store) AddMember(ctx context.Context, roomID string, member chat.Member) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertMember(ctx, tx, roomID, member); err != nil {
			return err
		}
		return touchRoom(ctx, tx, roomID, member.JoinedAt)
	})
	if isConstraintError(err) {
		return fmt.Errorf("%w: already a member of this room", chat.ErrConflict)
	}
	return err
}

// RemoveMember deletes the membership. The admin entry goes with it through
// the room_admins foreign key.
func (s *Store) RemoveMember(ctx context.Context, roomID string, userID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
		if err != nil {
			return err
		}
		if err := expectRow(res, "not a member of this room"); err != nil {
			return err
		}
		return touchRoom(ctx, tx, roomID, time.Now())
	})
}

func (s *Store) SetMemberRole(ctx context.Context, roomID string, userID int64, role chat.Role) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE room_members SET role = ? WHERE room_id = ? AND user_id = ?`,
			role.String(), roomID, userID)
		if err != nil {
			return err
		}
		if err := expectRow(res, "not a member of this room"); err != nil {
			return err
		}
		if role == chat.RoleAdmin {
			_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO room_admins(room_id, user_id) VALUES(?, ?)`, roomID, userID)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM room_admins WHERE room_id = ? AND user_id = ?`, roomID, userID)
		}
		return err
	})
}

func (s *Store) TouchMember(ctx context.Context, roomID string, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE room_members SET last_seen = ? WHERE room_id = ? AND user_id = ?`,
		at.UTC(), roomID, userID)
	return err
}

func (s *Store) hydrate(ctx context.Context, room *chat.Room) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.avatar, m.role, m.joined_at, m.last_seen
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.joined_at ASC, m.rowid ASC
	`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	room.Members = []chat.Member{}
	for rows.Next() {
		var (
			m    chat.Member
			role string
		)
		if err := rows.Scan(&m.User.ID, &m.User.Username, &m.User.Avatar, &role, &m.JoinedAt, &m.LastSeen); err != nil {
			return err
		}
		if err := m.Role.UnmarshalText([]byte(role)); err != nil {
			return err
		}
		room.Members = append(room.Members, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	adminRows, err := s.db.QueryContext(ctx, `SELECT user_id FROM room_admins WHERE room_id = ? ORDER BY rowid ASC`, room.ID)
	if err != nil {
		return err
	}
	defer adminRows.Close()
	room.Admins = []int64{}
	for adminRows.Next() {
		var id int64
		if err := adminRows.Scan(&id); err != nil {
			return err
		}
		room.Admins = append(room.Admins, id)
	}
	return adminRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*chat.Room, error) {
	var (
		room       chat.Room
		visibility string
		category   string
		rules      string
	)
	if err := row.Scan(&room.ID, &room.Name, &room.Description, &visibility, &category, &room.Capacity,
		&rules, &room.Active, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	room.Visibility = chat.Visibility(visibility)
	room.Category = chat.Category(category)
	if err := json.Unmarshal([]byte(rules), &room.Rules); err != nil {
		return nil, fmt.Errorf("decode rules for room %s: %w", room.ID, err)
	}
	room.Rules = nonNilRules(room.Rules)
	return &room, nil
}

func collectRooms(rows *sql.Rows) ([]chat.Room, error) {
	defer rows.Close()
	rooms := []chat.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func insertMember(ctx context.Context, q querier, roomID string, m chat.Member) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO room_members(room_id, user_id, role, joined_at, last_seen) VALUES(?, ?, ?, ?, ?)`,
		roomID, m.User.ID, m.Role.String(), m.JoinedAt.UTC(), m.LastSeen.UTC())
	return err
}

func touchRoom(ctx context.Context, q querier, roomID string, at time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE rooms SET updated_at = ? WHERE id = ?`, at.UTC(), roomID)
	return err
}

func expectRow(res sql.Result, detail string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", chat.ErrNotFound, detail)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNilRules(rules []string) []string {
	if rules == nil {
		return []string{}
	}
	return rules
}
