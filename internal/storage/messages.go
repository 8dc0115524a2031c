package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/chat"
)

const messageSelect = `
	SELECT m.id, m.room_id, m.sender_id, u.username, u.avatar, m.content, m.kind,
	       m.file_url, m.file_name, m.edited, m.edited_at, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

// AppendMessage inserts msg and trims the room's log to bound in one
// transaction. The autoincrement id is the log order.
func (s *Store) AppendMessage(ctx context.Context, msg *chat.Message, bound int) (int, error) {
	var trimmed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages(room_id, sender_id, content, kind, file_url, file_name, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)`,
			msg.RoomID, msg.Sender.ID, msg.Content, string(msg.Kind), msg.FileURL, msg.FileName, msg.CreatedAt.UTC())
		if err != nil {
			return err
		}
		if msg.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT username, avatar FROM users WHERE id = ?`, msg.Sender.ID).
			Scan(&msg.Sender.Username, &msg.Sender.Avatar); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: sender not found", chat.ErrNotFound)
			}
			return err
		}
		if bound > 0 {
			res, err = tx.ExecContext(ctx, `
				DELETE FROM messages
				WHERE room_id = ? AND id NOT IN (
					SELECT id FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
				)`, msg.RoomID, msg.RoomID, bound)
			if err != nil {
				return err
			}
			if trimmed, err = res.RowsAffected(); err != nil {
				return err
			}
		}
		return touchRoom(ctx, tx, msg.RoomID, msg.CreatedAt)
	})
	if err != nil {
		return 0, err
	}
	return int(trimmed), nil
}

func (s *Store) CountMessages(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE room_id = ?`, roomID).Scan(&n)
	return n, err
}

// ListMessages returns limit messages starting at offset, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, offset, limit int) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+`
		WHERE m.room_id = ?
		ORDER BY m.id ASC
		LIMIT ? OFFSET ?`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	msgs := []chat.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) GetMessage(ctx context.Context, roomID string, messageID int64) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, messageSelect+` WHERE m.room_id = ? AND m.id = ?`, roomID, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: message not found", chat.ErrNotFound)
		}
		return nil, err
	}
	one := []chat.Message{*msg}
	if err := s.attachReactions(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (s *Store) EditMessage(ctx context.Context, roomID string, messageID int64, content string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited = 1, edited_at = ? WHERE room_id = ? AND id = ?`,
		content, at.UTC(), roomID, messageID)
	if err != nil {
		return err
	}
	return expectRow(res, "message not found")
}

func (s *Store) AddReaction(ctx context.Context, messageID int64, reaction chat.Reaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reactions(message_id, user_id, emoji, created_at) VALUES(?, ?, ?, ?)`,
		messageID, reaction.UserID, reaction.Emoji, time.Now().UTC())
	if isConstraintError(err) {
		return fmt.Errorf("%w: reaction already added", chat.ErrConflict)
	}
	return err
}

func (s *Store) attachReactions(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	index := make(map[int64]int, len(msgs))
	for i := range msgs {
		msgs[i].Reactions = []chat.Reaction{}
		index[msgs[i].ID] = i
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji FROM message_reactions
		WHERE message_id BETWEEN ? AND ?
		ORDER BY created_at ASC, rowid ASC`, msgs[0].ID, msgs[len(msgs)-1].ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			r  chat.Reaction
		)
		if err := rows.Scan(&id, &r.UserID, &r.Emoji); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			msgs[i].Reactions = append(msgs[i].Reactions, r)
		}
	}
	return rows.Err()
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		msg      chat.Message
		kind     string
		editedAt sql.NullTime
	)
	if err := row.Scan(&msg.ID, &msg.RoomID, &msg.Sender.ID, &msg.Sender.Username, &msg.Sender.Avatar,
		&msg.Content, &kind, &msg.FileURL, &msg.FileName, &msg.Edited, &editedAt, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.Kind = chat.Kind(kind)
	if editedAt.Valid {
		t := editedAt.Time
		msg.EditedAt = &t
	}
	return &msg, nil
}
