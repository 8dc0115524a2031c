package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/chat"
)

// RoomFile is the metadata of a file uploaded to a room. The bytes live on
// disk under the upload directory at StoragePath.
type RoomFile struct {
	ID          string
	RoomID      string
	UploaderID  int64
	Name        string
	ContentType string
	Size        int64
	SHA256      string
	StoragePath string
	CreatedAt   time.Time
}

func (s *Store) CreateRoomFile(ctx context.Context, f RoomFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_files(id, room_id, uploader_id, name, content_type, size, sha256, storage_path, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RoomID, f.UploaderID, f.Name, f.ContentType, f.Size, f.SHA256, f.StoragePath, f.CreatedAt.UTC())
	return err
}

// GetRoomFile returns the file's metadata or an error wrapping chat.ErrNotFound.
func (s *Store) GetRoomFile(ctx context.Context, id string) (*RoomFile, error) {
	var f RoomFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, uploader_id, name, content_type, size, sha256, storage_path, created_at
		FROM room_files WHERE id = ?`, id).
		Scan(&f.ID, &f.RoomID, &f.UploaderID, &f.Name, &f.ContentType, &f.Size, &f.SHA256, &f.StoragePath, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: file not found", chat.ErrNotFound)
		}
		return nil, err
	}
	return &f, nil
}
