package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"roomchat/internal/chat"
	"roomchat/internal/logging"
	"roomchat/internal/storage"
)

type uploadResponse struct {
	ID       string `json:"id"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	SHA256   string `json:"sha256"`
}

// HandleFileUpload stores a multipart file for a room the caller can read.
// The returned fileUrl is what a file or image message should reference.
func (s *Server) HandleFileUpload(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")

	ok, err := s.chat.CanRead(r.Context(), roomID, viewer.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: access denied to private room", chat.ErrForbidden))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+(1<<20))
	if err := r.ParseMultipartForm(s.maxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no file provided"))
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == ".." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
		return
	}
	if header.Size > s.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	fileID := uuid.NewString()
	relPath := filepath.Join(sanitizePathComponent(roomID), fmt.Sprintf("%s-%s", fileID, sanitizePathComponent(filename)))
	fullPath := filepath.Join(s.uploadDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		s.fail(w, r, fmt.Errorf("create upload directory: %w", err))
		return
	}
	dest, err := os.Create(fullPath)
	if err != nil {
		s.fail(w, r, fmt.Errorf("create file: %w", err))
		return
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dest, hasher), file)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		s.fail(w, r, fmt.Errorf("save file: %w", err))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	record := storage.RoomFile{
		ID:          fileID,
		RoomID:      roomID,
		UploaderID:  viewer.UserID,
		Name:        filename,
		ContentType: contentType,
		Size:        written,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		StoragePath: relPath,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateRoomFile(r.Context(), record); err != nil {
		_ = os.Remove(fullPath)
		s.fail(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("room", roomID).
		Str("file", fileID).
		Int64("size", written).
		Msg("file uploaded")
	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:       fileID,
		FileURL:  "/api/chat/files/" + fileID,
		FileName: filename,
		Size:     written,
		SHA256:   record.SHA256,
	})
}

// HandleFileDownload streams a stored file to a caller who can read its room.
func (s *Server) HandleFileDownload(w http.ResponseWriter, r *http.Request) {
	viewer := authFrom(r.Context())
	record, err := s.store.GetRoomFile(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok, err := s.chat.CanRead(r.Context(), record.RoomID, viewer.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, fmt.Errorf("%w: access denied to private room", chat.ErrForbidden))
		return
	}

	base, err := filepath.Abs(s.uploadDir)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fullPath := filepath.Join(base, record.StoragePath)
	if rel, err := filepath.Rel(base, fullPath); err != nil || strings.HasPrefix(rel, "..") {
		writeError(w, http.StatusForbidden, errors.New("invalid file path"))
		return
	}
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, errors.New("file not found on disk"))
			return
		}
		s.fail(w, r, err)
		return
	}
	defer file.Close()

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, record.Name, record.CreatedAt, file)
}

// sanitizePathComponent removes dangerous characters from path components
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
