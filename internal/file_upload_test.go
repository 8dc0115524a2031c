package internal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func (h *apiHarness) upload(token, roomID, filename string, content []byte) (*http.Response, uploadResponse) {
	h.t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		h.t.Fatal(err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		h.t.Fatal(err)
	}
	writer.Close()

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/chat/rooms/"+roomID+"/files", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		h.t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var out uploadResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (h *apiHarness) download(token, fileURL string) (*http.Response, []byte) {
	h.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+fileURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		h.t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestFileUploadRoundTrip(t *testing.T) {
	h := newAPIHarness(t, false)
	alice, _ := h.login("alice")
	room := h.createRoom(alice, map[string]any{"name": "Files"})

	content := []byte("Hello, this is a test file!")
	resp, up := h.upload(alice, room.ID, "test.txt", content)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	sum := sha256.Sum256(content)
	if up.FileName != "test.txt" || up.Size != int64(len(content)) || up.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected upload response %+v", up)
	}
	if !strings.HasPrefix(up.FileURL, "/api/chat/files/") {
		t.Fatalf("fileUrl = %q", up.FileURL)
	}

	record, err := h.store.GetRoomFile(context.Background(), up.ID)
	if err != nil {
		t.Fatalf("GetRoomFile: %v", err)
	}
	onDisk, err := os.ReadFile(filepath.Join(h.server.uploadDir, record.StoragePath))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(onDisk, content) {
		t.Fatalf("stored content = %q", onDisk)
	}

	resp, data := h.download(alice, up.FileURL)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(data, content) {
		t.Fatalf("download = %d %q", resp.StatusCode, data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "test.txt") {
		t.Fatalf("Content-Disposition = %q", cd)
	}

	// The uploaded file can back a file message.
	var msg struct {
		FileURL string `json:"fileUrl"`
		Kind    string `json:"type"`
	}
	code := h.do(http.MethodPost, "/api/chat/rooms/"+room.ID+"/messages", alice,
		map[string]string{"type": "file", "fileUrl": up.FileURL, "fileName": up.FileName}, &msg)
	if code != http.StatusCreated || msg.FileURL != up.FileURL || msg.Kind != "file" {
		t.Fatalf("file message = %d %+v", code, msg)
	}
}

func TestFileUploadRespectsRoomAccess(t *testing.T) {
	h := newAPIHarness(t, false)
	alice, _ := h.login("alice")
	bob, _ := h.login("bob")
	room := h.createRoom(alice, map[string]any{"name": "Vault", "type": "private"})

	resp, _ := h.upload(bob, room.ID, "intrusion.txt", []byte("nope"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider upload status = %d", resp.StatusCode)
	}

	resp, up := h.upload(alice, room.ID, "plans.txt", []byte("secret plans"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("member upload status = %d", resp.StatusCode)
	}
	if resp, _ := h.download(bob, up.FileURL); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider download status = %d", resp.StatusCode)
	}
	if resp, _ := h.download(alice, "/api/chat/files/missing"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing file status = %d", resp.StatusCode)
	}
}

func TestFileUploadRejectsOversizedFiles(t *testing.T) {
	h := newAPIHarness(t, false)
	alice, _ := h.login("alice")
	room := h.createRoom(alice, map[string]any{"name": "Big"})

	resp, _ := h.upload(alice, room.ID, "huge.bin", bytes.Repeat([]byte("x"), int(h.server.maxFileSize)+1))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload status = %d", resp.StatusCode)
	}
}

func TestSanitizePathComponent(t *testing.T) {
	cases := map[string]string{
		"room":        "room",
		"../etc":      ".._etc",
		"a\\b":        "a_b",
		"..":          "unnamed",
		"  ":          "unnamed",
		"nul\x00byte": "nulbyte",
	}
	for in, want := range cases {
		if got := sanitizePathComponent(in); got != want {
			t.Errorf("sanitizePathComponent(%q) = %q, want %q", in, got, want)
		}
	}
}
