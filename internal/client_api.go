package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"roomchat/internal/chat"
)

var (
	httpTimeout   = 5 * time.Second
	uploadTimeout = 2 * time.Minute
)

type sessionFile struct {
	Username string `json:"username"`
	UserID   int64  `json:"userId"`
	Token    string `json:"token"`
}

// apiClient talks to the REST half of the server on behalf of one user.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeout},
	}
}

func (c *apiClient) signup(ctx context.Context, username, password string) error {
	payload := map[string]string{"username": username, "password": password}
	return c.doJSON(ctx, http.MethodPost, "/api/auth/signup", payload, nil)
}

func (c *apiClient) login(ctx context.Context, username, password string) (*loginResponse, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", payload, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *apiClient) logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.token = ""
	return err
}

func (c *apiClient) health(ctx context.Context) (*healthResponse, error) {
	var resp healthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) publicRooms(ctx context.Context, search string) ([]roomResponse, error) {
	path := "/api/chat/rooms?limit=50"
	if search != "" {
		path += "&search=" + url.QueryEscape(search)
	}
	var resp roomListResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *apiClient) myRooms(ctx context.Context) ([]roomResponse, error) {
	var resp struct {
		Rooms []roomResponse `json:"rooms"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/rooms/my", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *apiClient) createRoom(ctx context.Context, name string, visibility chat.Visibility) (*roomResponse, error) {
	payload := map[string]any{"name": name, "type": string(visibility)}
	var resp roomResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/rooms", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) openRoom(ctx context.Context, roomID string) (*openRoomResponse, error) {
	var resp openRoomResponse
	if err := c.doJSON(ctx, http.MethodGet, roomPath(roomID, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) joinRoom(ctx context.Context, roomID string) error {
	return c.doJSON(ctx, http.MethodPost, roomPath(roomID, "/join"), nil, nil)
}

func (c *apiClient) leaveRoom(ctx context.Context, roomID string) error {
	return c.doJSON(ctx, http.MethodPost, roomPath(roomID, "/leave"), nil, nil)
}

func (c *apiClient) appendMessage(ctx context.Context, roomID string, req appendMessageRequest) (*chat.Message, error) {
	var msg chat.Message
	if err := c.doJSON(ctx, http.MethodPost, roomPath(roomID, "/messages"), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) uploadFile(ctx context.Context, roomID, path string) (*uploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+roomPath(roomID, "/files"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)
	client := &http.Client{Timeout: uploadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// apiError is a non-2xx reply carrying the server's message.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Message: readResponseError(resp.Body)}
	}
	return nil
}

func isStatus(err error, status int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["message"].(string); ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

func roomPath(roomID, suffix string) string {
	return "/api/chat/rooms/" + url.PathEscape(roomID) + suffix
}

// liveURL maps http(s)://host to ws(s)://host<path>?token=...
func liveURL(baseURL, path, token string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if path == "" {
		path = "/live"
	}
	parsed.Path = path
	parsed.Fragment = ""
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func loadSessionFromDisk(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session sessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if session.Username == "" || session.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	return &session, nil
}

func saveSessionToDisk(path string, session sessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
