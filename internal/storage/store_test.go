package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateUser(ctx, "alice", "https://example.com/a.png", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", "", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" || user.Avatar != "https://example.com/a.png" {
		t.Fatalf("unexpected user: %+v", user)
	}
	byID, err := store.GetUserByID(ctx, id)
	if err != nil || byID == nil || byID.Username != "alice" {
		t.Fatalf("GetUserByID: %+v, err=%v", byID, err)
	}
	missing, err := store.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil user, got %+v err=%v", missing, err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, err := store.CreateUser(ctx, "bob", "", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	exp := time.Now().Add(time.Hour)
	if err := store.CreateSession(ctx, userID, "token123", exp); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.UserID != userID {
		t.Fatalf("unexpected session: %+v", session)
	}
	if err := store.DeleteSession(ctx, "token123"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	session, err = store.GetSession(ctx, "token123")
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session after delete")
	}
}

func TestExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID, _ := store.CreateUser(ctx, "carol", "", []byte("hash"))
	if err := store.CreateSession(ctx, userID, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CreateSession(ctx, userID, "fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess, err := store.GetSession(ctx, "old"); err != nil || sess != nil {
		t.Fatalf("expected expired session to be hidden, got %+v err=%v", sess, err)
	}
	n, err := store.PurgeExpiredSessions(ctx, time.Now())
	if err != nil {
		t.Fatalf("PurgeExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged session, got %d", n)
	}
	if sess, _ := store.GetSession(ctx, "fresh"); sess == nil {
		t.Fatalf("fresh session should survive purge")
	}
}

func TestBuildDSN(t *testing.T) {
	cases := map[string]string{
		"chat.db":                        "file:chat.db?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		"sqlite://file:x?mode=memory":    "file:x?mode=memory&_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		"file:/var/lib/roomchat/chat.db": "file:/var/lib/roomchat/chat.db?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
		":memory:":                       ":memory:?_pragma=busy_timeout=5000&_pragma=foreign_keys=ON",
	}
	for in, want := range cases {
		if got := buildDSN(in); got != want {
			t.Errorf("buildDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
