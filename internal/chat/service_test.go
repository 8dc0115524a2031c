package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
)

type fixture struct {
	svc   *chat.Service
	store *storage.Store
	users map[string]int64
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := &fixture{svc: chat.NewService(store, chat.Options{}), store: store, users: map[string]int64{}}
	for _, n := range names {
		id, err := store.CreateUser(ctx, n, "", []byte("hash"))
		if err != nil {
			t.Fatalf("CreateUser %s: %v", n, err)
		}
		f.users[n] = id
	}
	return f
}

func (f *fixture) room(t *testing.T, owner string, in chat.CreateRoomInput) *chat.Room {
	t.Helper()
	if in.Name == "" {
		in.Name = "General"
	}
	room, err := f.svc.CreateRoom(context.Background(), f.users[owner], in)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func assertAdminsSubsetOfMembers(t *testing.T, room *chat.Room) {
	t.Helper()
	for _, id := range room.Admins {
		if !room.IsMember(id) {
			t.Fatalf("admin %d is not a member of %s", id, room.ID)
		}
	}
}

func TestCreateRoomDefaults(t *testing.T) {
	f := newFixture(t, "alice")
	room := f.room(t, "alice", chat.CreateRoomInput{Name: "  General  "})

	if room.Name != "General" || room.Visibility != chat.VisibilityPublic ||
		room.Category != chat.CategoryGeneral || room.Capacity != chat.DefaultCapacity {
		t.Fatalf("unexpected defaults: %+v", room)
	}
	if len(room.Members) != 1 || room.RoleOf(f.users["alice"]) != chat.RoleAdmin {
		t.Fatalf("creator should be the sole admin member: %+v", room.Members)
	}
	if len(room.Admins) != 1 || room.Admins[0] != f.users["alice"] {
		t.Fatalf("unexpected admins: %v", room.Admins)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	cases := []chat.CreateRoomInput{
		{Name: "   "},
		{Name: "x", Visibility: "secret"},
		{Name: "x", Category: "sports"},
		{Name: "x", Capacity: -1},
	}
	for i, in := range cases {
		if _, err := f.svc.CreateRoom(ctx, f.users["alice"], in); !errors.Is(err, chat.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCapacityScenario(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{Name: "General", Capacity: 2})

	joined, err := f.svc.Join(ctx, room.ID, f.users["bob"])
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if len(joined.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(joined.Members))
	}
	if _, err := f.svc.Join(ctx, room.ID, f.users["carol"]); !errors.Is(err, chat.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestJoinTwiceConflicts(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})

	if _, err := f.svc.Join(ctx, room.ID, f.users["bob"]); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.Join(ctx, room.ID, f.users["bob"]); !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := f.svc.GetRoom(ctx, room.ID)
	if len(got.Members) != 2 {
		t.Fatalf("members changed after duplicate join: %d", len(got.Members))
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	names := []string{"owner"}
	for i := 0; i < 10; i++ {
		names = append(names, fmt.Sprintf("u%d", i))
	}
	f := newFixture(t, names...)
	ctx := context.Background()
	room := f.room(t, "owner", chat.CreateRoomInput{Capacity: 4})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := f.svc.Join(ctx, room.ID, id); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			}
		}(f.users[fmt.Sprintf("u%d", i)])
	}
	wg.Wait()
	if joined != 3 {
		t.Fatalf("expected exactly 3 successful joins, got %d", joined)
	}
	got, _ := f.svc.GetRoom(ctx, room.ID)
	if len(got.Members) != 4 {
		t.Fatalf("expected 4 members, got %d", len(got.Members))
	}
}

func TestLeaveRemovesMemberAndAdmin(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	if _, err := f.svc.Join(ctx, room.ID, f.users["bob"]); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.svc.SetRole(ctx, room.ID, f.users["alice"], f.users["bob"], chat.RoleAdmin); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	if err := f.svc.Leave(ctx, room.ID, f.users["bob"]); err != nil {
		t.Fatalf("leave: %v", err)
	}
	got, _ := f.svc.GetRoom(ctx, room.ID)
	if got.IsMember(f.users["bob"]) || got.IsAdmin(f.users["bob"]) {
		t.Fatalf("bob should be removed from members and admins")
	}
	assertAdminsSubsetOfMembers(t, got)

	if err := f.svc.Leave(ctx, room.ID, f.users["bob"]); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member leave, got %v", err)
	}
}

func TestSetRoleRules(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	alice, bob, carol := f.users["alice"], f.users["bob"], f.users["carol"]
	if _, err := f.svc.Join(ctx, room.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := f.svc.SetRole(ctx, room.ID, bob, bob, chat.RoleAdmin); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	if _, err := f.svc.SetRole(ctx, room.ID, alice, carol, chat.RoleModerator); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member target, got %v", err)
	}
	if _, err := f.svc.SetRole(ctx, room.ID, alice, alice, chat.RoleMember); !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("expected ErrConflict demoting the last admin, got %v", err)
	}
	got, err := f.svc.SetRole(ctx, room.ID, alice, bob, chat.RoleModerator)
	if err != nil {
		t.Fatalf("SetRole moderator: %v", err)
	}
	if got.RoleOf(bob) != chat.RoleModerator || got.IsAdmin(bob) {
		t.Fatalf("unexpected bob state: role=%s admin=%v", got.RoleOf(bob), got.IsAdmin(bob))
	}
	if !got.RoleOf(bob).CanModerate() || got.RoleOf(bob).CanAdminister() {
		t.Fatalf("moderator capabilities wrong")
	}
	assertAdminsSubsetOfMembers(t, got)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{Capacity: 5})
	alice, bob := f.users["alice"], f.users["bob"]
	if _, err := f.svc.Join(ctx, room.ID, bob); err != nil {
		t.Fatalf("join: %v", err)
	}

	name := "Renamed"
	if _, err := f.svc.UpdateSettings(ctx, room.ID, bob, chat.SettingsInput{Name: &name}); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.UpdateSettings(ctx, "missing", alice, chat.SettingsInput{Name: &name}); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	one := 1
	if _, err := f.svc.UpdateSettings(ctx, room.ID, alice, chat.SettingsInput{Capacity: &one}); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected ErrValidation shrinking below members, got %v", err)
	}
	blank := " "
	if _, err := f.svc.UpdateSettings(ctx, room.ID, alice, chat.SettingsInput{Name: &blank}); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank name, got %v", err)
	}

	two := 2
	updated, err := f.svc.UpdateSettings(ctx, room.ID, alice, chat.SettingsInput{Name: &name, Capacity: &two, Rules: []string{"no spam", " "}})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if updated.Name != "Renamed" || updated.Capacity != 2 || len(updated.Rules) != 1 {
		t.Fatalf("unexpected update: %+v", updated)
	}
	stored, _ := f.svc.GetRoom(ctx, room.ID)
	if stored.Name != "Renamed" || stored.Capacity != 2 {
		t.Fatalf("update not persisted: %+v", stored)
	}
}

func TestRetireHidesRoom(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})

	if err := f.svc.Retire(ctx, room.ID, f.users["bob"]); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Retire(ctx, room.ID, f.users["alice"]); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	page, err := f.svc.ListRooms(ctx, chat.RoomFilter{ActiveOnly: true}, 1, 10)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("retired room still listed")
	}
	if _, err := f.svc.Join(ctx, room.ID, f.users["bob"]); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound joining retired room, got %v", err)
	}
	if _, err := f.svc.Append(ctx, chat.AppendInput{RoomID: room.ID, SenderID: f.users["alice"], Content: "hi"}); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound appending to retired room, got %v", err)
	}
	name := "Renamed"
	if _, err := f.svc.UpdateSettings(ctx, room.ID, f.users["alice"], chat.SettingsInput{Name: &name}); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating retired room, got %v", err)
	}
	if _, err := f.svc.SetRole(ctx, room.ID, f.users["alice"], f.users["alice"], chat.RoleMember); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound changing roles in retired room, got %v", err)
	}
	stored, err := f.svc.GetRoom(ctx, room.ID)
	if err != nil || stored.Name == name {
		t.Fatalf("retired room changed: %+v, %v", stored, err)
	}
}

func TestListRoomsPaging(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.room(t, "alice", chat.CreateRoomInput{Name: fmt.Sprintf("room-%d", i)})
	}
	f.room(t, "alice", chat.CreateRoomInput{Name: "hidden", Visibility: chat.VisibilityPrivate})

	page, err := f.svc.ListRooms(ctx, chat.RoomFilter{Visibility: chat.VisibilityPublic, ActiveOnly: true}, 2, 2)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if page.Total != 5 || len(page.Rooms) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page.Rooms), page.Total)
	}
	if _, err := f.svc.ListRooms(ctx, chat.RoomFilter{}, 0, 10); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected ErrValidation for page 0, got %v", err)
	}
	mine, err := f.svc.ListMemberRooms(ctx, f.users["alice"])
	if err != nil || len(mine) != 6 {
		t.Fatalf("ListMemberRooms: %d rooms, err=%v", len(mine), err)
	}
}

func TestAccessRule(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	public := f.room(t, "alice", chat.CreateRoomInput{Name: "open"})
	private := f.room(t, "alice", chat.CreateRoomInput{Name: "closed", Visibility: chat.VisibilityPrivate})
	bob := f.users["bob"]

	if ok, _ := f.svc.CanSend(ctx, public.ID, bob); !ok {
		t.Fatalf("non-member should send to a public room")
	}
	if _, err := f.svc.Append(ctx, chat.AppendInput{RoomID: public.ID, SenderID: bob, Content: "hello"}); err != nil {
		t.Fatalf("append to public room: %v", err)
	}
	if ok, _ := f.svc.CanRead(ctx, private.ID, bob); ok {
		t.Fatalf("non-member must not read a private room")
	}
	if _, err := f.svc.Append(ctx, chat.AppendInput{RoomID: private.ID, SenderID: bob, Content: "hello"}); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Page(ctx, private.ID, bob, 1, 10); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden paging private room, got %v", err)
	}
	if _, err := f.svc.Open(ctx, private.ID, bob); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden opening private room, got %v", err)
	}
	view, err := f.svc.Open(ctx, public.ID, bob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if view.Role != chat.RoleGuest || len(view.Recent) != 1 {
		t.Fatalf("unexpected view: role=%s recent=%d", view.Role, len(view.Recent))
	}
	if member, _ := f.svc.IsMember(ctx, public.ID, bob); member {
		t.Fatalf("sending must not create membership")
	}
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	alice := f.users["alice"]
	cases := []chat.AppendInput{
		{RoomID: room.ID, SenderID: alice, Content: "   "},
		{RoomID: room.ID, SenderID: alice, Content: "x", Kind: "video"},
		{RoomID: room.ID, SenderID: alice, Kind: chat.KindFile},
	}
	for i, in := range cases {
		if _, err := f.svc.Append(ctx, in); !errors.Is(err, chat.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	msg, err := f.svc.Append(ctx, chat.AppendInput{RoomID: room.ID, SenderID: alice, Kind: chat.KindImage, FileURL: "/files/abc", FileName: "cat.png"})
	if err != nil {
		t.Fatalf("image append: %v", err)
	}
	if msg.Kind != chat.KindImage || msg.FileName != "cat.png" || msg.Sender.Username != "alice" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestLogBoundEvictsOldest(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	for i := 1; i <= chat.DefaultLogBound+1; i++ {
		if _, err := f.svc.Append(ctx, chat.AppendInput{RoomID: room.ID, SenderID: f.users["alice"], Content: fmt.Sprintf("message #%d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	page, err := f.svc.Page(ctx, room.ID, f.users["alice"], 1, chat.DefaultLogBound)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if page.Total != chat.DefaultLogBound {
		t.Fatalf("expected %d messages, got %d", chat.DefaultLogBound, page.Total)
	}
	oldest := page.Messages[len(page.Messages)-1]
	if oldest.Content != "message #2" {
		t.Fatalf("expected oldest to be message #2, got %q", oldest.Content)
	}
}

func TestPagingReproducesLog(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	alice := f.users["alice"]
	const n = 23
	for i := 0; i < n; i++ {
		if _, err := f.svc.Append(ctx, chat.AppendInput{RoomID: room.ID, SenderID: alice, Content: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var all []chat.Message
	for p := 1; ; p++ {
		page, err := f.svc.Page(ctx, room.ID, alice, p, 5)
		if err != nil {
			t.Fatalf("Page %d: %v", p, err)
		}
		if page.Total != n {
			t.Fatalf("total = %d", page.Total)
		}
		all = append(all, page.Messages...)
		if !page.HasMore {
			break
		}
	}
	if len(all) != n {
		t.Fatalf("expected %d messages across pages, got %d", n, len(all))
	}
	for i, m := range all {
		if want := fmt.Sprintf("%d", n-1-i); m.Content != want {
			t.Fatalf("position %d: got %q want %q", i, m.Content, want)
		}
	}

	beyond, err := f.svc.Page(ctx, room.ID, alice, 10, 5)
	if err != nil {
		t.Fatalf("Page beyond: %v", err)
	}
	if len(beyond.Messages) != 0 || beyond.HasMore {
		t.Fatalf("expected empty page without more, got %d hasMore=%v", len(beyond.Messages), beyond.HasMore)
	}
	if _, err := f.svc.Page(ctx, room.ID, alice, 1, 0); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero page size, got %v", err)
	}

	recent, err := f.svc.Recent(ctx, room.ID, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 || recent[0].Content != "20" || recent[2].Content != "22" {
		t.Fatalf("unexpected recent window: %+v", recent)
	}
}

func TestEditAndReactMessages(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	room := f.room(t, "alice", chat.CreateRoomInput{})
	alice, bob := f.users["alice"], f.users["bob"]
	msg, err := f.svc.Append(ctx, chat.AppendInput{RoomID: room.ID, SenderID: alice, Content: "draft"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := f.svc.EditMessage(ctx, room.ID, msg.ID, bob, "hijack"); !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	edited, err := f.svc.EditMessage(ctx, room.ID, msg.ID, alice, "final")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if !edited.Edited || edited.Content != "final" {
		t.Fatalf("unexpected edit: %+v", edited)
	}

	reacted, err := f.svc.React(ctx, room.ID, msg.ID, bob, "🎉")
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if len(reacted.Reactions) != 1 {
		t.Fatalf("expected 1 reaction, got %d", len(reacted.Reactions))
	}
	if _, err := f.svc.React(ctx, room.ID, msg.ID, bob, "🎉"); !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.React(ctx, room.ID, 9999, bob, "🎉"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoleText(t *testing.T) {
	var r chat.Role
	if err := r.UnmarshalText([]byte("moderator")); err != nil || r != chat.RoleModerator {
		t.Fatalf("UnmarshalText: %v %v", r, err)
	}
	if _, err := chat.ParseRole("owner"); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if chat.RoleGuest.String() != "guest" || chat.RoleAdmin.String() != "admin" {
		t.Fatalf("unexpected role names")
	}
	if got := chat.Detail(fmt.Errorf("%w: room is at maximum capacity", chat.ErrCapacityExceeded)); got != "room is at maximum capacity" {
		t.Fatalf("Detail = %q", got)
	}
}
