package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/identity"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/remote"
	"github.com/plateful-app/plateful/internal/status"
)

func newTestTracker(t *testing.T, src *fakeSource) (*Tracker, *chatstore.Store, *identity.Local) {
	t.Helper()
	store := chatstore.New(nil)
	ids := identity.NewLocal(nil)
	tr := NewTracker(src, ids, store, nil, testWindow, nil)
	tr.Start()
	t.Cleanup(tr.Stop)
	return tr, store, ids
}

func roomDoc(id string, members ...string) remote.RoomDoc {
	return remote.RoomDoc{
		ID:          id,
		Members:     members,
		LastUpdated: remote.ResolvedAt(time.Now().UnixMilli()),
	}
}

func TestTrackerOpensRoomsSubscriptionOnSignIn(t *testing.T) {
	src := newFakeSource()
	_, _, ids := newTestTracker(t, src)

	if src.roomSubCount("u1") != 0 {
		t.Fatal("rooms subscription open before sign-in")
	}

	ids.SignIn(model.Author{ID: "u1"})
	if src.roomSubCount("u1") != 1 {
		t.Fatalf("got %d rooms subscriptions, want 1", src.roomSubCount("u1"))
	}
}

func TestTrackerNoOverlapOnUserSwitch(t *testing.T) {
	src := newFakeSource()
	_, _, ids := newTestTracker(t, src)

	ids.SignIn(model.Author{ID: "u1"})
	ids.SignIn(model.Author{ID: "u2"})

	if src.roomSubCount("u1") != 0 {
		t.Error("previous user's rooms subscription still open")
	}
	if src.roomSubCount("u2") != 1 {
		t.Errorf("got %d subscriptions for u2, want 1", src.roomSubCount("u2"))
	}
}

func TestTrackerOpensMirrorPerRoom(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1"), roomDoc("r2", "u1")}, nil)

	if src.msgSubCount("r1") != 1 || src.msgSubCount("r2") != 1 {
		t.Fatalf("msg subs = r1:%d r2:%d, want 1 each", src.msgSubCount("r1"), src.msgSubCount("r2"))
	}
	if len(store.Rooms()) != 2 {
		t.Errorf("store has %d rooms, want 2", len(store.Rooms()))
	}
	if store.Loading() {
		t.Error("still loading after first snapshot")
	}

	// Re-emitting the same set must not stack a second subscription.
	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1"), roomDoc("r2", "u1")}, nil)
	if src.msgSubCount("r1") != 1 {
		t.Errorf("r1 msg subs = %d after re-emission, want 1", src.msgSubCount("r1"))
	}
}

func TestTrackerTeardownIsolation(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1"), roomDoc("r2", "u1")}, nil)
	src.EmitMessages("r1", []remote.MessageDoc{
		{ID: "a1", RoomID: "r1", SenderID: "u2", Text: "one", CreatedAt: remote.ResolvedAt(1)},
	}, nil)
	src.EmitMessages("r2", []remote.MessageDoc{
		{ID: "b1", RoomID: "r2", SenderID: "u2", Text: "two", CreatedAt: remote.ResolvedAt(1)},
	}, nil)

	// r2 leaves the membership set: its mirror closes, r1 is untouched.
	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1")}, nil)

	if src.msgSubCount("r2") != 0 {
		t.Error("r2 subscription still open after leaving the set")
	}
	if src.msgSubCount("r1") != 1 {
		t.Error("r1 subscription was disturbed by r2's teardown")
	}
	if len(store.Messages("r1")) != 1 {
		t.Error("r1 messages affected by r2 teardown")
	}
	// Leaving the set only unsubscribes; mirrored data is not deleted.
	if len(store.Messages("r2")) != 1 {
		t.Error("r2 messages deleted on unsubscribe")
	}
}

func TestTrackerSignOutTeardown(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1"), roomDoc("r2", "u1")}, nil)
	src.EmitMessages("r1", []remote.MessageDoc{
		{ID: "a1", RoomID: "r1", SenderID: "u2", Text: "one", CreatedAt: remote.ResolvedAt(1)},
	}, nil)

	ids.SignOut()

	if src.roomSubCount("u1") != 0 {
		t.Error("rooms subscription still open after sign-out")
	}
	if src.msgSubCount("r1") != 0 || src.msgSubCount("r2") != 0 {
		t.Error("message subscriptions still open after sign-out")
	}
	if len(store.Rooms()) != 0 {
		t.Error("room list not cleared on sign-out")
	}
	if len(store.Messages("r1")) != 0 {
		t.Error("message map not cleared on sign-out")
	}
}

func TestTrackerRoomsErrorKeepsData(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1")}, nil)
	src.EmitRooms("u1", nil, errors.New("query failed"))

	if store.GlobalError() != "query failed" {
		t.Errorf("GlobalError = %q, want query failed", store.GlobalError())
	}
	// Stale-but-present beats empty.
	if len(store.Rooms()) != 1 {
		t.Error("rooms cleared on subscription error")
	}

	// Recovery clears the error.
	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1")}, nil)
	if store.GlobalError() != "" {
		t.Error("global error not cleared after healthy emission")
	}
}

func TestTrackerNormalizesRoomForUser(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	src.EmitRooms("u1", []remote.RoomDoc{{
		ID:          "r1",
		Name:        "Weeknight dinners",
		IsGroup:     true,
		Members:     []string{"u1", "u2", "u3"},
		LastMessage: "soup's on",
		LastUpdated: remote.ResolvedAt(1234),
		Unread:      map[string]int{"u1": 4, "u2": 9},
		Typing: map[string]remote.Timestamp{
			"u2": remote.ResolvedAt(5000),
		},
	}}, nil)

	rooms := store.Rooms()
	if len(rooms) != 1 {
		t.Fatalf("got %d rooms, want 1", len(rooms))
	}
	r := rooms[0]
	if r.Unread != 4 {
		t.Errorf("unread = %d, want 4 (u1's counter, not u2's)", r.Unread)
	}
	if r.LastUpdated != 1234 {
		t.Errorf("lastUpdated = %d, want 1234", r.LastUpdated)
	}
	if len(r.Typing) != 1 || r.Typing[0].UserID != "u2" || r.Typing[0].Since != 5000 {
		t.Errorf("typing = %+v, want [{u2 5000}]", r.Typing)
	}
}

func TestTrackerStatusLifecycle(t *testing.T) {
	src := newFakeSource()
	store := chatstore.New(nil)
	ids := identity.NewLocal(nil)
	machine := status.NewMachine(nil)
	tr := NewTracker(src, ids, store, machine, testWindow, nil)
	tr.Start()
	defer tr.Stop()

	if machine.Current() != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", machine.Current())
	}

	ids.SignIn(model.Author{ID: "u1"})
	if machine.Current() != status.Syncing {
		t.Errorf("state = %s, want SYNCING", machine.Current())
	}

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1")}, nil)
	if machine.Current() != status.Ready {
		t.Errorf("state = %s, want READY", machine.Current())
	}

	src.EmitRooms("u1", nil, errors.New("down"))
	if machine.Current() != status.Degraded {
		t.Errorf("state = %s, want DEGRADED", machine.Current())
	}

	src.EmitRooms("u1", []remote.RoomDoc{roomDoc("r1", "u1")}, nil)
	if machine.Current() != status.Ready {
		t.Errorf("state = %s, want READY after recovery", machine.Current())
	}

	ids.SignOut()
	if machine.Current() != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", machine.Current())
	}
}

func TestTrackerStaleRoomsCallbackIgnored(t *testing.T) {
	src := newFakeSource()
	tr, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	// A callback from a torn-down subscription must not resurrect state.
	tr.handleRooms("someone-else", []remote.RoomDoc{roomDoc("rX", "someone-else")}, nil)

	if len(store.Rooms()) != 0 {
		t.Error("stale callback mutated the store")
	}
}

func TestTrackerErrorEmissionEndsLoading(t *testing.T) {
	src := newFakeSource()
	_, store, ids := newTestTracker(t, src)
	ids.SignIn(model.Author{ID: "u1"})

	if !store.Loading() {
		t.Fatal("loading should be set while the first snapshot is pending")
	}

	// The very first emission is an error: the initial fetch is still over.
	src.EmitRooms("u1", nil, errors.New("backend down"))

	if store.Loading() {
		t.Error("loading stuck after an error emission")
	}
	if store.GlobalError() != "backend down" {
		t.Errorf("GlobalError = %q, want backend down", store.GlobalError())
	}
}
