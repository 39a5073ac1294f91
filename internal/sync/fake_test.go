package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/plateful-app/plateful/internal/remote"
)

// fakeSource is a scriptable in-memory change source. Tests drive emissions
// explicitly via EmitRooms/EmitMessages after Subscribe has returned, which
// also honors the contract that callbacks never run inside Subscribe.
type fakeSource struct {
	mu      sync.Mutex
	nextSub int
	rooms   map[int]*roomSub
	msgs    map[int]*msgSub

	created   []createCall
	createErr error
	nextMsgID int
}

type roomSub struct {
	userID string
	fn     remote.RoomsFunc
}

type msgSub struct {
	roomID string
	fn     remote.MessagesFunc
}

type createCall struct {
	RoomID string
	Draft  remote.MessageDraft
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		rooms: make(map[int]*roomSub),
		msgs:  make(map[int]*msgSub),
	}
}

func (f *fakeSource) SubscribeRooms(userID string, fn remote.RoomsFunc) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.rooms[id] = &roomSub{userID: userID, fn: fn}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.rooms, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) SubscribeMessages(roomID string, fn remote.MessagesFunc) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.msgs[id] = &msgSub{roomID: roomID, fn: fn}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.msgs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) CreateMessage(_ context.Context, roomID string, draft remote.MessageDraft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createCall{RoomID: roomID, Draft: draft})
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextMsgID++
	return fmt.Sprintf("srv-%d", f.nextMsgID), nil
}

func (f *fakeSource) MarkRead(_ context.Context, _, _ string) error {
	return nil
}

// EmitRooms delivers a rooms snapshot (or error) to every subscription for
// the given user.
func (f *fakeSource) EmitRooms(userID string, docs []remote.RoomDoc, err error) {
	f.mu.Lock()
	var fns []remote.RoomsFunc
	for _, s := range f.rooms {
		if s.userID == userID {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(docs, err)
	}
}

// EmitMessages delivers a message snapshot (or error) to every subscription
// for the given room.
func (f *fakeSource) EmitMessages(roomID string, docs []remote.MessageDoc, err error) {
	f.mu.Lock()
	var fns []remote.MessagesFunc
	for _, s := range f.msgs {
		if s.roomID == roomID {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(docs, err)
	}
}

func (f *fakeSource) roomSubCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rooms {
		if s.userID == userID {
			n++
		}
	}
	return n
}

func (f *fakeSource) msgSubCount(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.msgs {
		if s.roomID == roomID {
			n++
		}
	}
	return n
}
