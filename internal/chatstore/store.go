package chatstore

import (
	"sort"
	"sync"
	"time"

	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/model"
)

// Store is the single in-memory source of truth the presentation layer
// reads: the room list plus one ordered message list per room. It is
// mutated only through the named operations below; the mirror, the
// membership tracker, and the outbound writer all funnel through them.
// Values accepted here are already normalized model types;
// provider-specific timestamp sentinels never reach the store.
//
// Message lists are re-sorted ascending by CreatedAt after every mutation.
// The room list is kept in arrival order; recency sorting is a read-time
// concern of the caller.
type Store struct {
	mu        sync.RWMutex
	rooms     []model.Room
	messages  map[string][]model.Message
	roomErrs  map[string]string
	globalErr string
	loading   bool
	bus       *bus.Bus
}

// MessageRef identifies a message within a room in change events.
type MessageRef struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

// ErrorScope is the payload of chat.error events. RoomID is empty for the
// global (room-list) scope; Message is empty when the error cleared.
type ErrorScope struct {
	RoomID  string `json:"room_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// New creates an empty store. The bus may be nil in tests; mutations then
// go unannounced.
func New(b *bus.Bus) *Store {
	return &Store{
		messages: make(map[string][]model.Message),
		roomErrs: make(map[string]string),
		bus:      b,
	}
}

// ReplaceRooms swaps in the full current room list.
func (s *Store) ReplaceRooms(rooms []model.Room) {
	s.mu.Lock()
	s.rooms = append([]model.Room(nil), rooms...)
	s.mu.Unlock()
	s.publish("chat.rooms_updated", nil)
}

// ReplaceMessages swaps in the full message list for a room and
// re-establishes the ascending CreatedAt order.
func (s *Store) ReplaceMessages(roomID string, msgs []model.Message) {
	sorted := append([]model.Message(nil), msgs...)
	sortByCreatedAt(sorted)

	s.mu.Lock()
	s.messages[roomID] = sorted
	s.mu.Unlock()
	s.publish("chat.messages_updated", roomID)
}

// ReconcileMessages replaces a room's message list with the result of fn,
// which receives a copy of the current list and runs under the store lock.
// The mirror merges feed snapshots through this: holding the lock across
// the read-merge-write means an optimistic upsert racing the merge either
// lands before it (and is seen by fn) or after it (and survives the swap),
// never in between where the swap would erase it.
func (s *Store) ReconcileMessages(roomID string, fn func(current []model.Message) []model.Message) {
	s.mu.Lock()
	current := append([]model.Message(nil), s.messages[roomID]...)
	next := fn(current)
	sortByCreatedAt(next)
	s.messages[roomID] = next
	s.mu.Unlock()
	s.publish("chat.messages_updated", roomID)
}

// UpsertMessage inserts or replaces (by id) a single message in a room,
// then re-sorts the list.
func (s *Store) UpsertMessage(roomID string, m model.Message) {
	s.mu.Lock()
	list := s.messages[roomID]
	replaced := false
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, m)
	}
	sortByCreatedAt(list)
	s.messages[roomID] = list
	s.mu.Unlock()
	s.publish("chat.message_upserted", MessageRef{RoomID: roomID, MessageID: m.ID})
}

// SetMessageStatus updates the delivery status of an existing message in
// place. Returns false if the id is no longer present (e.g. the mirror
// already reconciled the placeholder away).
func (s *Store) SetMessageStatus(roomID, msgID string, st model.DeliveryStatus) bool {
	s.mu.Lock()
	list := s.messages[roomID]
	found := false
	for i := range list {
		if list[i].ID == msgID {
			list[i].Status = st
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.publish("chat.message_upserted", MessageRef{RoomID: roomID, MessageID: msgID})
	}
	return found
}

// SetRoomUnread overwrites the signed-in user's unread counter for a room.
func (s *Store) SetRoomUnread(roomID string, n int) {
	s.mu.Lock()
	changed := false
	for i := range s.rooms {
		if s.rooms[i].ID == roomID && s.rooms[i].Unread != n {
			s.rooms[i].Unread = n
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.publish("chat.rooms_updated", nil)
	}
}

// PruneTyping drops typing entries whose Since is at or before cutoff
// (epoch millis) from every room. Returns whether anything changed.
func (s *Store) PruneTyping(cutoff int64) bool {
	s.mu.Lock()
	changed := false
	for i := range s.rooms {
		old := s.rooms[i].Typing
		// Fresh backing array: snapshots handed out by Rooms must not
		// observe the compaction.
		var kept []model.TypingEntry
		for _, e := range old {
			if e.Since > cutoff {
				kept = append(kept, e)
			}
		}
		if len(kept) != len(old) {
			s.rooms[i].Typing = kept
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.publish("chat.rooms_updated", nil)
	}
	return changed
}

// SetLoading flags whether the initial room-list snapshot is still pending.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	changed := s.loading != v
	s.loading = v
	s.mu.Unlock()
	if changed {
		s.publish("chat.loading", v)
	}
}

// SetRoomError records (or, with an empty message, clears) the per-room
// subscription error. Mirrored data for the room is left untouched.
func (s *Store) SetRoomError(roomID, msg string) {
	s.mu.Lock()
	if msg == "" {
		delete(s.roomErrs, roomID)
	} else {
		s.roomErrs[roomID] = msg
	}
	s.mu.Unlock()
	s.publish("chat.error", ErrorScope{RoomID: roomID, Message: msg})
}

// SetGlobalError records (or clears) the room-list subscription error.
func (s *Store) SetGlobalError(msg string) {
	s.mu.Lock()
	s.globalErr = msg
	s.mu.Unlock()
	s.publish("chat.error", ErrorScope{Message: msg})
}

// Clear wipes all room and message state. Used on sign-out; this is an
// explicit teardown, not a lazy "stop updating".
func (s *Store) Clear() {
	s.mu.Lock()
	s.rooms = nil
	s.messages = make(map[string][]model.Message)
	s.roomErrs = make(map[string]string)
	s.globalErr = ""
	s.loading = false
	s.mu.Unlock()
	s.publish("chat.cleared", nil)
}

// Rooms returns a copy of the current room list. Slice-typed fields are
// copied too; callers never share backing arrays with the store.
func (s *Store) Rooms() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, len(s.rooms))
	for i, r := range s.rooms {
		r.Members = append([]string(nil), r.Members...)
		r.Typing = append([]model.TypingEntry(nil), r.Typing...)
		out[i] = r
	}
	return out
}

// Messages returns a copy of a room's ordered message list.
func (s *Store) Messages(roomID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.messages[roomID]...)
}

// Message looks up a single message by id.
func (s *Store) Message(roomID, msgID string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[roomID] {
		if m.ID == msgID {
			return m, true
		}
	}
	return model.Message{}, false
}

// RoomError returns the recorded subscription error for a room, or "".
func (s *Store) RoomError(roomID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomErrs[roomID]
}

// GlobalError returns the room-list subscription error, or "".
func (s *Store) GlobalError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalErr
}

// Loading reports whether the initial room snapshot is still pending.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// sortByCreatedAt orders ascending by CreatedAt, tie-breaking on id so the
// order is deterministic when two messages share a millisecond.
func sortByCreatedAt(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt != msgs[j].CreatedAt {
			return msgs[i].CreatedAt < msgs[j].CreatedAt
		}
		return msgs[i].ID < msgs[j].ID
	})
}
