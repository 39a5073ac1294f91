package remote

import "context"

// Timestamp is the change feed's tagged timestamp. Backends that echo an
// optimistic write before the server has assigned its commit time deliver a
// pending value; consumers must collapse it to a provisional epoch-millis
// number at ingestion and let a later resolved emission override it.
type Timestamp struct {
	Resolved bool
	Millis   int64
}

// ResolvedAt returns a server-resolved timestamp.
func ResolvedAt(millis int64) Timestamp {
	return Timestamp{Resolved: true, Millis: millis}
}

// Pending returns the not-yet-resolved sentinel.
func Pending() Timestamp {
	return Timestamp{}
}

// RoomDoc is the wire shape of a room document.
type RoomDoc struct {
	ID          string
	Name        string
	AvatarURL   string
	IsGroup     bool
	Members     []string
	LastMessage string
	LastUpdated Timestamp
	Unread      map[string]int       // per-member unread counters
	Typing      map[string]Timestamp // member -> began typing
}

// MessageDoc is the wire shape of a message document.
type MessageDoc struct {
	ID         string
	RoomID     string
	SenderID   string
	SenderName string
	Text       string
	CreatedAt  Timestamp
	Edited     bool
	Deleted    bool
	System     bool
}

// MessageDraft is the payload of a durable message create. The backend
// assigns the id and commit timestamp.
type MessageDraft struct {
	SenderID   string
	SenderName string
	Text       string
}

// RoomsFunc receives the full current room set for a subscribed user, or a
// subscription error. A non-nil err carries no docs.
type RoomsFunc func(rooms []RoomDoc, err error)

// MessagesFunc receives the full current message set for a subscribed room,
// ordered by the backend's best effort only; consumers must not assume
// arrival order.
type MessagesFunc func(msgs []MessageDoc, err error)

// ChangeSource is the document store boundary: continuous snapshot
// subscriptions plus durable writes.
//
// Implementations must deliver every emission, including the initial
// snapshot, asynchronously with respect to the Subscribe call, so that a
// consumer's callback never runs inside another callback. The returned
// unsubscribe func stops all further delivery and is safe to call more
// than once.
type ChangeSource interface {
	SubscribeRooms(userID string, fn RoomsFunc) (unsubscribe func())
	SubscribeMessages(roomID string, fn MessagesFunc) (unsubscribe func())
	CreateMessage(ctx context.Context, roomID string, draft MessageDraft) (id string, err error)
	MarkRead(ctx context.Context, roomID, userID string) error
}
