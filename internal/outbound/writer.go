package outbound

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/remote"
	"go.uber.org/zap"
)

// Writer accepts compose intents from the presentation layer. A send is
// reflected in the local store immediately (optimistic) while the durable
// create runs in the background; the caller never waits.
type Writer struct {
	store  *chatstore.Store
	source remote.ChangeSource
	bus    *bus.Bus
	logger *zap.Logger
}

// SendResult is the payload of message.send_ack and message.send_failed
// events.
type SendResult struct {
	RoomID   string `json:"room_id"`
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewWriter creates a writer. bus and logger may be nil in tests.
func NewWriter(store *chatstore.Store, source remote.ChangeSource, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{
		store:  store,
		source: source,
		bus:    b,
		logger: logger,
	}
}

// Send validates and dispatches one outbound message. Empty input after
// trimming is a no-op, not an error. Returns the synthetic local id, or ""
// for the no-op case.
//
// The writer never replaces the optimistic entry on success; the room's
// mirror reconciles the echo, which keeps "writer reconciles" and "mirror
// reconciles" from racing to two different final states. On failure the
// entry is marked failed in place and stays visible for retry.
func (w *Writer) Send(roomID, text string, author model.Author) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	localID := "local-" + uuid.NewString()
	msg := model.Message{
		ID:         localID,
		RoomID:     roomID,
		SenderID:   author.ID,
		SenderName: author.Name,
		Text:       trimmed,
		CreatedAt:  time.Now().UnixMilli(),
		Status:     model.StatusSending,
		Local:      true,
	}
	w.store.UpsertMessage(roomID, msg)

	go w.deliver(roomID, localID, trimmed, author)
	return localID
}

func (w *Writer) deliver(roomID, localID, text string, author model.Author) {
	serverID, err := w.source.CreateMessage(context.Background(), roomID, remote.MessageDraft{
		SenderID:   author.ID,
		SenderName: author.Name,
		Text:       text,
	})
	if err != nil {
		if w.logger != nil {
			w.logger.Error("durable create failed",
				zap.String("room", roomID), zap.String("local_id", localID), zap.Error(err))
		}
		// The mirror may have reconciled the placeholder away in the
		// meantime; SetMessageStatus is a no-op then.
		w.store.SetMessageStatus(roomID, localID, model.StatusFailed)
		w.publish("message.send_failed", SendResult{RoomID: roomID, LocalID: localID, Error: err.Error()})
		return
	}

	if w.logger != nil {
		w.logger.Info("message sent",
			zap.String("room", roomID), zap.String("local_id", localID), zap.String("server_id", serverID))
	}
	w.publish("message.send_ack", SendResult{RoomID: roomID, LocalID: localID, ServerID: serverID})
}

// MarkRoomRead zeroes the signed-in user's unread counter, optimistically in
// the local store and durably against the backend.
func (w *Writer) MarkRoomRead(roomID string, userID string) {
	if userID == "" {
		return
	}
	w.store.SetRoomUnread(roomID, 0)

	go func() {
		if err := w.source.MarkRead(context.Background(), roomID, userID); err != nil && w.logger != nil {
			// The next rooms emission restores the authoritative counter.
			w.logger.Warn("mark read failed", zap.String("room", roomID), zap.Error(err))
		}
	}()
}

func (w *Writer) publish(kind string, payload any) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
