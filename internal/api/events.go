package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is a unix socket with owner-only permissions; there is
	// no cross-origin surface to defend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wireEvent is the websocket frame for one bus event.
type wireEvent struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	At      int64  `json:"at"`
	Payload any    `json:"payload,omitempty"`
}

// streamEvents upgrades to a websocket and relays bus events. An optional
// ?prefix= query narrows the stream to one event namespace (e.g. "chat.").
func (h *Handler) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, unsubscribe := h.bus.Subscribe(c.Query("prefix"), 64)
	defer unsubscribe()

	// Read loop only to detect the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			frame := wireEvent{
				ID:      uuid.NewString(),
				Kind:    evt.Kind,
				At:      evt.Timestamp.UnixMilli(),
				Payload: evt.Payload,
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
