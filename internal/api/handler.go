// Package api exposes the daemon's local HTTP surface. Frontends attach
// over the profile's unix socket: REST reads against the mirrored chat
// state, send/read/session intents, and a websocket event stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/identity"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/outbound"
	"github.com/plateful-app/plateful/internal/status"
)

// Handler carries the daemon components the HTTP surface reads and drives.
type Handler struct {
	store   *chatstore.Store
	ids     *identity.Local
	writer  *outbound.Writer
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
}

func NewHandler(store *chatstore.Store, ids *identity.Local, writer *outbound.Writer,
	machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		ids:     ids,
		writer:  writer,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// Routes mounts the v1 API onto a gin engine.
func (h *Handler) Routes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.GET("/status", h.getStatus)
	v1.GET("/rooms", h.listRooms)
	v1.GET("/rooms/:id/messages", h.listMessages)
	v1.POST("/rooms/:id/messages", h.sendMessage)
	v1.POST("/rooms/:id/read", h.markRead)
	v1.POST("/session/signin", h.signIn)
	v1.POST("/session/signout", h.signOut)
	v1.GET("/events", h.streamEvents)
}

type statusResponse struct {
	State       status.State `json:"state"`
	UserID      string       `json:"user_id"`
	UserName    string       `json:"user_name"`
	Loading     bool         `json:"loading"`
	GlobalError string       `json:"global_error,omitempty"`
}

func (h *Handler) getStatus(c *gin.Context) {
	user, _ := h.ids.CurrentUser()
	c.JSON(http.StatusOK, statusResponse{
		State:       h.machine.Current(),
		UserID:      user.ID,
		UserName:    user.Name,
		Loading:     h.store.Loading(),
		GlobalError: h.store.GlobalError(),
	})
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms := h.store.Rooms()
	if rooms == nil {
		rooms = []model.Room{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) listMessages(c *gin.Context) {
	roomID := c.Param("id")
	msgs := h.store.Messages(roomID)
	if msgs == nil {
		msgs = []model.Message{}
	}
	resp := gin.H{"messages": msgs}
	if errMsg := h.store.RoomError(roomID); errMsg != "" {
		resp["error"] = errMsg
	}
	c.JSON(http.StatusOK, resp)
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	author, ok := h.ids.CurrentUser()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "not signed in"})
		return
	}
	localID := h.writer.Send(c.Param("id"), req.Text, author)
	if localID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message text is empty"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"local_id": localID})
}

func (h *Handler) markRead(c *gin.Context) {
	h.writer.MarkRoomRead(c.Param("id"), h.ids.CurrentUserID())
	c.Status(http.StatusNoContent)
}

type signInRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	h.ids.SignIn(model.Author{ID: req.UserID, Name: req.Name})
	c.Status(http.StatusNoContent)
}

func (h *Handler) signOut(c *gin.Context) {
	h.ids.SignOut()
	c.Status(http.StatusNoContent)
}
