package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plateful-app/plateful/internal/bus"
	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/identity"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/outbound"
	"github.com/plateful-app/plateful/internal/remote"
	"github.com/plateful-app/plateful/internal/status"
)

type stubSource struct {
	created   chan remote.MessageDraft
	markReads chan string
}

func newStubSource() *stubSource {
	return &stubSource{
		created:   make(chan remote.MessageDraft, 8),
		markReads: make(chan string, 8),
	}
}

func (s *stubSource) SubscribeRooms(string, remote.RoomsFunc) func() { return func() {} }

func (s *stubSource) SubscribeMessages(string, remote.MessagesFunc) func() { return func() {} }

func (s *stubSource) CreateMessage(_ context.Context, _ string, draft remote.MessageDraft) (string, error) {
	s.created <- draft
	return "srv-1", nil
}

func (s *stubSource) MarkRead(_ context.Context, roomID, _ string) error {
	s.markReads <- roomID
	return nil
}

type fixture struct {
	handler *Handler
	store   *chatstore.Store
	ids     *identity.Local
	source  *stubSource
	engine  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	b := bus.New()
	store := chatstore.New(b)
	ids := identity.NewLocal(b)
	source := newStubSource()
	writer := outbound.NewWriter(store, source, b, zap.NewNop())
	machine := status.NewMachine(b)

	h := NewHandler(store, ids, writer, machine, b, zap.NewNop())
	engine := gin.New()
	h.Routes(engine)

	return &fixture{handler: h, store: store, ids: ids, source: source, engine: engine}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestStatusSignedOut(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, status.Booting, resp.State)
	assert.Empty(t, resp.UserID)
}

func TestListRoomsEmpty(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/v1/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":[]}`, rec.Body.String())
}

func TestListRooms(t *testing.T) {
	f := newFixture(t)
	f.store.ReplaceRooms([]model.Room{{ID: "r1", Name: "Dinner plans"}})

	rec := f.do(http.MethodGet, "/v1/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Rooms []model.Room `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "Dinner plans", resp.Rooms[0].Name)
}

func TestListMessagesIncludesRoomError(t *testing.T) {
	f := newFixture(t)
	f.store.ReplaceMessages("r1", []model.Message{{ID: "m1", RoomID: "r1", Text: "hi", CreatedAt: 1000}})
	f.store.SetRoomError("r1", "subscription lost")

	rec := f.do(http.MethodGet, "/v1/rooms/r1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []model.Message `json:"messages"`
		Error    string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 1)
	assert.Equal(t, "subscription lost", resp.Error)
}

func TestSendRequiresSignIn(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/rooms/r1/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendOptimisticEntry(t *testing.T) {
	f := newFixture(t)
	f.ids.SignIn(model.Author{ID: "u1", Name: "Ulla"})

	rec := f.do(http.MethodPost, "/v1/rooms/r1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		LocalID string `json:"local_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.LocalID)

	msg, ok := f.store.Message("r1", resp.LocalID)
	require.True(t, ok, "optimistic entry should be in the store")
	assert.Equal(t, model.StatusSending, msg.Status)

	select {
	case draft := <-f.source.created:
		assert.Equal(t, "hello", draft.Text)
		assert.Equal(t, "u1", draft.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("durable create never happened")
	}
}

func TestSendRejectsMissingText(t *testing.T) {
	f := newFixture(t)
	f.ids.SignIn(model.Author{ID: "u1"})

	rec := f.do(http.MethodPost, "/v1/rooms/r1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendRejectsBlankText(t *testing.T) {
	f := newFixture(t)
	f.ids.SignIn(model.Author{ID: "u1"})

	rec := f.do(http.MethodPost, "/v1/rooms/r1/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.store.Messages("r1"))
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	f.ids.SignIn(model.Author{ID: "u1"})
	f.store.ReplaceRooms([]model.Room{{ID: "r1", Unread: 3}})

	rec := f.do(http.MethodPost, "/v1/rooms/r1/read", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.store.Rooms()[0].Unread)

	select {
	case roomID := <-f.source.markReads:
		assert.Equal(t, "r1", roomID)
	case <-time.After(2 * time.Second):
		t.Fatal("backend MarkRead never happened")
	}
}

func TestSessionSignInAndOut(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/session/signin", `{"user_id":"u1","name":"Ulla"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", f.ids.CurrentUserID())

	rec = f.do(http.MethodPost, "/v1/session/signout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.ids.CurrentUserID())
}

func TestSignInRequiresUserID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/session/signin", `{"name":"nobody"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
