package sync

import (
	"sync"
	"time"

	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/identity"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/remote"
	"github.com/plateful-app/plateful/internal/status"
	"go.uber.org/zap"
)

// Tracker maintains the "which rooms does this user belong to" subscription
// and owns one Mirror per tracked room. It is driven by identity changes:
// sign-in opens the rooms subscription, sign-out is a full teardown that
// clears the store and cancels every active subscription.
type Tracker struct {
	source  remote.ChangeSource
	ids     identity.Provider
	store   *chatstore.Store
	machine *status.Machine
	window  time.Duration
	logger  *zap.Logger

	mu            sync.Mutex
	userID        string
	unsubIdentity func()
	unsubRooms    func()
	mirrors       map[string]*Mirror
	synced        bool
}

// NewTracker wires the tracker. machine may be nil (tests); logger may be
// nil as well.
func NewTracker(src remote.ChangeSource, ids identity.Provider, store *chatstore.Store, machine *status.Machine, window time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		source:  src,
		ids:     ids,
		store:   store,
		machine: machine,
		window:  window,
		logger:  logger,
		mirrors: make(map[string]*Mirror),
	}
}

// Start subscribes to identity changes and applies the current user.
func (t *Tracker) Start() {
	t.unsubIdentity = t.ids.Subscribe(t.SetUser)
	t.SetUser(t.ids.CurrentUserID())
}

// Stop cancels the identity subscription and tears down all remote
// subscriptions. Mirrored data is left in place; the process is exiting.
func (t *Tracker) Stop() {
	if t.unsubIdentity != nil {
		t.unsubIdentity()
		t.unsubIdentity = nil
	}
	t.mu.Lock()
	t.teardownLocked()
	t.userID = ""
	t.mu.Unlock()
}

// SetUser reacts to an identity change. The old user's subscriptions are
// closed before any new one opens (no-overlap invariant); an empty id
// additionally clears all mirrored state.
func (t *Tracker) SetUser(userID string) {
	t.mu.Lock()

	if userID == t.userID {
		t.mu.Unlock()
		return
	}

	t.teardownLocked()
	t.userID = userID
	t.synced = false

	if userID == "" {
		t.mu.Unlock()
		t.store.Clear()
		t.transition(status.SignedOut)
		if t.logger != nil {
			t.logger.Info("signed out, chat state cleared")
		}
		return
	}

	// A user switch must not leak the previous user's rooms.
	t.store.Clear()
	t.store.SetLoading(true)
	t.transition(status.Connecting)

	uid := userID
	t.unsubRooms = t.source.SubscribeRooms(uid, func(docs []remote.RoomDoc, err error) {
		t.handleRooms(uid, docs, err)
	})
	t.transition(status.Syncing)
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("tracking rooms", zap.String("user", userID))
	}
}

// ActiveMirrors returns the ids of rooms with an open message subscription.
func (t *Tracker) ActiveMirrors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.mirrors))
	for id := range t.mirrors {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) handleRooms(userID string, docs []remote.RoomDoc, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Stale callback from a subscription already torn down.
	if userID != t.userID {
		return
	}

	if err != nil {
		if t.logger != nil {
			t.logger.Warn("rooms subscription error", zap.Error(err))
		}
		// Room-level error state only; already-mirrored data stays. The
		// initial fetch is over even if its answer was an error.
		t.store.SetLoading(false)
		t.store.SetGlobalError(err.Error())
		t.transition(status.Degraded)
		return
	}

	now := time.Now().UnixMilli()
	rooms := make([]model.Room, 0, len(docs))
	want := make(map[string]bool, len(docs))
	for _, doc := range docs {
		rooms = append(rooms, normalizeRoom(doc, userID, now))
		want[doc.ID] = true
	}

	t.store.ReplaceRooms(rooms)
	t.store.SetGlobalError("")
	t.store.SetLoading(false)

	// Close mirrors for rooms that left the set. Their messages stay in the
	// store; leaving the membership set only unsubscribes.
	for id, m := range t.mirrors {
		if !want[id] {
			m.stop()
			delete(t.mirrors, id)
			if t.logger != nil {
				t.logger.Info("mirror closed", zap.String("room", id))
			}
		}
	}

	// Open mirrors for rooms that joined. This is also the retry path for a
	// room whose earlier subscription failed.
	for id := range want {
		if _, ok := t.mirrors[id]; ok {
			continue
		}
		m := newMirror(id, userID, t.store, t.window, t.logger)
		t.mirrors[id] = m
		m.start(t.source)
	}

	if !t.synced {
		t.synced = true
		t.transition(status.Ready)
	} else if t.machine != nil && t.machine.Current() == status.Degraded {
		t.transition(status.Ready)
	}
}

// teardownLocked closes the rooms subscription and every mirror. Caller
// holds t.mu.
func (t *Tracker) teardownLocked() {
	if t.unsubRooms != nil {
		t.unsubRooms()
		t.unsubRooms = nil
	}
	for id, m := range t.mirrors {
		m.stop()
		delete(t.mirrors, id)
	}
}

func (t *Tracker) transition(to status.State) {
	if t.machine == nil {
		return
	}
	if err := t.machine.Transition(to); err != nil && t.logger != nil {
		t.logger.Debug("state transition skipped", zap.Error(err))
	}
}
