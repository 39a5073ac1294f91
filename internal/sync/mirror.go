package sync

import (
	"sync"
	"time"

	"github.com/plateful-app/plateful/internal/chatstore"
	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/remote"
	"go.uber.org/zap"
)

// Mirror keeps the local message list of one room synchronized with the
// remote change feed. One mirror runs per tracked room; mirrors are
// independent and never block one another.
//
// Reconciliation runs synchronously inside each feed callback, under the
// store lock, and touches only in-memory maps, never I/O.
type Mirror struct {
	roomID string
	userID string
	store  *chatstore.Store
	window time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	unsub  func()
	closed bool
}

func newMirror(roomID, userID string, store *chatstore.Store, window time.Duration, logger *zap.Logger) *Mirror {
	return &Mirror{
		roomID: roomID,
		userID: userID,
		store:  store,
		window: window,
		logger: logger,
	}
}

// start opens the room's message subscription.
func (m *Mirror) start(src remote.ChangeSource) {
	unsub := src.SubscribeMessages(m.roomID, m.handle)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsub()
		return
	}
	m.unsub = unsub
	m.mu.Unlock()
}

// stop unsubscribes. Late deliveries racing the unsubscribe are dropped by
// the closed guard so a torn-down mirror never mutates the store again.
func (m *Mirror) stop() {
	m.mu.Lock()
	m.closed = true
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (m *Mirror) handle(docs []remote.MessageDoc, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err != nil {
		// Per-room scope: one broken room must not blank out the others,
		// and existing mirrored data stays visible. Retry happens on the
		// next membership re-evaluation, not here.
		if m.logger != nil {
			m.logger.Warn("message subscription error",
				zap.String("room", m.roomID), zap.Error(err))
		}
		m.store.SetRoomError(m.roomID, err.Error())
		return
	}

	m.store.ReconcileMessages(m.roomID, func(current []model.Message) []model.Message {
		return m.reconcile(current, docs)
	})
	m.store.SetRoomError(m.roomID, "")
}

// reconcile merges a full feed emission with the room's current list. It
// runs under the store lock (via ReconcileMessages) so an optimistic upsert
// cannot slip in between the read and the swap and be lost. Matching is
// id-first; an emission that carries no locally-known id may instead consume
// an optimistic placeholder with the same sender and text within the
// reconcile window, so a locally-sent message does not appear twice once the
// server echo arrives. Unmatched placeholders (still sending, or failed) are
// retained: a user's composed message is never silently dropped.
func (m *Mirror) reconcile(current []model.Message, docs []remote.MessageDoc) []model.Message {
	now := time.Now().UnixMilli()

	known := make(map[string]bool, len(current))
	var placeholders []model.Message
	for _, msg := range current {
		known[msg.ID] = true
		if msg.Local {
			placeholders = append(placeholders, msg)
		}
	}

	consumed := make(map[string]bool)
	out := make([]model.Message, 0, len(docs)+len(placeholders))
	seen := make(map[string]int, len(docs))

	for _, doc := range docs {
		msg := normalizeMessage(doc, m.userID, now)

		if !known[doc.ID] {
			// Fresh id: see if it is the echo of one of our placeholders.
			if ph, ok := matchPlaceholder(placeholders, consumed, doc, msg.CreatedAt, m.window); ok {
				consumed[ph.ID] = true
				if !doc.CreatedAt.Resolved {
					// Provisional until the backend resolves the commit
					// time; keep the placeholder's client timestamp.
					msg.CreatedAt = ph.CreatedAt
				}
			}
		}

		// The same id must appear exactly once, fields from the latest
		// emission winning.
		if i, dup := seen[doc.ID]; dup {
			out[i] = msg
			continue
		}
		seen[doc.ID] = len(out)
		out = append(out, msg)
	}

	for _, ph := range placeholders {
		if !consumed[ph.ID] {
			out = append(out, ph)
		}
	}

	return out
}

// matchPlaceholder finds an unconsumed optimistic placeholder that the doc
// plausibly echoes: same sender, same trimmed text, timestamps within the
// window. The optimistic id and server id are never equal, so content and
// temporal adjacency are the only available evidence.
func matchPlaceholder(placeholders []model.Message, consumed map[string]bool, doc remote.MessageDoc, docCreatedAt int64, window time.Duration) (model.Message, bool) {
	text := trimText(doc.Text)
	for _, ph := range placeholders {
		if consumed[ph.ID] {
			continue
		}
		if ph.SenderID != doc.SenderID || trimText(ph.Text) != text {
			continue
		}
		delta := docCreatedAt - ph.CreatedAt
		if delta < 0 {
			delta = -delta
		}
		if time.Duration(delta)*time.Millisecond <= window {
			return ph, true
		}
	}
	return model.Message{}, false
}
