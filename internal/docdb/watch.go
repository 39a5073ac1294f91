package docdb

import (
	"go.uber.org/zap"

	"github.com/plateful-app/plateful/internal/remote"
)

// SubscribeRooms registers a watcher for one member's room set. The first
// snapshot and every re-delivery after a commit arrive on their own
// goroutine and re-query current state.
func (db *DB) SubscribeRooms(userID string, fn remote.RoomsFunc) func() {
	w := &watcher{kind: watchRooms, key: userID}
	w.emit = func() {
		if !db.watcherActive(w) {
			return
		}
		docs, err := db.listRoomsFor(userID)
		if err != nil {
			db.logger.Warn("rooms query failed",
				zap.String("user_id", userID), zap.Error(err))
			fn(nil, err)
			return
		}
		fn(docs, nil)
	}
	return db.addWatcher(w)
}

// SubscribeMessages registers a watcher for one room's message set.
func (db *DB) SubscribeMessages(roomID string, fn remote.MessagesFunc) func() {
	w := &watcher{kind: watchMessages, key: roomID}
	w.emit = func() {
		if !db.watcherActive(w) {
			return
		}
		docs, err := db.listMessages(roomID)
		if err != nil {
			db.logger.Warn("messages query failed",
				zap.String("room_id", roomID), zap.Error(err))
			fn(nil, err)
			return
		}
		fn(docs, nil)
	}
	return db.addWatcher(w)
}
