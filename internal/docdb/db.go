// Package docdb is a watchable document backend over SQLite. It implements
// remote.ChangeSource for deployments that run against a self-hosted
// backend instead of the managed one: durable room/message documents,
// server-assigned commit timestamps, and snapshot watchers that re-deliver
// the full current result set after every commit.
package docdb

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection plus the watcher registry.
type DB struct {
	*sql.DB

	logger *zap.Logger

	mu       sync.Mutex
	watchers map[int]*watcher
	nextID   int
}

type watchKind int

const (
	watchRooms watchKind = iota
	watchMessages
)

type watcher struct {
	kind watchKind
	key  string // userID for rooms, roomID for messages
	emit func()

	// notify coalesces pending wake-ups; a single drain goroutine per
	// watcher runs emit, so deliveries for one watcher never reorder.
	notify chan struct{}
	stop   chan struct{}
}

// Open creates a SQLite connection with WAL mode and the pragmas the
// watcher notification path depends on.
func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open docdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping docdb: %w", err)
	}
	return &DB{
		DB:       db,
		logger:   logger,
		watchers: make(map[int]*watcher),
	}, nil
}

// notify wakes every watcher the commit may concern. Each watcher drains
// its own coalescing channel on a dedicated goroutine (see addWatcher), so
// re-query and callback happen in notification order; two commits can never
// deliver their snapshots to one watcher reordered. A wake-up that finds
// the buffer already full is dropped: the pending drain re-queries current
// state and covers the newer commit too.
func (db *DB) notify(kind watchKind, key string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, w := range db.watchers {
		if w.kind != kind {
			continue
		}
		// Rooms watchers all re-evaluate on any room commit: membership
		// changes are exactly what they need to observe.
		if kind == watchMessages && w.key != key {
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (db *DB) addWatcher(w *watcher) func() {
	w.notify = make(chan struct{}, 1)
	w.stop = make(chan struct{})

	db.mu.Lock()
	id := db.nextID
	db.nextID++
	db.watchers[id] = w
	db.mu.Unlock()

	// Serialized delivery loop. The initial snapshot is queued before the
	// loop starts, so it is still delivered asynchronously with respect to
	// the Subscribe call, per the ChangeSource contract.
	w.notify <- struct{}{}
	go func() {
		for {
			select {
			case <-w.stop:
				return
			case <-w.notify:
				w.emit()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			db.mu.Lock()
			delete(db.watchers, id)
			db.mu.Unlock()
			close(w.stop)
		})
	}
}

// watcherActive reports whether the watcher with emit identity w is still
// registered. Emissions check this so an unsubscribed watcher stops
// delivering even if a goroutine was already scheduled.
func (db *DB) watcherActive(w *watcher) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, reg := range db.watchers {
		if reg == w {
			return true
		}
	}
	return false
}
