package docdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/plateful-app/plateful/internal/remote"
)

// UpsertRoom creates or updates a room document. Room provisioning belongs
// to flows outside the sync core (the app's "start a chat" screens); this
// is their write path, and the tests'.
func (db *DB) UpsertRoom(ctx context.Context, doc remote.RoomDoc) error {
	now := time.Now().UnixMilli()
	lastUpdated := doc.LastUpdated.Millis
	if !doc.LastUpdated.Resolved {
		lastUpdated = now
	}

	members, err := json.Marshal(doc.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	unread, err := json.Marshal(orEmptyCounts(doc.Unread))
	if err != nil {
		return fmt.Errorf("marshal unread: %w", err)
	}
	typing, err := json.Marshal(typingMillis(doc.Typing, now))
	if err != nil {
		return fmt.Errorf("marshal typing: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, avatar_url, is_group, members, last_message, last_updated, unread, typing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar_url = excluded.avatar_url,
			is_group = excluded.is_group,
			members = excluded.members,
			last_message = excluded.last_message,
			last_updated = excluded.last_updated,
			unread = excluded.unread,
			typing = excluded.typing,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Name, doc.AvatarURL, doc.IsGroup, string(members),
		doc.LastMessage, lastUpdated, string(unread), string(typing), now)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	db.notify(watchRooms, "")
	return nil
}

// MarkRead zeroes a member's unread counter.
func (db *DB) MarkRead(ctx context.Context, roomID, userID string) error {
	err := db.mutateRoomJSON(ctx, roomID, "unread", func(raw []byte) ([]byte, error) {
		counts := map[string]int{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &counts); err != nil {
				return nil, err
			}
		}
		counts[userID] = 0
		return json.Marshal(counts)
	})
	if err != nil {
		return err
	}
	db.notify(watchRooms, "")
	return nil
}

// SetTyping adds or removes a member from a room's typing set, stamping the
// entry with the commit time.
func (db *DB) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	now := time.Now().UnixMilli()
	err := db.mutateRoomJSON(ctx, roomID, "typing", func(raw []byte) ([]byte, error) {
		entries := map[string]int64{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entries); err != nil {
				return nil, err
			}
		}
		if typing {
			entries[userID] = now
		} else {
			delete(entries, userID)
		}
		return json.Marshal(entries)
	})
	if err != nil {
		return err
	}
	db.notify(watchRooms, "")
	return nil
}

// mutateRoomJSON rewrites one JSON column of a room row inside a
// transaction.
func (db *DB) mutateRoomJSON(ctx context.Context, roomID, column string, fn func([]byte) ([]byte, error)) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	// column is a compile-time constant at every call site, never user input.
	err = tx.QueryRowContext(ctx, `SELECT `+column+` FROM rooms WHERE id = ?`, roomID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("room %q not found", roomID)
	}
	if err != nil {
		return fmt.Errorf("read room: %w", err)
	}

	updated, err := fn([]byte(raw))
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", column, err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `UPDATE rooms SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		string(updated), now, roomID); err != nil {
		return fmt.Errorf("write room: %w", err)
	}
	return tx.Commit()
}

// listRoomsFor returns the full current room set for one member, most
// recently updated first.
func (db *DB) listRoomsFor(userID string) ([]remote.RoomDoc, error) {
	rows, err := db.Query(`
		SELECT id, name, avatar_url, is_group, members, last_message, last_updated, unread, typing
		FROM rooms
		WHERE members LIKE '%"' || ? || '"%'
		ORDER BY last_updated DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []remote.RoomDoc
	for rows.Next() {
		var (
			doc                     remote.RoomDoc
			members, unread, typing string
			lastUpdated             int64
		)
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.AvatarURL, &doc.IsGroup,
			&members, &doc.LastMessage, &lastUpdated, &unread, &typing); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &doc.Members); err != nil {
			return nil, fmt.Errorf("room %s members: %w", doc.ID, err)
		}
		if err := json.Unmarshal([]byte(unread), &doc.Unread); err != nil {
			return nil, fmt.Errorf("room %s unread: %w", doc.ID, err)
		}
		entries := map[string]int64{}
		if err := json.Unmarshal([]byte(typing), &entries); err != nil {
			return nil, fmt.Errorf("room %s typing: %w", doc.ID, err)
		}
		doc.Typing = make(map[string]remote.Timestamp, len(entries))
		for uid, at := range entries {
			doc.Typing[uid] = remote.ResolvedAt(at)
		}
		doc.LastUpdated = remote.ResolvedAt(lastUpdated)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func orEmptyCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func typingMillis(m map[string]remote.Timestamp, now int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for uid, ts := range m {
		if ts.Resolved {
			out[uid] = ts.Millis
		} else {
			out[uid] = now
		}
	}
	return out
}
