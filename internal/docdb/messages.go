package docdb

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/plateful-app/plateful/internal/remote"
)

// CreateMessage appends a message with a server-assigned id and commit
// timestamp, updates the room's preview fields and bumps every other
// member's unread counter, all in one transaction.
func (db *DB) CreateMessage(ctx context.Context, roomID string, draft remote.MessageDraft) (string, error) {
	id := uuid.NewString()
	now := time.Now().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var members, unread string
	err = tx.QueryRowContext(ctx, `SELECT members, unread FROM rooms WHERE id = ?`, roomID).
		Scan(&members, &unread)
	if err != nil {
		return "", fmt.Errorf("room %q: %w", roomID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, sender_name, body, created_at, edited, deleted, system)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		id, roomID, draft.SenderID, draft.SenderName, draft.Text, now); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	var memberIDs []string
	if err := json.Unmarshal([]byte(members), &memberIDs); err != nil {
		return "", fmt.Errorf("room %s members: %w", roomID, err)
	}
	counts := map[string]int{}
	if err := json.Unmarshal([]byte(unread), &counts); err != nil {
		return "", fmt.Errorf("room %s unread: %w", roomID, err)
	}
	for _, uid := range memberIDs {
		if uid != draft.SenderID {
			counts[uid]++
		}
	}
	updatedUnread, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("marshal unread: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET last_message = ?, last_updated = ?, unread = ?, updated_at = ?
		WHERE id = ?`,
		draft.Text, now, string(updatedUnread), now, roomID); err != nil {
		return "", fmt.Errorf("update room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	db.notify(watchMessages, roomID)
	db.notify(watchRooms, "")
	return id, nil
}

// listMessages returns every message in a room in commit order.
func (db *DB) listMessages(roomID string) ([]remote.MessageDoc, error) {
	rows, err := db.Query(`
		SELECT id, room_id, sender_id, sender_name, body, created_at, edited, deleted, system
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, id ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []remote.MessageDoc
	for rows.Next() {
		var (
			doc       remote.MessageDoc
			createdAt int64
		)
		if err := rows.Scan(&doc.ID, &doc.RoomID, &doc.SenderID, &doc.SenderName,
			&doc.Text, &createdAt, &doc.Edited, &doc.Deleted, &doc.System); err != nil {
			return nil, err
		}
		doc.CreatedAt = remote.ResolvedAt(createdAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
