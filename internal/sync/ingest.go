package sync

import (
	"sort"
	"strings"

	"github.com/plateful-app/plateful/internal/model"
	"github.com/plateful-app/plateful/internal/remote"
)

// normalizeMessage validates and flattens a feed document into the closed
// store shape. The pending-timestamp sentinel is collapsed here and never
// stored: an unresolved commit time maps to the provisional now value (a
// matched placeholder's client time overrides this in the mirror).
func normalizeMessage(doc remote.MessageDoc, userID string, now int64) model.Message {
	createdAt := doc.CreatedAt.Millis
	if !doc.CreatedAt.Resolved {
		createdAt = now
	}

	var status model.DeliveryStatus
	if userID != "" && doc.SenderID == userID {
		// Delivery status is meaningful only for the signed-in user's own
		// messages. An authoritative feed entry is at least sent.
		status = model.StatusSent
	}

	return model.Message{
		ID:         doc.ID,
		RoomID:     doc.RoomID,
		SenderID:   doc.SenderID,
		SenderName: doc.SenderName,
		Text:       doc.Text,
		CreatedAt:  createdAt,
		Edited:     doc.Edited,
		Deleted:    doc.Deleted,
		System:     doc.System,
		Status:     status,
	}
}

// normalizeRoom flattens a room document for the signed-in user: the
// per-member unread map narrows to their counter and every timestamp-bearing
// field becomes plain epoch millis.
func normalizeRoom(doc remote.RoomDoc, userID string, now int64) model.Room {
	lastUpdated := doc.LastUpdated.Millis
	if !doc.LastUpdated.Resolved {
		lastUpdated = now
	}

	var typing []model.TypingEntry
	for member, since := range doc.Typing {
		at := since.Millis
		if !since.Resolved {
			at = now
		}
		typing = append(typing, model.TypingEntry{UserID: member, Since: at})
	}
	sort.Slice(typing, func(i, j int) bool { return typing[i].UserID < typing[j].UserID })

	return model.Room{
		ID:          doc.ID,
		Name:        doc.Name,
		AvatarURL:   doc.AvatarURL,
		IsGroup:     doc.IsGroup,
		Members:     append([]string(nil), doc.Members...),
		LastMessage: doc.LastMessage,
		LastUpdated: lastUpdated,
		Unread:      doc.Unread[userID],
		Typing:      typing,
	}
}

func trimText(s string) string {
	return strings.TrimSpace(s)
}
