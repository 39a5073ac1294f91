package model

// DeliveryStatus tracks the lifecycle of the signed-in user's own messages.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Message is a single chat message as held by the local store. CreatedAt is
// always a resolved epoch-millis value; pending backend timestamps are
// collapsed at ingestion and never stored.
type Message struct {
	ID         string         `json:"id"`
	RoomID     string         `json:"room_id"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name"`
	Text       string         `json:"text"`
	CreatedAt  int64          `json:"created_at_unix_ms"`
	Edited     bool           `json:"edited"`
	Deleted    bool           `json:"deleted"`
	System     bool           `json:"system"`
	Status     DeliveryStatus `json:"status"`

	// Local marks an optimistic placeholder that has not yet been matched
	// against an authoritative change-feed entry.
	Local bool `json:"local"`
}

// TypingEntry records one participant currently typing in a room. Since is
// epoch millis; entries past the configured TTL are swept.
type TypingEntry struct {
	UserID string `json:"user_id"`
	Since  int64  `json:"since_unix_ms"`
}

// Room is a chat conversation (direct or group) as held by the local store.
// Unread is the counter for the signed-in user only; the per-user map on the
// wire is narrowed at ingestion.
type Room struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	AvatarURL   string        `json:"avatar_url"`
	IsGroup     bool          `json:"is_group"`
	Members     []string      `json:"members"`
	LastMessage string        `json:"last_message"`
	LastUpdated int64         `json:"last_updated_unix_ms"`
	Unread      int           `json:"unread"`
	Typing      []TypingEntry `json:"typing,omitempty"`
}

// Author identifies the sender of an outbound message.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
