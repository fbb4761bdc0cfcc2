package store

import "github.com/daehyunko/roomchat/internal/event"

// Room is a chat room row. Version is the room's event-log high-water mark.
type Room struct {
	ID        string
	Name      string
	Version   int64
	CreatedAt int64
	UpdatedAt int64
}

// User is a profile row referenced by messages and presence.
type User struct {
	ID        string
	Nickname  string
	AvatarURL string
}

// Message is a message row. Timestamps are Unix milliseconds.
type Message struct {
	ID               string
	RoomID           string
	UserID           string
	Content          string
	ReplyToMessageID string
	LikeCount        int
	IsDeleted        bool
	ClientMessageID  string
	CreatedAt        int64
	UpdatedAt        int64
}

// MessageWithUser joins a message row with its author.
type MessageWithUser struct {
	Message
	User User
}

// Wire converts the joined row to the event-payload/API representation.
func (m MessageWithUser) Wire() event.Message {
	return event.Message{
		ID:               m.ID,
		RoomID:           m.RoomID,
		UserID:           m.UserID,
		Content:          m.Content,
		ReplyToMessageID: m.ReplyToMessageID,
		LikeCount:        m.LikeCount,
		IsDeleted:        m.IsDeleted,
		ClientMessageID:  m.ClientMessageID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		User: event.User{
			ID:        m.User.ID,
			Nickname:  m.User.Nickname,
			AvatarURL: m.User.AvatarURL,
		},
	}
}

// StoredEvent is one row of a room's append-only event log.
type StoredEvent struct {
	RoomID    string
	Version   int64
	Type      event.Type
	Payload   []byte
	CreatedAt int64
}

// PresenceRecord is the ephemeral per-room liveness state of a user.
type PresenceRecord struct {
	RoomID   string
	UserID   string
	Nickname string
	IsOnline bool
	LastSeen int64
}

// TypingRecord is an ephemeral typing indicator with a logical TTL.
type TypingRecord struct {
	RoomID    string
	UserID    string
	Nickname  string
	ExpiresAt int64
}
