// Package event defines the durable room event types carried by the
// per-room append-only log. Presence and typing are ephemeral state and
// never appear here.
package event

import (
	"encoding/json"
	"fmt"
)

// Type discriminates durable event kinds on the wire.
type Type string

const (
	TypeMessageCreated Type = "message_created"
	TypeMessageUpdated Type = "message_updated"
	TypeMessageDeleted Type = "message_deleted"
)

// User is the author embedded in message payloads.
type User struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is the full message-with-author payload embedded in events so
// pollers never need a second round trip.
type Message struct {
	ID               string `json:"id"`
	RoomID           string `json:"room_id"`
	UserID           string `json:"user_id"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	LikeCount        int    `json:"like_count"`
	IsDeleted        bool   `json:"is_deleted"`
	ClientMessageID  string `json:"client_message_id,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
	User             User   `json:"user"`
}

// Event is the sum of all durable room event payloads.
type Event interface {
	Kind() Type
}

// MessageCreated carries the newly created message.
type MessageCreated struct {
	Message Message `json:"message"`
}

func (MessageCreated) Kind() Type { return TypeMessageCreated }

// MessageUpdated carries the message's new state (edits, like count).
type MessageUpdated struct {
	Message Message `json:"message"`
}

func (MessageUpdated) Kind() Type { return TypeMessageUpdated }

// MessageDeleted marks a message as deleted for everyone.
type MessageDeleted struct {
	MessageID string `json:"message_id"`
}

func (MessageDeleted) Kind() Type { return TypeMessageDeleted }

// Marshal encodes an event payload as JSON.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	return data, nil
}

// Unmarshal decodes a payload for the given type back into its concrete event.
func Unmarshal(t Type, payload []byte) (Event, error) {
	switch t {
	case TypeMessageCreated:
		var e MessageCreated
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s event: %w", t, err)
		}
		return e, nil
	case TypeMessageUpdated:
		var e MessageUpdated
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s event: %w", t, err)
		}
		return e, nil
	case TypeMessageDeleted:
		var e MessageDeleted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s event: %w", t, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
