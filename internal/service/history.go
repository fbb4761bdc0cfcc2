package service

import (
	"github.com/daehyunko/roomchat/internal/event"
)

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 100

// History is one page of older messages, chronological for prepending.
type History struct {
	Messages []event.Message `json:"messages"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

// GetHistory returns up to limit messages strictly older than the message
// identified by beforeMessageID (the newest page when empty). HasMore is
// computed by over-fetching one row past limit.
func (s *MessageService) GetHistory(roomID, userID, beforeMessageID string, limit int) (*History, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = 50
	}
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}

	var beforeCreatedAt int64
	if beforeMessageID != "" {
		before, err := s.db.GetMessage(beforeMessageID)
		if err != nil {
			return nil, ErrInternal(err)
		}
		if before == nil {
			return nil, ErrNotFound("cursor message not found")
		}
		beforeCreatedAt = before.CreatedAt
	}

	msgs, err := s.db.ListMessagesBefore(roomID, userID, beforeCreatedAt, limit+1)
	if err != nil {
		return nil, ErrInternal(err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		// Rows are chronological; the extra row is the oldest one.
		msgs = msgs[1:]
	}

	wire := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, m.Wire())
	}

	return &History{Messages: wire, Total: len(wire), HasMore: hasMore}, nil
}
