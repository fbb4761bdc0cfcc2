package service

import (
	"github.com/daehyunko/roomchat/internal/event"
)

// SnapshotLimit is the number of messages a snapshot returns.
const SnapshotLimit = 50

// Snapshot bootstraps a client: the latest messages plus the room's current
// version to start polling from.
type Snapshot struct {
	RoomID   string          `json:"room_id"`
	Version  int64           `json:"version"`
	Messages []event.Message `json:"messages"`
	Total    int             `json:"total"`
	HasMore  bool            `json:"hasMore"`
}

// GetSnapshot returns the most recent 50 messages in chronological order and
// the room's latest version. HasMore is a heuristic: true iff exactly 50
// rows came back, which can report true when the room holds exactly 50
// messages. Callers must treat it as a hint, not an exact count.
func (s *MessageService) GetSnapshot(roomID, userID string) (*Snapshot, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}

	version, err := s.db.LatestVersion(roomID)
	if err != nil {
		return nil, ErrInternal(err)
	}

	msgs, err := s.db.ListRecentMessages(roomID, userID, SnapshotLimit)
	if err != nil {
		return nil, ErrInternal(err)
	}

	wire := make([]event.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, m.Wire())
	}

	return &Snapshot{
		RoomID:   roomID,
		Version:  version,
		Messages: wire,
		Total:    len(wire),
		HasMore:  len(msgs) == SnapshotLimit,
	}, nil
}
