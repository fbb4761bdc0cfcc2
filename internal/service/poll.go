package service

import (
	"github.com/daehyunko/roomchat/internal/event"
)

// MaxPollEvents caps the number of events a single poll returns.
const MaxPollEvents = 100

// PollEvent is one event on the wire. Message is set for message_created and
// message_updated (embedded at append time, so no second round trip);
// MessageID is set for message_deleted.
type PollEvent struct {
	Type      event.Type     `json:"type"`
	Version   int64          `json:"version"`
	Message   *event.Message `json:"message,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
}

// PollResult is the poll response. Version is the room's high-water mark
// after the returned events (equal to sinceVersion when nothing is new).
type PollResult struct {
	Version int64       `json:"version"`
	Events  []PollEvent `json:"events"`
}

// Poll answers "events with version > sinceVersion" immediately from the
// current log state. It never blocks waiting for new data; the client drives
// cadence.
func (s *MessageService) Poll(roomID, userID string, sinceVersion int64) (*PollResult, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}

	stored, err := s.db.QueryEvents(roomID, sinceVersion, MaxPollEvents)
	if err != nil {
		return nil, ErrInternal(err)
	}

	if len(stored) == 0 {
		latest, err := s.db.LatestVersion(roomID)
		if err != nil {
			return nil, ErrInternal(err)
		}
		if latest < sinceVersion {
			latest = sinceVersion
		}
		return &PollResult{Version: latest, Events: []PollEvent{}}, nil
	}

	events := make([]PollEvent, 0, len(stored))
	for _, se := range stored {
		decoded, err := event.Unmarshal(se.Type, se.Payload)
		if err != nil {
			return nil, ErrInternal(err)
		}
		pe := PollEvent{Type: se.Type, Version: se.Version}
		switch e := decoded.(type) {
		case event.MessageCreated:
			msg := e.Message
			pe.Message = &msg
		case event.MessageUpdated:
			msg := e.Message
			pe.Message = &msg
		case event.MessageDeleted:
			pe.MessageID = e.MessageID
		}
		events = append(events, pe)
	}

	return &PollResult{
		Version: events[len(events)-1].Version,
		Events:  events,
	}, nil
}
