package service

import (
	"time"

	"github.com/daehyunko/roomchat/internal/store"
	"go.uber.org/zap"
)

const (
	// TypingTTL is how long a typing indicator stays visible after the last
	// refresh.
	TypingTTL = 3 * time.Second

	// PresenceStaleAfter is how old a heartbeat may be before the record is
	// treated as offline: twice the recommended 30s heartbeat interval.
	PresenceStaleAfter = 60 * time.Second
)

// PresenceService is the ephemeral presence/typing tracker. Its state lives
// outside the durable event log and expires by logical TTL.
type PresenceService struct {
	db     *store.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPresenceService creates a presence tracker backed by the store.
func NewPresenceService(db *store.DB, logger *zap.Logger) *PresenceService {
	return &PresenceService{db: db, logger: logger, now: time.Now}
}

func (s *PresenceService) requireParticipant(roomID, userID string) error {
	ok, err := s.db.IsParticipant(roomID, userID)
	if err != nil {
		return ErrInternal(err)
	}
	if !ok {
		return ErrNotParticipant()
	}
	return nil
}

// Heartbeat upserts the caller's presence record. Clients send one every 30s
// while a room is open.
func (s *PresenceService) Heartbeat(roomID, userID string, isOnline bool) error {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return err
	}
	if err := s.db.UpsertPresence(roomID, userID, isOnline); err != nil {
		return ErrInternal(err)
	}
	return nil
}

// OnlineUser is one online participant.
type OnlineUser struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// ListOnline returns participants flagged online with a fresh heartbeat.
// Records older than PresenceStaleAfter are treated as offline even if the
// client never sent is_online=false.
func (s *PresenceService) ListOnline(roomID, userID string) ([]OnlineUser, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}
	minLastSeen := s.now().Add(-PresenceStaleAfter).UnixMilli()
	records, err := s.db.ListOnlinePresence(roomID, minLastSeen)
	if err != nil {
		return nil, ErrInternal(err)
	}
	users := make([]OnlineUser, 0, len(records))
	for _, r := range records {
		users = append(users, OnlineUser{
			UserID:   r.UserID,
			Nickname: r.Nickname,
			IsOnline: r.IsOnline,
			LastSeen: r.LastSeen,
		})
	}
	return users, nil
}

// SetTyping refreshes (isTyping=true) or clears (isTyping=false) the
// caller's typing indicator. A refresh is visible for TypingTTL.
func (s *PresenceService) SetTyping(roomID, userID string, isTyping bool) error {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return err
	}
	if isTyping {
		expiresAt := s.now().Add(TypingTTL).UnixMilli()
		if err := s.db.UpsertTyping(roomID, userID, expiresAt); err != nil {
			return ErrInternal(err)
		}
		return nil
	}
	if err := s.db.DeleteTyping(roomID, userID); err != nil {
		return ErrInternal(err)
	}
	return nil
}

// TypingUser is one participant currently typing.
type TypingUser struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// ListTyping returns unexpired typing indicators, excluding the caller.
func (s *PresenceService) ListTyping(roomID, userID string) ([]TypingUser, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}
	records, err := s.db.ListTyping(roomID, userID, s.now().UnixMilli())
	if err != nil {
		return nil, ErrInternal(err)
	}
	users := make([]TypingUser, 0, len(records))
	for _, r := range records {
		users = append(users, TypingUser{UserID: r.UserID, Nickname: r.Nickname})
	}
	return users, nil
}
