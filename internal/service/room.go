package service

import (
	"strings"

	"github.com/daehyunko/roomchat/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomService is deliberately thin: room creation and membership are routine
// plumbing around the participancy interface the core consumes. Invite
// tokens and profile management stay external.
type RoomService struct {
	db     *store.DB
	logger *zap.Logger
}

// NewRoomService creates a room service backed by the store.
func NewRoomService(db *store.DB, logger *zap.Logger) *RoomService {
	return &RoomService{db: db, logger: logger}
}

// RoomInfo is the room representation returned to clients.
type RoomInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
}

// Create makes a new room with the caller as its first participant.
func (s *RoomService) Create(name, ownerID string) (*RoomInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrValidation("room name is empty")
	}

	id := uuid.New().String()
	if err := s.db.CreateRoom(id, name); err != nil {
		return nil, ErrInternal(err)
	}
	if err := s.db.AddParticipant(id, ownerID); err != nil {
		return nil, ErrInternal(err)
	}

	s.logger.Info("room created", zap.String("room_id", id), zap.String("owner_id", ownerID))
	return &RoomInfo{ID: id, Name: name}, nil
}

// Join adds the caller to an existing room. Idempotent.
func (s *RoomService) Join(roomID, userID string) error {
	room, err := s.db.GetRoom(roomID)
	if err != nil {
		return ErrInternal(err)
	}
	if room == nil {
		return ErrNotFound("room not found")
	}
	if err := s.db.AddParticipant(roomID, userID); err != nil {
		return ErrInternal(err)
	}
	return nil
}

// Leave removes the caller from a room and clears their ephemeral state.
func (s *RoomService) Leave(roomID, userID string) error {
	if err := s.db.RemoveParticipant(roomID, userID); err != nil {
		return ErrInternal(err)
	}
	if err := s.db.DeleteTyping(roomID, userID); err != nil {
		return ErrInternal(err)
	}
	if err := s.db.UpsertPresence(roomID, userID, false); err != nil {
		return ErrInternal(err)
	}
	return nil
}
