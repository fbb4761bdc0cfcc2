package service

import (
	"errors"
	"strings"

	"github.com/daehyunko/roomchat/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxContentLength is the maximum message content length in characters.
const MaxContentLength = 5000

// MessageService owns message reads and writes: snapshot, history, poll,
// create, delete, like.
type MessageService struct {
	db     *store.DB
	logger *zap.Logger
}

// NewMessageService creates a message service backed by the store.
func NewMessageService(db *store.DB, logger *zap.Logger) *MessageService {
	return &MessageService{db: db, logger: logger}
}

func (s *MessageService) requireParticipant(roomID, userID string) error {
	ok, err := s.db.IsParticipant(roomID, userID)
	if err != nil {
		return ErrInternal(err)
	}
	if !ok {
		return ErrNotParticipant()
	}
	return nil
}

// CreateMessageInput is the request to create a message.
type CreateMessageInput struct {
	RoomID           string
	UserID           string
	Content          string
	ClientMessageID  string
	ReplyToMessageID string
}

// Create validates and persists a message. The message row and its
// message_created event are committed in one transaction, so pollers see
// every created message. Never retried automatically by clients.
func (s *MessageService) Create(in CreateMessageInput) (*store.MessageWithUser, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrValidation("message content is empty")
	}
	if len([]rune(content)) > MaxContentLength {
		return nil, ErrValidation("message content exceeds 5000 characters")
	}
	if err := s.requireParticipant(in.RoomID, in.UserID); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:               uuid.New().String(),
		RoomID:           in.RoomID,
		UserID:           in.UserID,
		Content:          content,
		ReplyToMessageID: in.ReplyToMessageID,
		ClientMessageID:  in.ClientMessageID,
	}
	stored, version, err := s.db.CreateMessage(msg)
	if err != nil {
		if errors.Is(err, store.ErrWriteConflict) {
			return nil, ErrWriteConflict()
		}
		if errors.Is(err, store.ErrRoomNotFound) {
			return nil, ErrNotFound("room not found")
		}
		return nil, ErrInternal(err)
	}

	s.logger.Info("message created",
		zap.String("room_id", in.RoomID),
		zap.String("message_id", stored.ID),
		zap.Int64("version", version))
	return stored, nil
}

// Delete removes a message. deleteForAll soft-deletes it for everyone and
// appends a message_deleted event; otherwise it is hidden for the caller
// only, with no event.
func (s *MessageService) Delete(messageID, userID string, deleteForAll bool) error {
	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return ErrInternal(err)
	}
	if m == nil {
		return ErrNotFound("message not found")
	}
	if m.UserID != userID {
		return ErrForbidden("only the message owner can delete it")
	}

	if deleteForAll {
		if _, err := s.db.MarkMessageDeleted(messageID); err != nil {
			return ErrInternal(err)
		}
		return nil
	}
	if err := s.db.HideMessage(messageID, userID); err != nil {
		return ErrInternal(err)
	}
	return nil
}

// LikeResult is the outcome of a like toggle.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

// ToggleLike flips the caller's like on a message. The count change is
// appended as a message_updated event so other clients converge via polling.
func (s *MessageService) ToggleLike(messageID, userID string) (*LikeResult, error) {
	m, err := s.db.GetMessage(messageID)
	if err != nil {
		return nil, ErrInternal(err)
	}
	if m == nil {
		return nil, ErrNotFound("message not found")
	}
	if err := s.requireParticipant(m.RoomID, userID); err != nil {
		return nil, err
	}

	liked, count, _, err := s.db.ToggleLike(messageID, userID)
	if err != nil {
		return nil, ErrInternal(err)
	}
	return &LikeResult{Liked: liked, LikeCount: count}, nil
}

// LikedMessageIDs returns ids of messages the caller has liked in a room.
// Fetched by clients after the snapshot to rebuild their liked set.
func (s *MessageService) LikedMessageIDs(roomID, userID string) ([]string, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}
	ids, err := s.db.ListLikedMessageIDs(roomID, userID)
	if err != nil {
		return nil, ErrInternal(err)
	}
	return ids, nil
}
