package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daehyunko/roomchat/internal/event"
)

// ErrMessageNotFound is returned for operations on unknown message ids.
var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `m.id, m.room_id, m.user_id, m.content, m.reply_to_message_id,
	m.like_count, m.is_deleted, m.client_message_id, m.created_at, m.updated_at,
	u.id, u.nickname, u.avatar_url`

func scanMessageWithUser(scan func(...any) error) (MessageWithUser, error) {
	var m MessageWithUser
	err := scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.ReplyToMessageID,
		&m.LikeCount, &m.IsDeleted, &m.ClientMessageID, &m.CreatedAt, &m.UpdatedAt,
		&m.User.ID, &m.User.Nickname, &m.User.AvatarURL)
	return m, err
}

// CreateMessage inserts a message row and appends the message_created event
// in a single transaction, so a message is never durably written without its
// log entry. Returns the stored message with author and the assigned version.
func (db *DB) CreateMessage(m *Message) (*MessageWithUser, int64, error) {
	now := time.Now().UnixMilli()
	m.CreatedAt = now
	m.UpdatedAt = now

	tx, err := db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, room_id, user_id, content, reply_to_message_id, like_count, is_deleted, client_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		m.ID, m.RoomID, m.UserID, m.Content, m.ReplyToMessageID, m.ClientMessageID, m.CreatedAt, m.UpdatedAt); err != nil {
		if isConstraintErr(err) {
			return nil, 0, ErrWriteConflict
		}
		return nil, 0, fmt.Errorf("insert message: %w", err)
	}

	var author User
	if err := tx.QueryRow(`SELECT id, nickname, avatar_url FROM users WHERE id = ?`, m.UserID).
		Scan(&author.ID, &author.Nickname, &author.AvatarURL); err != nil {
		return nil, 0, fmt.Errorf("load author: %w", err)
	}

	stored := &MessageWithUser{Message: *m, User: author}
	version, err := appendEvent(tx, m.RoomID, event.MessageCreated{Message: stored.Wire()})
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit message: %w", err)
	}
	return stored, version, nil
}

// GetMessage returns a message with its author, or nil if unknown.
func (db *DB) GetMessage(id string) (*MessageWithUser, error) {
	row := db.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?`, id)
	m, err := scanMessageWithUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns the most recent limit messages of a room in
// chronological (oldest-first) order, excluding rows the viewer has hidden.
func (db *DB) ListRecentMessages(roomID, viewerID string, limit int) ([]MessageWithUser, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN hidden_messages h ON h.message_id = m.id AND h.user_id = ?
		WHERE m.room_id = ? AND h.message_id IS NULL
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, viewerID, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// ListMessagesBefore returns up to limit messages strictly older than
// beforeCreatedAt (all of the newest when beforeCreatedAt <= 0), in
// chronological order for direct prepending.
func (db *DB) ListMessagesBefore(roomID, viewerID string, beforeCreatedAt int64, limit int) ([]MessageWithUser, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeCreatedAt <= 0 {
		beforeCreatedAt = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN hidden_messages h ON h.message_id = m.id AND h.user_id = ?
		WHERE m.room_id = ? AND m.created_at < ? AND h.message_id IS NULL
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, viewerID, roomID, beforeCreatedAt, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// MarkMessageDeleted soft-deletes a message for everyone and appends the
// message_deleted event in the same transaction.
func (db *DB) MarkMessageDeleted(id string) (int64, error) {
	m, err := db.GetMessage(id)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, ErrMessageNotFound
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE messages SET is_deleted = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id); err != nil {
		return 0, fmt.Errorf("mark deleted: %w", err)
	}

	version, err := appendEvent(tx, m.RoomID, event.MessageDeleted{MessageID: id})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return version, nil
}

// HideMessage hides a message for one user only. No event is appended:
// the hide is not visible to other participants.
func (db *DB) HideMessage(messageID, userID string) error {
	_, err := db.Exec(`
		INSERT INTO hidden_messages (message_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING`,
		messageID, userID, time.Now().UnixMilli())
	return err
}

// ToggleLike flips the user's like on a message, maintains like_count, and
// appends a message_updated event carrying the message's new state. Returns
// the resulting liked flag and count.
func (db *DB) ToggleLike(messageID, userID string) (liked bool, likeCount int, version int64, err error) {
	m, err := db.GetMessage(messageID)
	if err != nil {
		return false, 0, 0, err
	}
	if m == nil {
		return false, 0, 0, ErrMessageNotFound
	}

	tx, err := db.Begin()
	if err != nil {
		return false, 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM message_likes WHERE message_id = ? AND user_id = ?`, messageID, userID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		liked = true
		if _, err := tx.Exec(`
			INSERT INTO message_likes (message_id, user_id, created_at) VALUES (?, ?, ?)`,
			messageID, userID, time.Now().UnixMilli()); err != nil {
			return false, 0, 0, fmt.Errorf("insert like: %w", err)
		}
		if _, err := tx.Exec(`UPDATE messages SET like_count = like_count + 1, updated_at = ? WHERE id = ?`,
			time.Now().UnixMilli(), messageID); err != nil {
			return false, 0, 0, fmt.Errorf("increment like_count: %w", err)
		}
	case err != nil:
		return false, 0, 0, err
	default:
		liked = false
		if _, err := tx.Exec(`DELETE FROM message_likes WHERE message_id = ? AND user_id = ?`, messageID, userID); err != nil {
			return false, 0, 0, fmt.Errorf("delete like: %w", err)
		}
		if _, err := tx.Exec(`UPDATE messages SET like_count = MAX(like_count - 1, 0), updated_at = ? WHERE id = ?`,
			time.Now().UnixMilli(), messageID); err != nil {
			return false, 0, 0, fmt.Errorf("decrement like_count: %w", err)
		}
	}

	row := tx.QueryRow(`
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?`, messageID)
	updated, err := scanMessageWithUser(row.Scan)
	if err != nil {
		return false, 0, 0, fmt.Errorf("reload message: %w", err)
	}

	version, err = appendEvent(tx, updated.RoomID, event.MessageUpdated{Message: updated.Wire()})
	if err != nil {
		return false, 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, 0, fmt.Errorf("commit like: %w", err)
	}
	return liked, updated.LikeCount, version, nil
}

// ListLikedMessageIDs returns the ids of messages in a room the user has liked.
func (db *DB) ListLikedMessageIDs(roomID, userID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT l.message_id
		FROM message_likes l
		JOIN messages m ON m.id = l.message_id
		WHERE m.room_id = ? AND l.user_id = ?`, roomID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectMessages(rows *sql.Rows) ([]MessageWithUser, error) {
	msgs := []MessageWithUser{}
	for rows.Next() {
		m, err := scanMessageWithUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []MessageWithUser) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
