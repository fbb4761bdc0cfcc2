package store

import (
	"database/sql"
	"errors"
	"time"
)

// CreateRoom inserts a room with version 0. No-op if the room already exists.
func (db *DB) CreateRoom(id, name string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (id, name, version, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, name, now, now)
	return err
}

// GetRoom returns a room by id, or nil if it does not exist.
func (db *DB) GetRoom(id string) (*Room, error) {
	var r Room
	err := db.QueryRow(`
		SELECT id, name, version, created_at, updated_at
		FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertUser inserts or updates a user profile.
func (db *DB) UpsertUser(u *User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, nickname, avatar_url)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			avatar_url = excluded.avatar_url`,
		u.ID, u.Nickname, u.AvatarURL)
	return err
}

// GetUser returns a user by id, or nil if unknown.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT id, nickname, avatar_url FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Nickname, &u.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AddParticipant joins a user to a room. No-op if already a participant.
func (db *DB) AddParticipant(roomID, userID string) error {
	_, err := db.Exec(`
		INSERT INTO room_participants (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id, user_id) DO NOTHING`,
		roomID, userID, time.Now().UnixMilli())
	return err
}

// RemoveParticipant removes a user from a room.
func (db *DB) RemoveParticipant(roomID, userID string) error {
	_, err := db.Exec(`DELETE FROM room_participants WHERE room_id = ? AND user_id = ?`, roomID, userID)
	return err
}

// IsParticipant reports whether the user currently belongs to the room.
func (db *DB) IsParticipant(roomID, userID string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ?`,
		roomID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
