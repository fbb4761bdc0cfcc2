package store

import "time"

// UpsertPresence records a heartbeat for a user in a room.
func (db *DB) UpsertPresence(roomID, userID string, isOnline bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO user_presence (room_id, user_id, is_online, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, user_id) DO UPDATE SET
			is_online = excluded.is_online,
			last_seen = excluded.last_seen`,
		roomID, userID, isOnline, now)
	return err
}

// ListOnlinePresence returns records flagged online whose last_seen is at or
// after minLastSeen. Heartbeats only refresh rows, so staleness is judged by
// last_seen age.
func (db *DB) ListOnlinePresence(roomID string, minLastSeen int64) ([]PresenceRecord, error) {
	rows, err := db.Query(`
		SELECT p.room_id, p.user_id, u.nickname, p.is_online, p.last_seen
		FROM user_presence p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ? AND p.is_online = 1 AND p.last_seen >= ?
		ORDER BY u.nickname ASC`, roomID, minLastSeen)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := []PresenceRecord{}
	for rows.Next() {
		var r PresenceRecord
		if err := rows.Scan(&r.RoomID, &r.UserID, &r.Nickname, &r.IsOnline, &r.LastSeen); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertTyping refreshes the user's typing indicator with the given expiry.
func (db *DB) UpsertTyping(roomID, userID string, expiresAt int64) error {
	_, err := db.Exec(`
		INSERT INTO typing_indicator (room_id, user_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id, user_id) DO UPDATE SET
			expires_at = excluded.expires_at`,
		roomID, userID, expiresAt)
	return err
}

// DeleteTyping removes the user's typing indicator.
func (db *DB) DeleteTyping(roomID, userID string) error {
	_, err := db.Exec(`DELETE FROM typing_indicator WHERE room_id = ? AND user_id = ?`, roomID, userID)
	return err
}

// ListTyping returns unexpired indicators for a room, excluding excludeUserID.
// Expired rows are filtered logically; no physical cleanup is required for
// correctness.
func (db *DB) ListTyping(roomID, excludeUserID string, now int64) ([]TypingRecord, error) {
	rows, err := db.Query(`
		SELECT t.room_id, t.user_id, u.nickname, t.expires_at
		FROM typing_indicator t
		JOIN users u ON u.id = t.user_id
		WHERE t.room_id = ? AND t.user_id != ? AND t.expires_at > ?
		ORDER BY u.nickname ASC`, roomID, excludeUserID, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := []TypingRecord{}
	for rows.Next() {
		var r TypingRecord
		if err := rows.Scan(&r.RoomID, &r.UserID, &r.Nickname, &r.ExpiresAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PurgeExpiredTyping deletes rows past their expiry. Housekeeping only;
// reads already exclude expired rows.
func (db *DB) PurgeExpiredTyping(now int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM typing_indicator WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
