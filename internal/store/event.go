package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daehyunko/roomchat/internal/event"
	sqlite3driver "github.com/mattn/go-sqlite3"
)

// ErrWriteConflict is returned when two writers race on a room's version
// counter. Safe to retry.
var ErrWriteConflict = errors.New("event log write conflict")

// ErrRoomNotFound is returned when appending to a room that does not exist.
var ErrRoomNotFound = errors.New("room not found")

// appendEvent assigns the room's next version inside tx and inserts the
// event row. The version bump and the insert share the caller's transaction,
// so an event is never visible without the state change that produced it
// (and vice versa).
func appendEvent(tx *sql.Tx, roomID string, e event.Event) (int64, error) {
	now := time.Now().UnixMilli()

	res, err := tx.Exec(`UPDATE rooms SET version = version + 1, updated_at = ? WHERE id = ?`, now, roomID)
	if err != nil {
		return 0, fmt.Errorf("bump room version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrRoomNotFound
	}

	var version int64
	if err := tx.QueryRow(`SELECT version FROM rooms WHERE id = ?`, roomID).Scan(&version); err != nil {
		return 0, fmt.Errorf("read room version: %w", err)
	}

	payload, err := event.Marshal(e)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`
		INSERT INTO room_events (room_id, version, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		roomID, version, string(e.Kind()), string(payload), now); err != nil {
		if isConstraintErr(err) {
			return 0, ErrWriteConflict
		}
		return 0, fmt.Errorf("insert event: %w", err)
	}

	return version, nil
}

// AppendEvent appends a single event in its own transaction and returns the
// assigned version.
func (db *DB) AppendEvent(roomID string, e event.Event) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := appendEvent(tx, roomID, e)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit event: %w", err)
	}
	return version, nil
}

// QueryEvents returns events with version > sinceVersion in ascending
// version order, capped at limit (max 100). Empty slice when nothing is new.
func (db *DB) QueryEvents(roomID string, sinceVersion int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT room_id, version, event_type, payload, created_at
		FROM room_events
		WHERE room_id = ? AND version > ?
		ORDER BY version ASC
		LIMIT ?`, roomID, sinceVersion, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []StoredEvent{}
	for rows.Next() {
		var (
			ev        StoredEvent
			eventType string
			payload   string
		)
		if err := rows.Scan(&ev.RoomID, &ev.Version, &eventType, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = event.Type(eventType)
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestVersion returns the room's current version, 0 if the room is unknown
// or has no events.
func (db *DB) LatestVersion(roomID string) (int64, error) {
	var version int64
	err := db.QueryRow(`SELECT version FROM rooms WHERE id = ?`, roomID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func isConstraintErr(err error) bool {
	var serr sqlite3driver.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3driver.ErrConstraint
	}
	return false
}
