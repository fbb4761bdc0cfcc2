package bus

import "time"

// Kinds published by the client sync engine. Subscribers filter by prefix,
// e.g. "room." for everything concerning the active room.
const (
	KindStatusChanged   = "room.status_changed"
	KindMessageUpserted = "room.message_upserted"
	KindMessageDeleted  = "room.message_deleted"
	KindHistoryLoaded   = "room.history_loaded"
	KindSendFailed      = "room.send_failed"
	KindSyncError       = "room.sync_error"
)

// Event is a client-side event published on the bus.
type Event struct {
	Kind      string
	RoomID    string
	Timestamp time.Time
	Payload   any
}
