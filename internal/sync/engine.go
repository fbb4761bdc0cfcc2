// Package sync implements the client-side room synchronization engine: the
// snapshot/poll loop with reconnect backoff, reconciliation of optimistic
// sends, history paging, and the presence/typing side loops.
package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/daehyunko/roomchat/internal/bus"
	"github.com/daehyunko/roomchat/internal/event"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/status"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// API is the server surface the engine consumes. *client.Client satisfies it.
type API interface {
	GetSnapshot(ctx context.Context, roomID string) (*service.Snapshot, error)
	Poll(ctx context.Context, roomID string, sinceVersion int64) (*service.PollResult, error)
	GetHistory(ctx context.Context, roomID, beforeMessageID string, limit int) (*service.History, error)
	CreateMessage(ctx context.Context, roomID, content, clientMessageID, replyToMessageID string) (*event.Message, error)
	Heartbeat(ctx context.Context, roomID string, isOnline bool) error
	SetTyping(ctx context.Context, roomID string, isTyping bool) error
}

// Config tunes engine cadence. Zero values take the recommended defaults.
type Config struct {
	PollInterval      time.Duration // delay between successful polls
	HeartbeatInterval time.Duration // presence heartbeat cadence
	TypingTTL         time.Duration // typing debounce window
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 3 * time.Second
	}
	return c
}

// roomState is the per-room client sync state. It exists only while the
// room is open and is discarded on close or refresh.
type roomState struct {
	roomID          string
	machine         *status.Machine
	lastSyncVersion int64
	messages        []event.Message          // confirmed, ordered by created_at
	pending         map[string]event.Message // keyed by client_message_id
	hasMoreHistory  bool
	retryCount      int
	lastError       string
	pollTimer       *time.Timer
	pollInFlight    bool
}

// Engine owns the sync state for the client's active room. One poll is in
// flight at a time; a new poll is scheduled only after the prior one
// resolves. Opening a different room invalidates in-flight results via a
// generation counter.
type Engine struct {
	api    API
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config

	mu     sync.Mutex
	room   *roomState
	gen    uint64
	online bool

	ctx    context.Context
	cancel context.CancelFunc

	heartbeatCancel context.CancelFunc
	typing          *typingDebouncer
}

// NewEngine creates a sync engine. Start must be called before opening rooms.
func NewEngine(api API, b *bus.Bus, logger *zap.Logger, cfg Config) *Engine {
	return &Engine{
		api:    api,
		bus:    b,
		logger: logger,
		cfg:    cfg.withDefaults(),
		online: true,
	}
}

// Start prepares the engine's run context.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop closes any open room and cancels all background work.
func (e *Engine) Stop() {
	e.CloseRoom()
	if e.cancel != nil {
		e.cancel()
	}
}

// Status returns the active room's polling status, Idle when none is open.
func (e *Engine) Status() status.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return status.Idle
	}
	return e.room.machine.Current()
}

// LastSyncVersion returns the active room's version cursor.
func (e *Engine) LastSyncVersion() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return 0
	}
	return e.room.lastSyncVersion
}

// HasMoreHistory reports whether older pages remain for the active room.
func (e *Engine) HasMoreHistory() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room != nil && e.room.hasMoreHistory
}

// Messages returns the confirmed messages of the active room in creation
// order.
func (e *Engine) Messages() []event.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return nil
	}
	out := make([]event.Message, len(e.room.messages))
	copy(out, e.room.messages)
	return out
}

// Pending returns the optimistic, not-yet-confirmed messages.
func (e *Engine) Pending() []event.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return nil
	}
	out := make([]event.Message, 0, len(e.room.pending))
	for _, m := range e.room.pending {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// Visible returns the rendered list: confirmed messages followed by
// optimistic ones, all in creation order.
func (e *Engine) Visible() []event.Message {
	confirmed := e.Messages()
	pending := e.Pending()
	out := append(confirmed, pending...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// OpenRoom resets all per-room state, loads the snapshot, and starts the
// poll loop. Any previously open room is closed first; its in-flight
// results are discarded.
func (e *Engine) OpenRoom(roomID string) error {
	e.CloseRoom()

	e.mu.Lock()
	e.gen++
	gen := e.gen
	room := &roomState{
		roomID:  roomID,
		machine: status.NewMachine(roomID, e.bus),
		pending: make(map[string]event.Message),
	}
	e.room = room
	_ = room.machine.Transition(status.LoadingSnapshot)
	e.mu.Unlock()

	snap, err := e.api.GetSnapshot(e.ctx, roomID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen || e.room == nil {
		// Room was switched while the snapshot was in flight.
		return nil
	}
	if err != nil {
		room.lastError = err.Error()
		_ = room.machine.Transition(status.Error)
		e.publish(bus.KindSyncError, roomID, err.Error())
		e.logger.Warn("snapshot failed", zap.String("room_id", roomID), zap.Error(err))
		// No polling is scheduled after a failed snapshot.
		return err
	}

	room.messages = append([]event.Message(nil), snap.Messages...)
	room.lastSyncVersion = snap.Version
	room.hasMoreHistory = snap.HasMore
	_ = room.machine.Transition(status.Live)
	e.logger.Info("room opened",
		zap.String("room_id", roomID),
		zap.Int64("version", snap.Version),
		zap.Int("messages", len(snap.Messages)))

	e.startHeartbeatLocked(roomID)
	e.typing = newTypingDebouncer(e.ctx, e.api, roomID, e.cfg.TypingTTL, e.logger)
	e.schedulePollLocked(gen, e.cfg.PollInterval)
	return nil
}

// CloseRoom tears down the active room: cancels scheduled polls, stops the
// heartbeat and typing loops, and drops all per-room state.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	room := e.room
	e.room = nil
	e.gen++
	if room != nil && room.pollTimer != nil {
		room.pollTimer.Stop()
	}
	hbCancel := e.heartbeatCancel
	e.heartbeatCancel = nil
	typing := e.typing
	e.typing = nil
	e.mu.Unlock()

	if room == nil {
		return
	}
	_ = room.machine.Transition(status.Idle)
	if hbCancel != nil {
		hbCancel()
	}
	if typing != nil {
		typing.stop()
	}
	// Best effort: tell the server we left.
	if e.ctx != nil && e.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.api.Heartbeat(ctx, room.roomID, false)
	}
}

// SetOnline feeds connectivity signals into the engine. Going offline
// cancels scheduled polls; coming back online resumes immediately from the
// last cursor with backoff state reset. No snapshot re-fetch is needed: the
// version cursor is sufficient.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.online == online {
		return
	}
	e.online = online
	room := e.room
	if room == nil {
		return
	}
	if !online {
		if room.pollTimer != nil {
			room.pollTimer.Stop()
		}
		room.lastError = "network offline"
		_ = room.machine.Transition(status.Error)
		e.publish(bus.KindSyncError, room.roomID, "network offline")
		return
	}
	room.retryCount = 0
	e.schedulePollLocked(e.gen, 0)
}

func (e *Engine) publish(kind, roomID string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, RoomID: roomID, Timestamp: time.Now(), Payload: payload})
}

// schedulePollLocked arms the poll timer. Caller holds e.mu.
func (e *Engine) schedulePollLocked(gen uint64, delay time.Duration) {
	room := e.room
	if room == nil || !e.online || room.pollInFlight {
		return
	}
	if room.pollTimer != nil {
		room.pollTimer.Stop()
	}
	room.pollTimer = time.AfterFunc(delay, func() { e.poll(gen) })
}

// poll executes one poll cycle for the given generation. Stale generations
// (room switched or closed) are discarded without touching state.
func (e *Engine) poll(gen uint64) {
	e.mu.Lock()
	room := e.room
	if room == nil || e.gen != gen || !e.online {
		e.mu.Unlock()
		return
	}
	st := room.machine.Current()
	if st != status.Live && st != status.Catchup && st != status.Error {
		e.mu.Unlock()
		return
	}
	room.pollInFlight = true
	roomID := room.roomID
	since := room.lastSyncVersion
	e.mu.Unlock()

	result, err := e.api.Poll(e.ctx, roomID, since)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil || e.gen != gen {
		return
	}
	room.pollInFlight = false

	if err != nil {
		room.retryCount++
		room.lastError = err.Error()
		delay := backoffDelay(room.retryCount)
		_ = room.machine.Transition(status.Error)
		e.publish(bus.KindSyncError, roomID, err.Error())
		e.logger.Warn("poll failed",
			zap.String("room_id", roomID),
			zap.Int("retry", room.retryCount),
			zap.Duration("backoff", delay),
			zap.Error(err))
		e.schedulePollLocked(gen, delay)
		return
	}

	room.retryCount = 0
	room.lastError = ""
	e.applyEventsLocked(room, result)
	_ = room.machine.Transition(status.Live)

	// A full batch usually means more events are waiting: poll again
	// immediately in catchup state instead of waiting out the interval.
	if len(result.Events) >= service.MaxPollEvents {
		_ = room.machine.Transition(status.Catchup)
		e.schedulePollLocked(gen, 0)
		return
	}
	e.schedulePollLocked(gen, e.cfg.PollInterval)
}

// applyEventsLocked merges poll results into room state. Upserting by
// message id makes repeated delivery of the same event idempotent. Caller
// holds e.mu.
func (e *Engine) applyEventsLocked(room *roomState, result *service.PollResult) {
	for _, pe := range result.Events {
		switch pe.Type {
		case event.TypeMessageCreated, event.TypeMessageUpdated:
			if pe.Message == nil {
				continue
			}
			e.upsertMessageLocked(room, *pe.Message)
		case event.TypeMessageDeleted:
			for i := range room.messages {
				if room.messages[i].ID == pe.MessageID {
					room.messages[i].IsDeleted = true
					e.publish(bus.KindMessageDeleted, room.roomID, pe.MessageID)
					break
				}
			}
		}
		if pe.Version > room.lastSyncVersion {
			room.lastSyncVersion = pe.Version
		}
	}
	if result.Version > room.lastSyncVersion {
		room.lastSyncVersion = result.Version
	}
}

// upsertMessageLocked updates a message in place if present, else inserts
// it in creation order. A matching pending entry is reconciled away so the
// net effect of an optimistic send plus its poll delivery is one visible
// copy. Caller holds e.mu.
func (e *Engine) upsertMessageLocked(room *roomState, msg event.Message) {
	if msg.ClientMessageID != "" {
		delete(room.pending, msg.ClientMessageID)
	}
	for i := range room.messages {
		if room.messages[i].ID == msg.ID {
			// Updates collapse to the latest state at the original position.
			room.messages[i] = msg
			e.publish(bus.KindMessageUpserted, room.roomID, msg)
			return
		}
	}
	idx := sort.Search(len(room.messages), func(i int) bool {
		return room.messages[i].CreatedAt > msg.CreatedAt
	})
	room.messages = append(room.messages, event.Message{})
	copy(room.messages[idx+1:], room.messages[idx:])
	room.messages[idx] = msg
	e.publish(bus.KindMessageUpserted, room.roomID, msg)
}

// SendMessage renders an optimistic placeholder, issues the create call,
// and reconciles the result. The placeholder is removed exactly once on
// either outcome; failures are surfaced, never auto-retried.
func (e *Engine) SendMessage(content, replyToMessageID string) (string, error) {
	e.mu.Lock()
	room := e.room
	if room == nil {
		e.mu.Unlock()
		return "", service.ErrValidation("no room is open")
	}
	roomID := room.roomID
	clientMessageID := uuid.New().String()
	now := time.Now().UnixMilli()
	placeholder := event.Message{
		ID:              clientMessageID,
		RoomID:          roomID,
		Content:         content,
		ClientMessageID: clientMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	room.pending[clientMessageID] = placeholder
	e.publish(bus.KindMessageUpserted, roomID, placeholder)
	e.mu.Unlock()

	msg, err := e.api.CreateMessage(e.ctx, roomID, content, clientMessageID, replyToMessageID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil || e.room.roomID != roomID {
		// Room switched mid-send; nothing left to reconcile.
		return clientMessageID, err
	}
	delete(e.room.pending, clientMessageID)

	if err != nil {
		e.publish(bus.KindSendFailed, roomID, err.Error())
		e.logger.Warn("send failed",
			zap.String("room_id", roomID),
			zap.String("client_message_id", clientMessageID),
			zap.Error(err))
		return clientMessageID, err
	}

	// Merge directly; the poll delivering the same event later is a no-op.
	e.upsertMessageLocked(e.room, *msg)
	return clientMessageID, nil
}

// LoadOlderHistory fetches the page before the oldest loaded message and
// prepends it.
func (e *Engine) LoadOlderHistory(limit int) error {
	e.mu.Lock()
	room := e.room
	if room == nil {
		e.mu.Unlock()
		return service.ErrValidation("no room is open")
	}
	roomID := room.roomID
	var before string
	if len(room.messages) > 0 {
		before = room.messages[0].ID
	}
	e.mu.Unlock()

	hist, err := e.api.GetHistory(e.ctx, roomID, before, limit)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil || e.room.roomID != roomID {
		return nil
	}
	// Prepend, skipping anything already loaded.
	existing := make(map[string]struct{}, len(e.room.messages))
	for _, m := range e.room.messages {
		existing[m.ID] = struct{}{}
	}
	older := make([]event.Message, 0, len(hist.Messages))
	for _, m := range hist.Messages {
		if _, ok := existing[m.ID]; !ok {
			older = append(older, m)
		}
	}
	e.room.messages = append(older, e.room.messages...)
	e.room.hasMoreHistory = hist.HasMore
	e.publish(bus.KindHistoryLoaded, roomID, len(older))
	return nil
}

// Keystroke feeds the typing debouncer: the first keystroke reports typing,
// further ones extend the window, and silence for the TTL reports stopped.
func (e *Engine) Keystroke() {
	e.mu.Lock()
	typing := e.typing
	e.mu.Unlock()
	if typing != nil {
		typing.keystroke()
	}
}

func (e *Engine) startHeartbeatLocked(roomID string) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.heartbeatCancel = cancel
	interval := e.cfg.HeartbeatInterval
	go func() {
		// Immediate first beat, then steady cadence.
		if err := e.api.Heartbeat(ctx, roomID, true); err != nil && ctx.Err() == nil {
			e.logger.Warn("heartbeat failed", zap.String("room_id", roomID), zap.Error(err))
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.api.Heartbeat(ctx, roomID, true); err != nil && ctx.Err() == nil {
					e.logger.Warn("heartbeat failed", zap.String("room_id", roomID), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
