package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/daehyunko/roomchat/internal/bus"
	"github.com/daehyunko/roomchat/internal/event"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/status"
	"go.uber.org/zap"
)

type createCall struct {
	roomID          string
	content         string
	clientMessageID string
}

type fakeAPI struct {
	mu sync.Mutex

	snapshot    *service.Snapshot
	snapshotErr error

	pollQueue   []*service.PollResult
	pollErr     error
	pollCalls   []int64
	idleVersion int64

	createReply *event.Message
	createErr   error
	createCalls []createCall

	history       *service.History
	historyCursor string

	heartbeats  []bool
	typingCalls []bool
}

func (f *fakeAPI) GetSnapshot(ctx context.Context, roomID string) (*service.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	snap := *f.snapshot
	snap.RoomID = roomID
	return &snap, nil
}

func (f *fakeAPI) Poll(ctx context.Context, roomID string, sinceVersion int64) (*service.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls = append(f.pollCalls, sinceVersion)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.pollQueue) > 0 {
		result := f.pollQueue[0]
		f.pollQueue = f.pollQueue[1:]
		return result, nil
	}
	v := f.idleVersion
	if sinceVersion > v {
		v = sinceVersion
	}
	return &service.PollResult{Version: v, Events: []service.PollEvent{}}, nil
}

func (f *fakeAPI) GetHistory(ctx context.Context, roomID, beforeMessageID string, limit int) (*service.History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCursor = beforeMessageID
	if f.history == nil {
		return &service.History{Messages: []event.Message{}}, nil
	}
	return f.history, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, roomID, content, clientMessageID, replyToMessageID string) (*event.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, createCall{roomID, content, clientMessageID})
	if f.createErr != nil {
		return nil, f.createErr
	}
	reply := *f.createReply
	reply.RoomID = roomID
	reply.Content = content
	reply.ClientMessageID = clientMessageID
	return &reply, nil
}

func (f *fakeAPI) Heartbeat(ctx context.Context, roomID string, isOnline bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, isOnline)
	return nil
}

func (f *fakeAPI) SetTyping(ctx context.Context, roomID string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingCalls = append(f.typingCalls, isTyping)
	return nil
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pollCalls)
}

func testMessage(id string, createdAt int64) event.Message {
	return event.Message{
		ID:        id,
		RoomID:    "room-1",
		UserID:    "user-1",
		Content:   "hello " + id,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		User:      event.User{ID: "user-1", Nickname: "alice"},
	}
}

func newTestEngine(t *testing.T, api API) *Engine {
	t.Helper()
	e := NewEngine(api, bus.New(), zap.NewNop(), Config{
		PollInterval:      time.Hour,
		HeartbeatInterval: time.Hour,
		TypingTTL:         50 * time.Millisecond,
	})
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func (e *Engine) currentGen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestOpenRoomLoadsSnapshot(t *testing.T) {
	api := &fakeAPI{
		snapshot: &service.Snapshot{
			Version:  7,
			Messages: []event.Message{testMessage("m1", 100), testMessage("m2", 200)},
			Total:    2,
			HasMore:  true,
		},
		idleVersion: 7,
	}
	e := newTestEngine(t, api)

	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	if got := e.Status(); got != status.Live {
		t.Fatalf("expected live status, got %s", got)
	}
	if got := e.LastSyncVersion(); got != 7 {
		t.Fatalf("expected version 7, got %d", got)
	}
	msgs := e.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !e.HasMoreHistory() {
		t.Fatal("expected more history")
	}
}

func TestOpenRoomSnapshotFailure(t *testing.T) {
	api := &fakeAPI{snapshotErr: errors.New("boom")}
	e := newTestEngine(t, api)

	if err := e.OpenRoom("room-1"); err == nil {
		t.Fatal("expected snapshot error")
	}
	if got := e.Status(); got != status.Error {
		t.Fatalf("expected error status, got %s", got)
	}
	if n := api.pollCount(); n != 0 {
		t.Fatalf("expected no polls after failed snapshot, got %d", n)
	}
}

func TestPollDeliveryIsIdempotent(t *testing.T) {
	msg := testMessage("m1", 100)
	created := service.PollEvent{Type: event.TypeMessageCreated, Version: 1, Message: &msg}
	api := &fakeAPI{
		snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}},
		pollQueue: []*service.PollResult{
			{Version: 1, Events: []service.PollEvent{created}},
			{Version: 1, Events: []service.PollEvent{created}},
		},
		idleVersion: 1,
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	gen := e.currentGen()

	e.poll(gen)
	e.poll(gen)

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one message after duplicate delivery, got %d", len(msgs))
	}
	if got := e.LastSyncVersion(); got != 1 {
		t.Fatalf("expected version 1, got %d", got)
	}
}

func TestPollOrdersAndUpdatesMessages(t *testing.T) {
	m1 := testMessage("m1", 100)
	m2 := testMessage("m2", 200)
	m1Liked := m1
	m1Liked.LikeCount = 3
	api := &fakeAPI{
		snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}},
		pollQueue: []*service.PollResult{
			{Version: 3, Events: []service.PollEvent{
				{Type: event.TypeMessageCreated, Version: 1, Message: &m2},
				{Type: event.TypeMessageCreated, Version: 2, Message: &m1},
				{Type: event.TypeMessageUpdated, Version: 3, Message: &m1Liked},
			}},
			{Version: 4, Events: []service.PollEvent{
				{Type: event.TypeMessageDeleted, Version: 4, MessageID: "m2"},
			}},
		},
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	gen := e.currentGen()

	e.poll(gen)
	msgs := e.Messages()
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("expected creation order [m1 m2], got %+v", msgs)
	}
	if msgs[0].LikeCount != 3 {
		t.Fatalf("expected like count applied, got %d", msgs[0].LikeCount)
	}

	e.poll(gen)
	msgs = e.Messages()
	if !msgs[1].IsDeleted {
		t.Fatal("expected m2 marked deleted")
	}
	if got := e.LastSyncVersion(); got != 4 {
		t.Fatalf("expected version 4, got %d", got)
	}
}

func TestSendMessageReconciliation(t *testing.T) {
	api := &fakeAPI{
		snapshot:    &service.Snapshot{Version: 0, Messages: []event.Message{}},
		createReply: &event.Message{ID: "srv-1", UserID: "user-1", CreatedAt: 500, UpdatedAt: 500},
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	clientID, err := e.SendMessage("hi", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if clientID == "" {
		t.Fatal("expected client message id")
	}
	if len(e.Pending()) != 0 {
		t.Fatal("expected pending cleared after confirmed send")
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv-1" {
		t.Fatalf("expected server message, got %+v", msgs)
	}

	// The poll delivering the same create must not duplicate it.
	srv := msgs[0]
	api.mu.Lock()
	api.pollQueue = []*service.PollResult{
		{Version: 1, Events: []service.PollEvent{
			{Type: event.TypeMessageCreated, Version: 1, Message: &srv},
		}},
	}
	api.mu.Unlock()
	e.poll(e.currentGen())
	if got := len(e.Messages()); got != 1 {
		t.Fatalf("expected one visible copy after poll, got %d", got)
	}
}

func TestSendMessageFailureRemovesPlaceholder(t *testing.T) {
	api := &fakeAPI{
		snapshot:  &service.Snapshot{Version: 0, Messages: []event.Message{}},
		createErr: errors.New("server exploded"),
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	ch, unsub := e.bus.Subscribe(bus.KindSendFailed, 4)
	defer unsub()

	if _, err := e.SendMessage("hi", ""); err == nil {
		t.Fatal("expected send error")
	}
	if len(e.Pending()) != 0 {
		t.Fatal("expected placeholder removed after failed send")
	}
	if len(e.Messages()) != 0 {
		t.Fatal("expected no confirmed messages")
	}
	select {
	case ev := <-ch:
		if ev.Kind != bus.KindSendFailed {
			t.Fatalf("unexpected event kind %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected send_failed event on bus")
	}
}

func TestRoomSwitchDiscardsStalePoll(t *testing.T) {
	msg := testMessage("stale", 100)
	api := &fakeAPI{
		snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}},
		pollQueue: []*service.PollResult{
			{Version: 1, Events: []service.PollEvent{
				{Type: event.TypeMessageCreated, Version: 1, Message: &msg},
			}},
		},
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room-1: %v", err)
	}
	staleGen := e.currentGen()

	if err := e.OpenRoom("room-2"); err != nil {
		t.Fatalf("open room-2: %v", err)
	}
	e.poll(staleGen)

	if got := len(e.Messages()); got != 0 {
		t.Fatalf("stale poll leaked %d messages into new room", got)
	}
	if got := e.LastSyncVersion(); got != 0 {
		t.Fatalf("stale poll advanced cursor to %d", got)
	}
}

func TestCatchupDrainsFullBatches(t *testing.T) {
	full := make([]service.PollEvent, service.MaxPollEvents)
	for i := range full {
		m := testMessage(fmt.Sprintf("m%03d", i), int64(100+i))
		full[i] = service.PollEvent{Type: event.TypeMessageCreated, Version: int64(i + 1), Message: &m}
	}
	tail := testMessage("tail", 1000)
	api := &fakeAPI{
		snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}},
		pollQueue: []*service.PollResult{
			{Version: int64(service.MaxPollEvents), Events: full},
			{Version: int64(service.MaxPollEvents) + 1, Events: []service.PollEvent{
				{Type: event.TypeMessageCreated, Version: int64(service.MaxPollEvents) + 1, Message: &tail},
			}},
		},
		idleVersion: int64(service.MaxPollEvents) + 1,
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	// The full batch triggers an immediate follow-up poll.
	e.poll(e.currentGen())
	waitFor(t, func() bool {
		return len(e.Messages()) == service.MaxPollEvents+1 && e.Status() == status.Live
	}, "catchup to drain the backlog")
	if got := e.LastSyncVersion(); got != int64(service.MaxPollEvents)+1 {
		t.Fatalf("expected cursor at %d, got %d", service.MaxPollEvents+1, got)
	}
}

func TestLoadOlderHistoryPrepends(t *testing.T) {
	api := &fakeAPI{
		snapshot: &service.Snapshot{
			Version:  2,
			Messages: []event.Message{testMessage("m10", 1000), testMessage("m11", 1100)},
			HasMore:  true,
		},
		history: &service.History{
			Messages: []event.Message{testMessage("m08", 800), testMessage("m09", 900)},
			Total:    2,
			HasMore:  false,
		},
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	if err := e.LoadOlderHistory(50); err != nil {
		t.Fatalf("load history: %v", err)
	}
	api.mu.Lock()
	cursor := api.historyCursor
	api.mu.Unlock()
	if cursor != "m10" {
		t.Fatalf("history cursor = %q, want oldest loaded id m10", cursor)
	}

	msgs := e.Messages()
	want := []string{"m08", "m09", "m10", "m11"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("messages[%d] = %s, want %s", i, msgs[i].ID, id)
		}
	}
	if e.HasMoreHistory() {
		t.Error("expected history exhausted")
	}
}

func TestPollFailureBacksOff(t *testing.T) {
	api := &fakeAPI{
		snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}},
		pollErr:  errors.New("connection refused"),
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	e.poll(e.currentGen())
	if got := e.Status(); got != status.Error {
		t.Fatalf("expected error status after poll failure, got %s", got)
	}

	e.mu.Lock()
	retries := e.room.retryCount
	e.mu.Unlock()
	if retries != 1 {
		t.Fatalf("expected retry count 1, got %d", retries)
	}
}

func TestSetOnlineStopsAndResumesPolling(t *testing.T) {
	api := &fakeAPI{
		snapshot:    &service.Snapshot{Version: 5, Messages: []event.Message{}},
		idleVersion: 5,
	}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	e.SetOnline(false)
	if got := e.Status(); got != status.Error {
		t.Fatalf("expected error status while offline, got %s", got)
	}
	before := api.pollCount()

	e.SetOnline(true)
	waitFor(t, func() bool { return api.pollCount() > before }, "poll to resume")
	waitFor(t, func() bool { return e.Status() == status.Live }, "live status after resume")

	api.mu.Lock()
	resumedFrom := api.pollCalls[len(api.pollCalls)-1]
	api.mu.Unlock()
	if resumedFrom != 5 {
		t.Fatalf("expected resume from cursor 5, got %d", resumedFrom)
	}
}

func TestHeartbeatLifecycle(t *testing.T) {
	api := &fakeAPI{snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}}}
	e := NewEngine(api, bus.New(), zap.NewNop(), Config{
		PollInterval:      time.Hour,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	e.Start(context.Background())
	defer e.Stop()

	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.heartbeats) >= 2
	}, "periodic heartbeats")

	e.CloseRoom()
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.heartbeats) > 0 && !api.heartbeats[len(api.heartbeats)-1]
	}, "offline heartbeat on close")
}

func TestTypingDebounce(t *testing.T) {
	api := &fakeAPI{snapshot: &service.Snapshot{Version: 0, Messages: []event.Message{}}}
	e := newTestEngine(t, api)
	if err := e.OpenRoom("room-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}

	e.Keystroke()
	e.Keystroke()
	e.Keystroke()

	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.typingCalls) >= 2
	}, "typing start and stop reports")

	api.mu.Lock()
	calls := append([]bool(nil), api.typingCalls...)
	api.mu.Unlock()
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("expected [true false], got %v", calls)
	}
}
