package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/daehyunko/roomchat/internal/auth"
	"github.com/daehyunko/roomchat/internal/client"
	"github.com/daehyunko/roomchat/internal/config"
	"github.com/daehyunko/roomchat/internal/lock"
	"github.com/daehyunko/roomchat/internal/service"
	"github.com/daehyunko/roomchat/internal/store"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// startTestServer assembles a full server on a loopback port against a
// throwaway database, the way registerLifecycle does in production.
func startTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	dir := t.TempDir()

	lk, err := lock.Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lk.Release() })

	db, err := store.Open(dir + "/roomchat.db")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	cfg := config.Default()
	cfg.Server.JWTSecret = testSecret
	cfg.Server.RatePerSec = 0 // no rate limiting in tests

	srv := NewServer(
		Params{Profile: "test", ListenAddr: "127.0.0.1:0", DataDir: dir},
		cfg,
		db,
		service.NewMessageService(db, logger),
		service.NewPresenceService(db, logger),
		service.NewRoomService(db, logger),
		logger,
	)
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, db
}

func testClient(t *testing.T, srv *Server, userID, nickname string) *client.Client {
	t.Helper()
	token, err := auth.GenerateToken(userID, nickname, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return client.New("http://"+srv.Addr(), token)
}

func TestServerEndToEnd(t *testing.T) {
	srv, _ := startTestServer(t)
	ctx := context.Background()

	alice := testClient(t, srv, "user-alice", "alice")
	bob := testClient(t, srv, "user-bob", "bob")

	room, err := alice.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := bob.JoinRoom(ctx, room.ID); err != nil {
		t.Fatalf("join room: %v", err)
	}

	msg, err := alice.CreateMessage(ctx, room.ID, "hello bob", "client-1", "")
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.ClientMessageID != "client-1" {
		t.Errorf("client_message_id = %q, want client-1", msg.ClientMessageID)
	}

	snap, err := bob.GetSnapshot(ctx, room.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "hello bob" {
		t.Fatalf("unexpected snapshot messages: %+v", snap.Messages)
	}
	if snap.Version != 1 {
		t.Errorf("snapshot version = %d, want 1", snap.Version)
	}

	// Bob polls from zero and sees the create event.
	poll, err := bob.Poll(ctx, room.ID, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(poll.Events) != 1 || poll.Events[0].Message == nil {
		t.Fatalf("unexpected poll result: %+v", poll)
	}
	if poll.Events[0].Message.ID != msg.ID {
		t.Errorf("polled message id = %q, want %q", poll.Events[0].Message.ID, msg.ID)
	}

	// Like toggles bump the version via an update event.
	like, err := bob.ToggleLike(ctx, msg.ID)
	if err != nil {
		t.Fatalf("toggle like: %v", err)
	}
	if !like.Liked || like.LikeCount != 1 {
		t.Fatalf("unexpected like result: %+v", like)
	}
	poll, err = bob.Poll(ctx, room.ID, 1)
	if err != nil {
		t.Fatalf("poll after like: %v", err)
	}
	if len(poll.Events) != 1 || poll.Events[0].Message == nil || poll.Events[0].Message.LikeCount != 1 {
		t.Fatalf("expected update event with like count, got %+v", poll.Events)
	}

	// Presence round trip.
	if err := alice.Heartbeat(ctx, room.ID, true); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	online, err := bob.ListOnline(ctx, room.ID)
	if err != nil {
		t.Fatalf("list online: %v", err)
	}
	if len(online) != 1 || online[0].UserID != "user-alice" {
		t.Fatalf("unexpected online list: %+v", online)
	}

	// Typing round trip; the author is excluded from their own list.
	if err := alice.SetTyping(ctx, room.ID, true); err != nil {
		t.Fatalf("set typing: %v", err)
	}
	typing, err := bob.ListTyping(ctx, room.ID)
	if err != nil {
		t.Fatalf("list typing: %v", err)
	}
	if len(typing) != 1 || typing[0].UserID != "user-alice" {
		t.Fatalf("unexpected typing list: %+v", typing)
	}
	selfTyping, err := alice.ListTyping(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(selfTyping) != 0 {
		t.Fatalf("expected own typing excluded, got %+v", selfTyping)
	}
}

func TestServerRejectsMissingToken(t *testing.T) {
	srv, _ := startTestServer(t)
	ctx := context.Background()

	anon := client.New("http://"+srv.Addr(), "")
	_, err := anon.GetSnapshot(ctx, "some-room")
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 401 {
		t.Fatalf("expected 401 service error, got %v", err)
	}
}

func TestServerRejectsNonParticipant(t *testing.T) {
	srv, _ := startTestServer(t)
	ctx := context.Background()

	alice := testClient(t, srv, "user-alice", "alice")
	mallory := testClient(t, srv, "user-mallory", "mallory")

	room, err := alice.CreateRoom(ctx, "private")
	if err != nil {
		t.Fatal(err)
	}
	_, err = mallory.GetSnapshot(ctx, room.ID)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	var svcErr *service.Error
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 403 {
		t.Fatalf("expected 403 service error, got %v", err)
	}
}
