package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/daehyunko/roomchat/internal/bus"
	"github.com/daehyunko/roomchat/internal/client"
	"github.com/daehyunko/roomchat/internal/config"
	"github.com/daehyunko/roomchat/internal/event"
	"github.com/daehyunko/roomchat/internal/logging"
	"github.com/daehyunko/roomchat/internal/profile"
	roomsync "github.com/daehyunko/roomchat/internal/sync"
	"github.com/google/uuid"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	serverFlag := flag.String("server", "", "server base URL (overrides config)")
	tokenFlag := flag.String("token", "", "bearer token (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	serverURL := cfg.Client.ServerURL
	if *serverFlag != "" {
		serverURL = *serverFlag
	}
	token := cfg.Client.Token
	if *tokenFlag != "" {
		token = *tokenFlag
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: no token configured; set client.token in config.toml or pass --token")
		os.Exit(1)
	}

	c := client.New(serverURL, token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "rooms":
		cmdRooms(ctx, c, args[1:], *jsonFlag)
	case "send":
		cmdSend(ctx, c, args[1:])
	case "history":
		cmdHistory(ctx, c, args[1:], *jsonFlag)
	case "online":
		cmdOnline(ctx, c, args[1:], *jsonFlag)
	case "typing":
		cmdTyping(ctx, c, args[1:], *jsonFlag)
	case "like":
		cmdLike(ctx, c, args[1:], *jsonFlag)
	case "delete":
		cmdDelete(ctx, c, args[1:])
	case "tail":
		cancel()
		cmdTail(c, profileName, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roomchatctl [--profile <name>] [--server <url>] [--token <jwt>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  rooms create <name>        Create a room and join it")
	fmt.Fprintln(os.Stderr, "  rooms join <room-id>       Join an existing room")
	fmt.Fprintln(os.Stderr, "  send <room-id> <text>      Send a message")
	fmt.Fprintln(os.Stderr, "  history <room-id> [n]      Show the last n messages (default 50)")
	fmt.Fprintln(os.Stderr, "  online <room-id>           List online participants")
	fmt.Fprintln(os.Stderr, "  typing <room-id>           List who is typing")
	fmt.Fprintln(os.Stderr, "  like <message-id>          Toggle a like")
	fmt.Fprintln(os.Stderr, "  delete <message-id> [all]  Delete a message (all = for everyone)")
	fmt.Fprintln(os.Stderr, "  tail <room-id>             Follow a room live until interrupted")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdRooms(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl rooms <create|join> <arg>")
		os.Exit(1)
	}
	switch args[0] {
	case "create":
		room, err := c.CreateRoom(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(room)
			return
		}
		fmt.Printf("created room %s (%s)\n", room.Name, room.ID)
	case "join":
		if err := c.JoinRoom(ctx, args[1]); err != nil {
			fatal(err)
		}
		fmt.Printf("joined room %s\n", args[1])
	default:
		fmt.Fprintln(os.Stderr, "usage: roomchatctl rooms <create|join> <arg>")
		os.Exit(1)
	}
}

func cmdSend(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl send <room-id> <text>")
		os.Exit(1)
	}
	msg, err := c.CreateMessage(ctx, args[0], args[1], uuid.New().String(), "")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("sent %s\n", msg.ID)
}

func cmdHistory(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl history <room-id> [limit]")
		os.Exit(1)
	}
	limit := 50
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fatal(fmt.Errorf("invalid limit %q", args[1]))
		}
		limit = n
	}
	snap, err := c.GetSnapshot(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	msgs := snap.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		printMessage(m)
	}
}

func cmdOnline(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl online <room-id>")
		os.Exit(1)
	}
	online, err := c.ListOnline(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(online)
		return
	}
	for _, u := range online {
		fmt.Printf("%s (%s)\n", u.Nickname, u.UserID)
	}
}

func cmdTyping(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl typing <room-id>")
		os.Exit(1)
	}
	typing, err := c.ListTyping(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(typing)
		return
	}
	for _, u := range typing {
		fmt.Printf("%s is typing\n", u.Nickname)
	}
}

func cmdLike(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl like <message-id>")
		os.Exit(1)
	}
	result, err := c.ToggleLike(ctx, args[0])
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(result)
		return
	}
	if result.Liked {
		fmt.Printf("liked (%d total)\n", result.LikeCount)
	} else {
		fmt.Printf("unliked (%d total)\n", result.LikeCount)
	}
}

func cmdDelete(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl delete <message-id> [all]")
		os.Exit(1)
	}
	forAll := len(args) >= 2 && args[1] == "all"
	if err := c.DeleteMessage(ctx, args[0], forAll); err != nil {
		fatal(err)
	}
	fmt.Println("deleted")
}

// cmdTail runs the sync engine against one room and streams its events to
// stdout until interrupted.
func cmdTail(c *client.Client, profileName string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: roomchatctl tail <room-id>")
		os.Exit(1)
	}
	roomID := args[0]

	logger, err := logging.New(profile.ClientLogPath(profileName), "roomchatctl")
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	b := bus.New()
	events, unsub := b.Subscribe("room.", 256)
	defer unsub()

	engine := roomsync.NewEngine(c, b, logger, roomsync.Config{})
	engine.Start(context.Background())
	defer engine.Stop()

	if err := engine.OpenRoom(roomID); err != nil {
		fatal(err)
	}
	for _, m := range engine.Messages() {
		printMessage(m)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.KindMessageUpserted:
				if m, ok := evt.Payload.(event.Message); ok {
					printMessage(m)
				}
			case bus.KindMessageDeleted:
				if id, ok := evt.Payload.(string); ok {
					fmt.Printf("[deleted] %s\n", id)
				}
			case bus.KindSendFailed:
				fmt.Fprintf(os.Stderr, "send failed: %v\n", evt.Payload)
			case bus.KindSyncError:
				fmt.Fprintf(os.Stderr, "sync error: %v\n", evt.Payload)
			}
		case <-sigCh:
			return
		}
	}
}

func printMessage(m event.Message) {
	ts := time.UnixMilli(m.CreatedAt).Format("15:04:05")
	if m.IsDeleted {
		fmt.Printf("[%s] %s: (deleted)\n", ts, m.User.Nickname)
		return
	}
	likes := ""
	if m.LikeCount > 0 {
		likes = fmt.Sprintf(" (+%d)", m.LikeCount)
	}
	fmt.Printf("[%s] %s: %s%s\n", ts, m.User.Nickname, m.Content, likes)
}
