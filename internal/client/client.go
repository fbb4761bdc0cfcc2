// Package client is the typed HTTP client for the roomchat API, shared by
// the sync engine and the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/daehyunko/roomchat/internal/event"
	"github.com/daehyunko/roomchat/internal/service"
)

// DefaultTimeout bounds a hung request client-side. The poll endpoint never
// blocks server-side, so this only matters for dead connections.
const DefaultTimeout = 30 * time.Second

// Client talks to one roomchat server with one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given server URL and token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *service.Error  `json:"error"`
}

// IsRetryable reports whether an error may succeed on retry: server-side
// failures and transport errors are retryable, the 4xx taxonomy is terminal.
// Retries apply to idempotent reads only; message creation is never retried.
func IsRetryable(err error) bool {
	var serr *service.Error
	if errors.As(err, &serr) {
		return serr.StatusCode >= 500
	}
	// Network-level failure (timeout, DNS, refused connection).
	return err != nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%s %s, status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.OK {
		if env.Error != nil {
			return env.Error
		}
		return fmt.Errorf("%s %s: status %d with empty error", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// GetSnapshot bootstraps a room: recent messages plus the current version.
func (c *Client) GetSnapshot(ctx context.Context, roomID string) (*service.Snapshot, error) {
	var snap service.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+url.PathEscape(roomID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Poll fetches events with version > sinceVersion. Returns immediately.
func (c *Client) Poll(ctx context.Context, roomID string, sinceVersion int64) (*service.PollResult, error) {
	path := "/api/v1/rooms/" + url.PathEscape(roomID) + "/messages/longpoll?sinceVersion=" +
		strconv.FormatInt(sinceVersion, 10)
	var result service.PollResult
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetHistory pages older messages before the given message id.
func (c *Client) GetHistory(ctx context.Context, roomID, beforeMessageID string, limit int) (*service.History, error) {
	q := url.Values{}
	if beforeMessageID != "" {
		q.Set("beforeMessageId", beforeMessageID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/rooms/" + url.PathEscape(roomID) + "/messages/history"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var hist service.History
	if err := c.do(ctx, http.MethodGet, path, nil, &hist); err != nil {
		return nil, err
	}
	return &hist, nil
}

// CreateMessage posts a new message carrying the client correlation id.
func (c *Client) CreateMessage(ctx context.Context, roomID, content, clientMessageID, replyToMessageID string) (*event.Message, error) {
	body := map[string]string{
		"content":             content,
		"client_message_id":   clientMessageID,
		"reply_to_message_id": replyToMessageID,
	}
	var msg event.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(roomID)+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message, for everyone when deleteForAll is set.
func (c *Client) DeleteMessage(ctx context.Context, messageID string, deleteForAll bool) error {
	path := "/api/v1/messages/" + url.PathEscape(messageID)
	if deleteForAll {
		path += "?deleteForAll=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ToggleLike flips the caller's like on a message.
func (c *Client) ToggleLike(ctx context.Context, messageID string) (*service.LikeResult, error) {
	var result service.LikeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages/"+url.PathEscape(messageID)+"/like", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LikedMessageIDs returns ids of messages the caller liked in a room.
func (c *Client) LikedMessageIDs(ctx context.Context, roomID string) ([]string, error) {
	var out struct {
		LikedMessageIDs []string `json:"likedMessageIds"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+url.PathEscape(roomID)+"/likes", nil, &out); err != nil {
		return nil, err
	}
	return out.LikedMessageIDs, nil
}

// Heartbeat reports the caller's presence in a room.
func (c *Client) Heartbeat(ctx context.Context, roomID string, isOnline bool) error {
	body := map[string]bool{"is_online": isOnline}
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(roomID)+"/presence", body, nil)
}

// ListOnline returns the room's online participants.
func (c *Client) ListOnline(ctx context.Context, roomID string) ([]service.OnlineUser, error) {
	var out struct {
		OnlineUsers []service.OnlineUser `json:"online_users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+url.PathEscape(roomID)+"/presence", nil, &out); err != nil {
		return nil, err
	}
	return out.OnlineUsers, nil
}

// SetTyping refreshes or clears the caller's typing indicator.
func (c *Client) SetTyping(ctx context.Context, roomID string, isTyping bool) error {
	body := map[string]bool{"is_typing": isTyping}
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(roomID)+"/typing", body, nil)
}

// ListTyping returns who else is typing in a room.
func (c *Client) ListTyping(ctx context.Context, roomID string) ([]service.TypingUser, error) {
	var out struct {
		TypingUsers []service.TypingUser `json:"typing_users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms/"+url.PathEscape(roomID)+"/typing", nil, &out); err != nil {
		return nil, err
	}
	return out.TypingUsers, nil
}

// CreateRoom makes a room with the caller as first participant.
func (c *Client) CreateRoom(ctx context.Context, name string) (*service.RoomInfo, error) {
	var info service.RoomInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms", map[string]string{"name": name}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// JoinRoom adds the caller to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(roomID)+"/join", struct{}{}, nil)
}
