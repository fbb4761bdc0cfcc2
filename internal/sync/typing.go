package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// typingDebouncer turns a stream of keystrokes into at most one typing=true
// report per burst and one typing=false once the burst goes quiet for the
// TTL. The server expires indicators on its own, so a lost stop report only
// extends the indicator briefly.
type typingDebouncer struct {
	ctx    context.Context
	api    API
	roomID string
	ttl    time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

func newTypingDebouncer(ctx context.Context, api API, roomID string, ttl time.Duration, logger *zap.Logger) *typingDebouncer {
	return &typingDebouncer{
		ctx:    ctx,
		api:    api,
		roomID: roomID,
		ttl:    ttl,
		logger: logger,
	}
}

// keystroke starts a typing burst or extends the current one.
func (d *typingDebouncer) keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.ttl, d.expire)

	if d.active {
		return
	}
	d.active = true
	go d.report(true)
}

func (d *typingDebouncer) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()
	d.report(false)
}

// stop ends any active burst and reports it stopped.
func (d *typingDebouncer) stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	wasActive := d.active
	d.active = false
	d.mu.Unlock()
	if wasActive {
		d.report(false)
	}
}

func (d *typingDebouncer) report(isTyping bool) {
	if d.ctx.Err() != nil {
		return
	}
	if err := d.api.SetTyping(d.ctx, d.roomID, isTyping); err != nil && d.ctx.Err() == nil {
		d.logger.Debug("typing report failed",
			zap.String("room_id", d.roomID),
			zap.Bool("is_typing", isTyping),
			zap.Error(err))
	}
}
