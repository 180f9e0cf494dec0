// Package receipt decides when a conversation is marked read and keeps the
// resulting backend calls to a minimum.
package receipt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/observability"
)

// Marker is the slice of the backend contract the coordinator needs.
type Marker interface {
	MarkMessagesAsRead(ctx context.Context, conversationID string) error
}

// Options tunes a Coordinator. Zero values fall back to the defaults below.
type Options struct {
	InitialDelay time.Duration // delay after the list first has content, default 1s
	RetryDelay   time.Duration // delay before the single failure retry, default 5s
	ProximityPx  int           // scroll distance from bottom that triggers, default 100
}

const (
	defaultInitialDelay = time.Second
	defaultRetryDelay   = 5 * time.Second
	defaultProximityPx  = 100
)

func (o *Options) withDefaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.ProximityPx <= 0 {
		o.ProximityPx = defaultProximityPx
	}
}

// Coordinator batches mark-read calls for one conversation. Redundant
// triggers are coalesced; a failed call is retried exactly once and then
// dropped with a log line, never surfaced as a blocking error.
type Coordinator struct {
	conversationID string
	marker         Marker
	bus            *bus.Bus
	logger         *zap.Logger
	opts           Options

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	initialTimer *time.Timer
	retryTimer   *time.Timer
	initialOnce  bool
	inFlight     bool
	retrying     bool
}

// NewCoordinator creates a coordinator bound to ctx; Close (or ctx
// cancellation) stops all timers.
func NewCoordinator(ctx context.Context, conversationID string, marker Marker, b *bus.Bus, logger *zap.Logger, opts Options) *Coordinator {
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		conversationID: conversationID,
		marker:         marker,
		bus:            b,
		logger:         logger,
		opts:           opts,
		ctx:            cctx,
		cancel:         cancel,
	}
}

// ScheduleInitial arms the one-time mount trigger: mark read a moment after
// the message list first renders with content. A conversation with zero
// messages never triggers.
func (c *Coordinator) ScheduleInitial(messageCount int) {
	if messageCount <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialOnce || c.ctx.Err() != nil {
		return
	}
	c.initialOnce = true
	c.initialTimer = time.AfterFunc(c.opts.InitialDelay, func() { c.fire(false) })
}

// NotifyScroll reports the current scroll distance from the bottom of the
// message list. Being within the proximity threshold with unread messages
// present marks the conversation read.
func (c *Coordinator) NotifyScroll(distancePx, unread int) {
	if distancePx > c.opts.ProximityPx || unread <= 0 {
		return
	}
	c.fire(false)
}

// MarkNow marks the conversation read immediately (explicit UI trigger).
func (c *Coordinator) MarkNow() {
	c.fire(false)
}

// Close cancels all pending timers. Idempotent; no call fires afterwards.
func (c *Coordinator) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialTimer != nil {
		c.initialTimer.Stop()
		c.initialTimer = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Coordinator) fire(isRetry bool) {
	c.mu.Lock()
	if c.ctx.Err() != nil || c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	err := c.marker.MarkMessagesAsRead(c.ctx, c.conversationID)

	c.mu.Lock()
	c.inFlight = false
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if err == nil {
		c.retrying = false
		c.mu.Unlock()
		observability.IncReceipt("success")
		if c.bus != nil {
			c.bus.Publish(bus.New(bus.KindReceiptMarked, c.conversationID))
		}
		return
	}

	if isRetry || c.retrying {
		c.retrying = false
		c.mu.Unlock()
		observability.IncReceipt("dropped")
		c.logger.Warn("mark-read failed after retry, giving up",
			zap.String("conversation", c.conversationID),
			zap.Error(err))
		return
	}

	// First failure: exactly one retry after the delay.
	c.retrying = true
	c.retryTimer = time.AfterFunc(c.opts.RetryDelay, func() { c.fire(true) })
	c.mu.Unlock()
	observability.IncReceipt("retry")
	c.logger.Info("mark-read failed, retry scheduled",
		zap.String("conversation", c.conversationID),
		zap.Duration("delay", c.opts.RetryDelay),
		zap.Error(err))
}
