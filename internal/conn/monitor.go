package conn

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/observability"
	"github.com/barterhub/barterd/internal/retry"
)

// Fetcher is the slice of the backend contract the monitor needs.
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationID string) (*market.FetchResult, error)
}

// TypingSink receives remote typing signals observed during polling and is
// pruned on every successful tick.
type TypingSink interface {
	Observe(userID, displayName string)
	Prune(now time.Time) int
}

// Batch is the poll.batch payload handed to the ingestion engine.
type Batch struct {
	ConversationID string           `json:"conversationId"`
	Messages       []market.Message `json:"messages"`
}

// Options tunes a Monitor. Zero values fall back to the defaults below.
type Options struct {
	Interval     time.Duration // poll interval, default 3s
	MaxAttempts  int           // consecutive-failure cap, default 5
	RestartDelay time.Duration // delay for Restart, default 500ms
	Disabled     bool          // realtime updates off: Start is a no-op
}

const (
	defaultInterval     = 3 * time.Second
	defaultMaxAttempts  = 5
	defaultRestartDelay = 500 * time.Millisecond
)

func (o *Options) withDefaults() {
	if o.Interval <= 0 {
		o.Interval = defaultInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = defaultRestartDelay
	}
}

// Monitor owns the poll loop and connection state for one conversation.
// All fetches run on a single loop goroutine, so ticks can never overlap:
// a tick that arrives while a fetch is still in flight is dropped by the
// ticker, not queued.
type Monitor struct {
	conversationID string
	fetcher        Fetcher
	machine        *Machine
	typing         TypingSink
	bus            *bus.Bus
	sched          *retry.Scheduler
	logger         *zap.Logger
	opts           Options

	mu           sync.Mutex
	parent       context.Context
	cancel       context.CancelFunc
	kick         chan struct{}
	running      bool
	retryCount   int
	lastPolledAt time.Time
	restartTimer *time.Timer
}

// NewMonitor creates a monitor for one conversation. typing may be nil.
func NewMonitor(conversationID string, fetcher Fetcher, machine *Machine, typing TypingSink, b *bus.Bus, logger *zap.Logger, opts Options) *Monitor {
	opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		conversationID: conversationID,
		fetcher:        fetcher,
		machine:        machine,
		typing:         typing,
		bus:            b,
		sched:          retry.NewScheduler(),
		logger:         logger,
		opts:           opts,
	}
}

// Start transitions to Connecting and begins polling every interval.
// Guarded: a no-op when realtime updates are disabled, when no conversation
// id is set, or when already running.
func (m *Monitor) Start(ctx context.Context) {
	if m.opts.Disabled || m.conversationID == "" {
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.parent = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.kick = make(chan struct{}, 1)
	m.running = true
	kick := m.kick
	m.mu.Unlock()

	_ = m.machine.Transition(Connecting)
	go m.loop(loopCtx, kick)
}

// Stop cancels the poll loop, any pending reconnect and any pending
// restart, and transitions to Disconnected. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	m.sched.Cancel()
	if cancel != nil {
		cancel()
	}
	_ = m.machine.Transition(Disconnected)
}

// RetryNow is the explicit user-initiated retry: it resets the failure
// counter and resumes polling, whether the loop is idle (retries exhausted)
// or still running.
func (m *Monitor) RetryNow() {
	m.sched.Cancel()

	m.mu.Lock()
	m.retryCount = 0
	running := m.running
	kick := m.kick
	parent := m.parent
	m.mu.Unlock()

	if running {
		_ = m.machine.Transition(Connecting)
		requestKick(kick)
		return
	}
	if parent == nil {
		parent = context.Background()
	}
	m.Start(parent)
}

// Restart stops polling and starts it again after a short delay, forcing a
// fresh fetch cycle. Used after a direct send so the just-sent message shows
// up without waiting a full interval.
func (m *Monitor) Restart() {
	m.mu.Lock()
	parent := m.parent
	m.mu.Unlock()
	if parent == nil {
		return
	}

	m.Stop()

	m.mu.Lock()
	m.restartTimer = time.AfterFunc(m.opts.RestartDelay, func() {
		if parent.Err() != nil {
			return
		}
		m.Start(parent)
	})
	m.mu.Unlock()
}

// RetryCount returns the consecutive-failure counter. It saturates at the
// configured cap, so long-degraded sessions cannot grow it unboundedly.
func (m *Monitor) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// LastPolledAt returns the time of the last successful fetch.
func (m *Monitor) LastPolledAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPolledAt
}

func (m *Monitor) loop(ctx context.Context, kick chan struct{}) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ticker.C:
			m.poll(ctx)
		case <-kick:
			m.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	res, err := m.fetcher.FetchMessages(ctx, m.conversationID)
	if ctx.Err() != nil {
		// Torn down mid-fetch; do not touch session state.
		return
	}
	if err != nil {
		m.handleFailure(ctx, err)
		return
	}
	m.handleSuccess(res)
}

func (m *Monitor) handleSuccess(res *market.FetchResult) {
	_ = m.machine.Transition(Connected)
	m.sched.Cancel()

	m.mu.Lock()
	m.retryCount = 0
	m.lastPolledAt = time.Now()
	m.mu.Unlock()

	if m.typing != nil {
		for _, sig := range res.Typing {
			m.typing.Observe(sig.UserID, sig.DisplayName)
		}
		m.typing.Prune(time.Now())
	}

	observability.IncPoll("success")
	m.bus.Publish(bus.New(bus.KindPollBatch, Batch{
		ConversationID: m.conversationID,
		Messages:       res.Messages,
	}))
}

func (m *Monitor) handleFailure(ctx context.Context, err error) {
	_ = m.machine.Transition(Error)
	observability.IncPoll("error")

	m.mu.Lock()
	if m.retryCount < m.opts.MaxAttempts {
		m.retryCount++
	}
	attempt := m.retryCount
	kick := m.kick
	m.mu.Unlock()

	if attempt >= m.opts.MaxAttempts {
		m.logger.Warn("poll retries exhausted, waiting for manual retry",
			zap.String("conversation", m.conversationID),
			zap.Int("attempts", attempt),
			zap.Error(err))
		m.stopLoop()
		return
	}

	delay := m.sched.Schedule(attempt, func() {
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(Connecting)
		requestKick(kick)
	})
	observability.IncReconnectScheduled()
	m.logger.Info("poll failed, reconnect scheduled",
		zap.String("conversation", m.conversationID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(err))
}

// stopLoop halts polling without changing the connection state; the session
// stays in Error until RetryNow or teardown.
func (m *Monitor) stopLoop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func requestKick(kick chan struct{}) {
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}
