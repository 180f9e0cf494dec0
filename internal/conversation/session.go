// Package conversation wires the per-conversation machinery together: the
// poll monitor, the outbound queue, typing state in both directions, and
// read-receipt coordination. One Session corresponds to one open chat.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/conn"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/outbox"
	"github.com/barterhub/barterd/internal/receipt"
	"github.com/barterhub/barterd/internal/store"
	"github.com/barterhub/barterd/internal/typing"
)

// ErrQueued reports that a message could not be delivered right away and
// was queued instead. The message is safe; callers should treat this as a
// soft outcome, not a failure.
var ErrQueued = errors.New("message queued for delivery")

// ErrEmptyBody rejects sends with nothing in them.
var ErrEmptyBody = errors.New("message body is empty")

// ErrUploadsDisabled rejects attachments when file uploads are turned off.
var ErrUploadsDisabled = errors.New("file uploads are disabled")

// TypingEvent is the payload for typing.started and typing.stopped events.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Snapshot is a point-in-time view of a session for status surfaces.
type Snapshot struct {
	ConversationID string          `json:"conversationId"`
	State          conn.State      `json:"state"`
	RetryCount     int             `json:"retryCount"`
	QueuedCount    int             `json:"queuedCount"`
	LastPolledAt   time.Time       `json:"lastPolledAt"`
	RemoteTyping   []typing.Signal `json:"remoteTyping"`
	ComposerActive bool            `json:"composerActive"`
}

// Session owns the live state of one open conversation.
type Session struct {
	conversationID string
	localUserID    string
	peerID         string
	db             *store.DB
	backend        market.Store
	bus            *bus.Bus
	logger         *zap.Logger
	chat           config.ChatConfig

	machine  *conn.Machine
	monitor  *conn.Monitor
	queue    *outbox.Queue
	remote   *typing.Set
	composer *typing.Notifier
	view     *typing.Notifier
	receipts *receipt.Coordinator

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// newSession builds a session; it does not start polling until Start.
func newSession(conversationID, localUserID, peerID string, db *store.DB, backend market.Store, b *bus.Bus, logger *zap.Logger, chat config.ChatConfig) *Session {
	s := &Session{
		conversationID: conversationID,
		localUserID:    localUserID,
		peerID:         peerID,
		db:             db,
		backend:        backend,
		bus:            b,
		logger:         logger.With(zap.String("conversation", conversationID)),
		chat:           chat,
		remote:         typing.NewSet(),
	}

	s.machine = conn.NewMachine(conversationID, b)
	s.monitor = conn.NewMonitor(conversationID, backend, s.machine, s.remote, b, s.logger, conn.Options{
		Interval: chat.UpdateInterval(),
		Disabled: !chat.EnableRealTime,
	})
	s.queue = outbox.NewQueue(conversationID, localUserID, peerID, db, backend, b, s.logger)

	s.composer = typing.NewNotifier(typing.ComposerTimeout,
		func() {
			b.Publish(bus.New(bus.KindTypingStarted, TypingEvent{
				ConversationID: conversationID,
				UserID:         localUserID,
			}))
		},
		func() {
			b.Publish(bus.New(bus.KindTypingStopped, TypingEvent{
				ConversationID: conversationID,
				UserID:         localUserID,
			}))
		})
	// The view indicator runs on its own, longer clock; what the user sees
	// about their own typing is allowed to outlive the signal sent out.
	s.view = typing.NewNotifier(typing.ViewTimeout, nil, nil)

	return s
}

// Start brings the session online: polling begins, the queue drains on
// every reconnect, and the first non-empty poll arms the read receipt.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.receipts = receipt.NewCoordinator(s.ctx, s.conversationID, s.backend, s.bus, s.logger, receipt.Options{})

	s.queue.Watch(s.ctx)
	go s.watchPolls(s.ctx)
	s.monitor.Start(s.ctx)
}

// watchPolls arms the initial read receipt once the conversation first
// shows content.
func (s *Session) watchPolls(ctx context.Context) {
	ch, unsub := s.bus.Subscribe(bus.KindPollBatch, 64)
	defer unsub()
	for {
		select {
		case evt := <-ch:
			batch, ok := evt.Payload.(conn.Batch)
			if !ok || batch.ConversationID != s.conversationID {
				continue
			}
			s.receipts.ScheduleInitial(len(batch.Messages))
		case <-ctx.Done():
			return
		}
	}
}

// SendMessage delivers body to the peer. When the session is connected the
// send goes straight to the backend and a fresh poll cycle is forced so the
// message shows up immediately; otherwise, or when the direct send fails,
// the message is queued and ErrQueued is returned.
func (s *Session) SendMessage(ctx context.Context, body string, attachments []market.Attachment) (*market.Message, error) {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, ErrEmptyBody
	}
	if len(attachments) > 0 && !s.chat.EnableFileUploads {
		return nil, ErrUploadsDisabled
	}
	clientMsgID := uuid.NewString()

	if s.machine.Current() != conn.Connected {
		if err := s.queue.Enqueue(clientMsgID, body, attachments); err != nil {
			return nil, err
		}
		return nil, ErrQueued
	}

	msg, err := s.backend.SendMessage(ctx, s.conversationID, s.peerID, body, attachments)
	s.composer.Flush()
	if err != nil {
		s.logger.Warn("direct send failed, queueing message", zap.Error(err))
		if qerr := s.queue.Enqueue(clientMsgID, body, attachments); qerr != nil {
			return nil, qerr
		}
		s.monitor.Restart()
		return nil, ErrQueued
	}

	status := msg.DeliveryStatus
	if status == "" || status == market.StatusSending {
		status = market.StatusSent
	}
	_ = s.db.UpsertMessage(&store.Message{
		ConversationID: s.conversationID,
		MsgID:          msg.ID,
		SenderID:       s.localUserID,
		Body:           msg.Body,
		DeliveryStatus: status,
		Edited:         msg.Edited,
		CreatedAt:      msg.CreatedAt,
	})
	s.bus.Publish(bus.New(bus.KindMessageUpserted, map[string]string{
		"conversation_id": s.conversationID,
		"msg_id":          msg.ID,
	}))
	s.monitor.Restart()
	return msg, nil
}

// Typing reports the current composer text. The outbound signal debounces
// on the composer clock; the local indicator runs on the view clock.
func (s *Session) Typing(text string) {
	s.composer.Keystroke(text)
	s.view.Keystroke(text)
}

// NotifyScroll reports the scroll position of the message list, in pixels
// from the bottom. Close enough to the bottom with unread messages pending
// marks the conversation read.
func (s *Session) NotifyScroll(distancePx int) {
	unread, err := s.db.CountUnread(s.conversationID, s.localUserID)
	if err != nil {
		s.logger.Error("failed to count unread", zap.Error(err))
		return
	}
	s.receipts.NotifyScroll(distancePx, unread)
}

// MarkRead marks the conversation read immediately, both locally and at
// the backend.
func (s *Session) MarkRead() {
	if err := s.db.MarkConversationRead(s.conversationID, s.localUserID); err != nil {
		s.logger.Error("failed to mark cached conversation read", zap.Error(err))
	}
	s.receipts.MarkNow()
}

// RetryNow is the manual reconnect: resets the failure counter and polls immediately.
func (s *Session) RetryNow() {
	s.monitor.RetryNow()
}

// Snapshot returns the session's current status.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ConversationID: s.conversationID,
		State:          s.machine.Current(),
		RetryCount:     s.monitor.RetryCount(),
		QueuedCount:    s.queue.Len(),
		LastPolledAt:   s.monitor.LastPolledAt(),
		RemoteTyping:   s.remote.Active(time.Now()),
		ComposerActive: s.view.Active(),
	}
}

// Close tears the session down: polling stops, pending receipt timers are
// cancelled, and typing notifiers are silenced without emitting a stop
// burst. Idempotent; queued messages stay in the store for the next open.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.composer.Close()
		s.view.Close()
		if s.receipts != nil {
			s.receipts.Close()
		}
		s.monitor.Stop()
		if s.cancel != nil {
			s.cancel()
		}
	})
}
