// Package outbox buffers composed messages that cannot be sent immediately
// and drains them, in order, once connectivity returns. A message handed to
// the queue is never silently lost: it is either accepted by the backend or
// still sitting in the queue.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/conn"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/observability"
	"github.com/barterhub/barterd/internal/store"
)

// Sender is the slice of the backend contract the queue needs.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, recipientID, body string, attachments []market.Attachment) (*market.Message, error)
}

// Queue is the persistent outbound queue for one conversation.
type Queue struct {
	conversationID string
	localUserID    string
	recipientID    string
	db             *store.DB
	sender         Sender
	bus            *bus.Bus
	logger         *zap.Logger

	mu       sync.Mutex
	draining bool
}

// NewQueue creates a queue for one conversation.
func NewQueue(conversationID, localUserID, recipientID string, db *store.DB, sender Sender, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		conversationID: conversationID,
		localUserID:    localUserID,
		recipientID:    recipientID,
		db:             db,
		sender:         sender,
		bus:            b,
		logger:         logger,
	}
}

// Enqueue appends a composed message to the queue and inserts an optimistic
// cache row so the UI shows it as pending immediately.
func (q *Queue) Enqueue(clientMsgID, body string, attachments []market.Attachment) error {
	attJSON := ""
	if len(attachments) > 0 {
		data, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("encode attachments: %w", err)
		}
		attJSON = string(data)
	}

	if err := q.db.QueueOutbox(clientMsgID, q.conversationID, body, attJSON); err != nil {
		return fmt.Errorf("queue outbox: %w", err)
	}

	now := time.Now().UnixMilli()
	_ = q.db.UpsertMessage(&store.Message{
		ConversationID: q.conversationID,
		MsgID:          clientMsgID,
		SenderID:       q.localUserID,
		Body:           body,
		DeliveryStatus: market.StatusSending,
		CreatedAt:      now,
	})

	q.publishDepth()
	q.bus.Publish(bus.New(bus.KindMessageQueued, QueuedRef{
		ConversationID: q.conversationID,
		ClientMsgID:    clientMsgID,
	}))
	q.bus.Publish(bus.New(bus.KindMessageUpserted, QueuedRef{
		ConversationID: q.conversationID,
		ClientMsgID:    clientMsgID,
	}))
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	n, err := q.db.CountPendingOutbox(q.conversationID)
	if err != nil {
		q.logger.Error("failed to count outbox", zap.Error(err))
		return 0
	}
	return n
}

// Watch drains the queue on every transition to Connected until ctx is done.
func (q *Queue) Watch(ctx context.Context) {
	ch, unsub := q.bus.Subscribe(bus.KindConnStateChanged, 64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(conn.StateChange)
				if !ok || change.ConversationID != q.conversationID {
					continue
				}
				if change.To == conn.Connected {
					q.Drain(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Drain sends queued entries strictly in FIFO order, waiting for each
// dispatch before the next. A per-entry failure re-queues that entry only
// and halts the cycle; draining resumes on the next Connected transition.
// Concurrent calls are coalesced.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	entries, err := q.db.PendingOutbox(q.conversationID)
	if err != nil {
		q.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if err := q.dispatch(ctx, entry); err != nil {
			// This entry is back in the queue; stop the cycle here so
			// ordering is preserved for the next attempt.
			return
		}
	}
	q.publishDepth()
}

func (q *Queue) dispatch(ctx context.Context, entry store.OutboxEntry) error {
	// Out of the queued set before dispatch, so the entry cannot be picked
	// up twice; it returns only on explicit failure.
	if err := q.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	var attachments []market.Attachment
	if entry.Attachments != "" {
		if err := json.Unmarshal([]byte(entry.Attachments), &attachments); err != nil {
			q.logger.Warn("dropping unreadable attachment metadata",
				zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		}
	}

	msg, err := q.sender.SendMessage(ctx, q.conversationID, q.recipientID, entry.Body, attachments)
	if ctx.Err() != nil {
		// Teardown raced the dispatch; put the entry back and stop quietly.
		_ = q.db.RequeueOutbox(entry.ClientMsgID, ctx.Err().Error())
		return ctx.Err()
	}
	if err != nil {
		observability.IncSend("requeued")
		_ = q.db.RequeueOutbox(entry.ClientMsgID, err.Error())
		q.logger.Warn("outbox dispatch failed, entry re-queued",
			zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
		q.bus.Publish(bus.New(bus.KindMessageSendFailed, QueuedRef{
			ConversationID: q.conversationID,
			ClientMsgID:    entry.ClientMsgID,
		}))
		return err
	}

	observability.IncSend("success")
	if err := q.db.MarkOutboxSent(entry.ClientMsgID, msg.ID); err != nil {
		q.logger.Error("failed to mark outbox sent", zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
	}
	q.acceptServerCopy(entry.ClientMsgID, msg)
	q.publishDepth()
	q.bus.Publish(bus.New(bus.KindMessageSendAck, AckRef{
		ConversationID: q.conversationID,
		ClientMsgID:    entry.ClientMsgID,
		ServerMsgID:    msg.ID,
	}))
	return nil
}

// acceptServerCopy replaces the optimistic cache row with the backend's
// authoritative message.
func (q *Queue) acceptServerCopy(clientMsgID string, msg *market.Message) {
	_ = q.db.DeleteMessage(q.conversationID, clientMsgID)
	status := msg.DeliveryStatus
	if status == "" || status == market.StatusSending {
		status = market.StatusSent
	}
	_ = q.db.UpsertMessage(&store.Message{
		ConversationID: q.conversationID,
		MsgID:          msg.ID,
		SenderID:       q.localUserID,
		Body:           msg.Body,
		DeliveryStatus: status,
		Edited:         msg.Edited,
		CreatedAt:      msg.CreatedAt,
	})
	q.bus.Publish(bus.New(bus.KindMessageUpserted, QueuedRef{
		ConversationID: q.conversationID,
		ClientMsgID:    msg.ID,
	}))
}

func (q *Queue) publishDepth() {
	observability.SetQueueDepth(q.conversationID, q.Len())
}

// QueuedRef identifies a queued or cached message in bus payloads.
type QueuedRef struct {
	ConversationID string `json:"conversationId"`
	ClientMsgID    string `json:"clientMsgId"`
}

// AckRef is the payload for message.send_ack events.
type AckRef struct {
	ConversationID string `json:"conversationId"`
	ClientMsgID    string `json:"clientMsgId"`
	ServerMsgID    string `json:"serverMsgId"`
}
