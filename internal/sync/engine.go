// Package sync ingests polled backend messages into the local cache.
// Ingestion is idempotent: a message delivered by several overlapping polls
// lands in the cache exactly once, with the freshest delivery status.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/conn"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/store"
)

const previewLen = 100

// Engine subscribes to poll batches on the bus and writes them through to
// the store.
type Engine struct {
	db          *store.DB
	bus         *bus.Bus
	localUserID string
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewEngine creates a sync engine. localUserID scopes unread counting to
// messages sent by the peer.
func NewEngine(db *store.DB, b *bus.Bus, localUserID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:          db,
		bus:         b,
		localUserID: localUserID,
		logger:      logger,
	}
}

// Start subscribes to poll batches until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindPollBatch, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				batch, ok := evt.Payload.(conn.Batch)
				if !ok {
					continue
				}
				if err := e.IngestBatch(batch.ConversationID, batch.Messages); err != nil {
					e.logger.Error("failed to ingest poll batch",
						zap.String("conversation", batch.ConversationID),
						zap.Int("count", len(batch.Messages)),
						zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// IngestBatch writes one poll's messages into the cache in a single
// transaction, then refreshes the conversation row (preview, last activity,
// unread count).
func (e *Engine) IngestBatch(conversationID string, msgs []market.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest market.Message
	for _, m := range msgs {
		status := m.DeliveryStatus
		if status == "" {
			status = market.StatusSent
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, body, delivery_status, edited, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				body = excluded.body,
				delivery_status = excluded.delivery_status,
				edited = excluded.edited`,
			conversationID, m.ID, m.SenderID, m.Body, status, m.Edited, m.CreatedAt); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
		if m.CreatedAt >= latest.CreatedAt {
			latest = m
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		conversationID, latest.CreatedAt, truncate(latest.Body, previewLen), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert conversation in batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	unread, err := e.db.CountUnread(conversationID, e.localUserID)
	if err == nil {
		_, _ = e.db.Exec(`UPDATE conversations SET unread_count = ? WHERE id = ?`, unread, conversationID)
	}

	for _, m := range msgs {
		e.bus.Publish(bus.New(bus.KindMessageUpserted, map[string]string{
			"conversation_id": conversationID,
			"msg_id":          m.ID,
		}))
	}
	e.bus.Publish(bus.New(bus.KindConversationUpdated, map[string]string{
		"conversation_id": conversationID,
	}))

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
