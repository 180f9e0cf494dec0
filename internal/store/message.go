package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Body and delivery status follow the latest
// copy from the backend; the cache never invents message content.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, body, delivery_status, edited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			delivery_status = excluded.delivery_status,
			edited = excluded.edited`,
		m.ConversationID, m.MsgID, m.SenderID, m.Body, m.DeliveryStatus, m.Edited, m.CreatedAt)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, body, delivery_status, edited, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.Body, &m.DeliveryStatus, &m.Edited, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes a single cached message, e.g. an optimistic local
// copy superseded by the backend's authoritative one.
func (db *DB) DeleteMessage(conversationID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, conversationID, msgID)
	return err
}

// CountMessages returns the number of cached messages for a conversation.
func (db *DB) CountMessages(conversationID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// CountUnread returns the number of cached inbound messages not yet read.
func (db *DB) CountUnread(conversationID, localUserID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND delivery_status != 'read'`,
		conversationID, localUserID).Scan(&n)
	return n, err
}
