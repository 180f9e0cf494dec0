package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix, e.g. "conn." receives every connection event.
const (
	KindConnStateChanged = "conn.state_changed"

	KindMessageUpserted   = "message.upserted"
	KindMessageQueued     = "message.queued"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindTypingStarted = "typing.started"
	KindTypingStopped = "typing.stopped"
	KindTypingRemote  = "typing.remote"

	KindReceiptMarked = "receipt.marked"

	KindConversationUpdated = "conversation.updated"

	KindPollBatch = "poll.batch"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// New builds an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
