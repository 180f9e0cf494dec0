package store

// Conversation is the cached view of one swap chat thread.
type Conversation struct {
	ID                 string `json:"id"`
	PeerID             string `json:"peerId"`
	PeerName           string `json:"peerName"`
	Archived           bool   `json:"archived"`
	Pinned             bool   `json:"pinned"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageAt      int64  `json:"lastMessageAt"`
	LastMessagePreview string `json:"lastMessagePreview"`
}

// Message is the cached copy of a backend message.
type Message struct {
	ID             int64  `json:"-"`
	ConversationID string `json:"conversationId"`
	MsgID          string `json:"msgId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	DeliveryStatus string `json:"deliveryStatus"`
	Edited         bool   `json:"edited"`
	CreatedAt      int64  `json:"createdAt"`
}

// OutboxEntry is a composed message not yet accepted by the backend.
// Attachments holds JSON-encoded metadata (or "" for none).
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Attachments    string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	EnqueuedAt     int64
}
