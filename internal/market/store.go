package market

import (
	"context"
	"errors"
	"fmt"
)

// Delivery statuses carried on a message. A message is immutable once
// delivered; only its delivery status advances.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Fatal error classes. These abort a conversation session before any
// background state is started; everything else is treated as transient.
var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("not a participant of this conversation")
)

// StatusError reports a non-2xx backend response that is not one of the
// fatal classes.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Code)
}

// Message is the authoritative message record held by the marketplace
// backend. The daemon keeps a read-only cached view.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"createdAt"`
	DeliveryStatus string `json:"deliveryStatus"`
	Edited         bool   `json:"edited"`
}

// Attachment is file metadata riding on an outbound message. Uploads are
// gated by the enable_file_uploads flag; only metadata passes through here.
type Attachment struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	URL  string `json:"url,omitempty"`
}

// TypingSignal is a time-bounded hint that a participant is composing.
type TypingSignal struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Conversation is per-conversation metadata. Participants always holds
// exactly two user IDs (a conversation is tied to one swap between two users).
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	SwapID       string   `json:"swapId"`
	Archived     bool     `json:"archived"`
	Pinned       bool     `json:"pinned"`
	UnreadCount  int      `json:"unreadCount"`
}

// FetchResult is one poll's worth of state for a conversation: the current
// message list plus any active typing signals the backend is relaying.
type FetchResult struct {
	Messages []Message      `json:"messages"`
	Typing   []TypingSignal `json:"typing"`
}

// Store is the contract the sync core requires from the marketplace backend.
// Every call is an awaited remote operation and may fail; callers own the
// retry policy. Implementations must be safe for concurrent use from
// independent conversation sessions.
type Store interface {
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) (*FetchResult, error)
	SendMessage(ctx context.Context, conversationID, recipientID, body string, attachments []Attachment) (*Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID string) error

	// Metadata pass-throughs; no correctness logic in the core.
	ArchiveConversation(ctx context.Context, conversationID string) error
	PinConversation(ctx context.Context, conversationID string) error
	UnpinConversation(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}
