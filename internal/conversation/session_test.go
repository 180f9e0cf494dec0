package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/conn"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	conv      *market.Conversation
	convErr   error
	sendErr   error
	sendCalls int
	markCalls int
	fetch     *market.FetchResult
	fetchErr  error
}

func (f *fakeBackend) GetConversation(context.Context, string) (*market.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.conv, nil
}

func (f *fakeBackend) FetchMessages(context.Context, string) (*market.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.fetch != nil {
		return f.fetch, nil
	}
	return &market.FetchResult{}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, conversationID, _, body string, _ []market.Attachment) (*market.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &market.Message{
		ID:             "srv-1",
		ConversationID: conversationID,
		SenderID:       "me",
		Body:           body,
		DeliveryStatus: market.StatusSent,
		CreatedAt:      1000,
	}, nil
}

func (f *fakeBackend) MarkMessagesAsRead(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	return nil
}

func (f *fakeBackend) ArchiveConversation(context.Context, string) error { return nil }
func (f *fakeBackend) PinConversation(context.Context, string) error { return nil }
func (f *fakeBackend) UnpinConversation(context.Context, string) error { return nil }
func (f *fakeBackend) DeleteConversation(context.Context, string) error { return nil }

func (f *fakeBackend) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testSession(t *testing.T, backend *fakeBackend) (*Session, *store.DB) {
	t.Helper()
	db := testDB(t)
	chat := config.Default().Chat
	chat.EnableRealTime = false
	s := newSession("conv-1", "me", "peer", db, backend, bus.NewBus(), zap.NewNop(), chat)
	t.Cleanup(s.Close)
	return s, db
}

func TestSendMessageEmptyBodyRejected(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := testSession(t, backend)

	if _, err := s.SendMessage(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err = %v, want ErrEmptyBody", err)
	}
	if backend.sent() != 0 {
		t.Fatal("empty send reached the backend")
	}
}

func TestSendMessageAttachmentsGatedByConfig(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := testSession(t, backend)

	att := []market.Attachment{{Name: "photo.jpg"}}
	if _, err := s.SendMessage(context.Background(), "look", att); !errors.Is(err, ErrUploadsDisabled) {
		t.Fatalf("err = %v, want ErrUploadsDisabled", err)
	}

	s.chat.EnableFileUploads = true
	if _, err := s.SendMessage(context.Background(), "look", att); !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}
}

func TestSendMessageWhileDisconnectedQueues(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := testSession(t, backend)

	msg, err := s.SendMessage(context.Background(), "hello", nil)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}
	if msg != nil {
		t.Fatal("queued send must not return a message")
	}
	if backend.sent() != 0 {
		t.Fatal("disconnected send must not hit the backend")
	}
	if got := s.queue.Len(); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
}

func TestSendMessageConnectedGoesDirect(t *testing.T) {
	backend := &fakeBackend{}
	s, db := testSession(t, backend)
	forceConnected(t, s)

	msg, err := s.SendMessage(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg == nil || msg.ID != "srv-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := s.queue.Len(); got != 0 {
		t.Fatalf("queue len = %d, want 0", got)
	}

	cached, err := db.ListMessages("conv-1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 || cached[0].MsgID != "srv-1" {
		t.Fatalf("cache not updated: %+v", cached)
	}
}

func TestSendMessageDirectFailureFallsBackToQueue(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("backend down")}
	s, _ := testSession(t, backend)
	forceConnected(t, s)

	_, err := s.SendMessage(context.Background(), "hello", nil)
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}
	if got := s.queue.Len(); got != 1 {
		t.Fatalf("queue len = %d, want 1", got)
	}
}

func TestSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := testSession(t, backend)

	snap := s.Snapshot()
	if snap.ConversationID != "conv-1" {
		t.Errorf("conversation = %q", snap.ConversationID)
	}
	if snap.State != conn.Disconnected {
		t.Errorf("state = %s, want disconnected", snap.State)
	}
	if snap.QueuedCount != 0 || snap.RetryCount != 0 {
		t.Errorf("unexpected counters %+v", snap)
	}

	if _, err := s.SendMessage(context.Background(), "hold this", nil); !errors.Is(err, ErrQueued) {
		t.Fatalf("err = %v, want ErrQueued", err)
	}
	if got := s.Snapshot().QueuedCount; got != 1 {
		t.Errorf("queued = %d, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	s, _ := testSession(t, backend)

	s.Close()
	s.Close()
	if got := s.machine.Current(); got != conn.Disconnected {
		t.Fatalf("state = %s after close", got)
	}
}

func TestCloseKeepsQueuedMessages(t *testing.T) {
	backend := &fakeBackend{}
	s, db := testSession(t, backend)

	if _, err := s.SendMessage(context.Background(), "later", nil); !errors.Is(err, ErrQueued) {
		t.Fatal("expected queued send")
	}
	s.Close()

	n, err := db.CountPendingOutbox("conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("queued messages lost on close, pending = %d", n)
	}
}

func forceConnected(t *testing.T, s *Session) {
	t.Helper()
	if err := s.machine.Transition(conn.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := s.machine.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}
}
