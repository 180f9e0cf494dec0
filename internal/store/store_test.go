package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	res, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if res.Changed {
		t.Error("second Migrate() reported changes")
	}
}

func TestConversationUpsertAndGet(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "c1", PeerID: "u2", PeerName: "Ana", UnreadCount: 3, LastMessageAt: 1000, LastMessagePreview: "hi"}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.PeerID != "u2" || got.UnreadCount != 3 {
		t.Errorf("got %+v", got)
	}

	// Upsert with empty peer fields must not wipe them.
	if err := db.UpsertConversation(&Conversation{ID: "c1", LastMessageAt: 2000, LastMessagePreview: "newer"}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetConversation("c1")
	if got.PeerID != "u2" {
		t.Errorf("peer_id = %q, want preserved u2", got.PeerID)
	}
	if got.LastMessagePreview != "newer" {
		t.Errorf("preview = %q, want newer", got.LastMessagePreview)
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetConversation("absent")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "c1", MsgID: "m1", SenderID: "u2", Body: "v1", DeliveryStatus: "sent", CreatedAt: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.DeliveryStatus = "read"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].DeliveryStatus != "read" {
		t.Errorf("status = %q, want read", msgs[0].DeliveryStatus)
	}
}

func TestCountUnread(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ConversationID: "c1", MsgID: "m1", SenderID: "u2", DeliveryStatus: "delivered", CreatedAt: 1},
		{ConversationID: "c1", MsgID: "m2", SenderID: "u2", DeliveryStatus: "read", CreatedAt: 2},
		{ConversationID: "c1", MsgID: "m3", SenderID: "u1", DeliveryStatus: "sent", CreatedAt: 3},
	}
	for _, m := range msgs {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.CountUnread("c1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("unread = %d, want 1 (own and already-read messages excluded)", n)
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertConversation(&Conversation{ID: "c1", UnreadCount: 2})
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m1", SenderID: "u2", DeliveryStatus: "delivered", CreatedAt: 1})

	if err := db.MarkConversationRead("c1", "u1"); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetConversation("c1")
	if c.UnreadCount != 0 {
		t.Errorf("unread_count = %d, want 0", c.UnreadCount)
	}
	n, _ := db.CountUnread("c1", "u1")
	if n != 0 {
		t.Errorf("unread messages = %d, want 0", n)
	}
}

func TestOutboxFIFOAndRequeue(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := db.QueueOutbox(id, "c1", "body-"+id, ""); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := db.PendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 || pending[0].ClientMsgID != "a" || pending[2].ClientMsgID != "c" {
		t.Fatalf("pending = %+v, want a,b,c in order", pending)
	}

	// Dispatch a; fail b and requeue it.
	_ = db.MarkOutboxSending("a")
	_ = db.MarkOutboxSent("a", "srv-a")
	_ = db.MarkOutboxSending("b")
	if err := db.RequeueOutbox("b", "network error"); err != nil {
		t.Fatal(err)
	}

	pending, _ = db.PendingOutbox("c1")
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	// b keeps its original FIFO position ahead of c.
	if pending[0].ClientMsgID != "b" || pending[1].ClientMsgID != "c" {
		t.Errorf("order = %s,%s, want b,c", pending[0].ClientMsgID, pending[1].ClientMsgID)
	}
	if pending[0].ErrorMessage != "network error" {
		t.Errorf("error_message = %q", pending[0].ErrorMessage)
	}
}

func TestOutboxCountScopedToConversation(t *testing.T) {
	db := testDB(t)

	_ = db.QueueOutbox("x1", "c1", "one", "")
	_ = db.QueueOutbox("x2", "c2", "two", "")

	n, err := db.CountPendingOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertConversation(&Conversation{ID: "c1"})
	_ = db.UpsertMessage(&Message{ConversationID: "c1", MsgID: "m1", CreatedAt: 1})
	_ = db.QueueOutbox("x1", "c1", "body", "")

	if err := db.DeleteConversation("c1"); err != nil {
		t.Fatal(err)
	}

	if c, _ := db.GetConversation("c1"); c != nil {
		t.Error("conversation still present")
	}
	if msgs, _ := db.ListMessages("c1", 0, 10); len(msgs) != 0 {
		t.Error("messages still present")
	}
	if n, _ := db.CountPendingOutbox("c1"); n != 0 {
		t.Error("outbox entries still present")
	}
}
