package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conversations/c1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q, want Bearer tok", got)
		}
		_ = json.NewEncoder(w).Encode(FetchResult{
			Messages: []Message{{ID: "m1", ConversationID: "c1", Body: "hi", DeliveryStatus: StatusSent}},
			Typing:   []TypingSignal{{UserID: "u2", DisplayName: "Ana"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	res, err := c.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("FetchMessages() error = %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].Body != "hi" {
		t.Errorf("messages = %+v", res.Messages)
	}
	if len(res.Typing) != 1 || res.Typing[0].UserID != "u2" {
		t.Errorf("typing = %+v", res.Typing)
	}
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		var req struct {
			RecipientID string `json:"recipientId"`
			Body        string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.RecipientID != "u2" || req.Body != "hello" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Message{ID: "srv-1", ConversationID: "c1", Body: req.Body, DeliveryStatus: StatusSent})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	msg, err := c.SendMessage(context.Background(), "c1", "u2", "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != "srv-1" {
		t.Errorf("msg.ID = %q, want srv-1", msg.ID)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"unauthorized", http.StatusUnauthorized, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", nil)
			_, err := c.GetConversation(context.Background(), "c1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	err := c.MarkMessagesAsRead(context.Background(), "c1")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *StatusError", err)
	}
	if se.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", se.Code)
	}
}

func TestPassThroughOperations(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	ctx := context.Background()
	if err := c.ArchiveConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.PinConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.UnpinConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"POST /api/v1/conversations/c1/archive",
		"POST /api/v1/conversations/c1/pin",
		"POST /api/v1/conversations/c1/unpin",
		"DELETE /api/v1/conversations/c1",
	}
	for i, w := range want {
		if i >= len(paths) || paths[i] != w {
			t.Errorf("call %d = %v, want %q", i, paths, w)
		}
	}
}
