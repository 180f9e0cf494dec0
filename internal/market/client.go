package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Client talks to the marketplace backend's chat API over HTTPS with a
// bearer token. It implements Store.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a backend client. httpClient may be nil, in which case
// a client with a 10s timeout is used.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{baseURL: baseURL, token: token, http: httpClient}
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, c.convPath(conversationID, ""), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) FetchMessages(ctx context.Context, conversationID string) (*FetchResult, error) {
	var res FetchResult
	if err := c.do(ctx, http.MethodGet, c.convPath(conversationID, "messages"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, recipientID, body string, attachments []Attachment) (*Message, error) {
	req := struct {
		RecipientID string       `json:"recipientId"`
		Body        string       `json:"body"`
		Attachments []Attachment `json:"attachments,omitempty"`
	}{recipientID, body, attachments}

	var msg Message
	if err := c.do(ctx, http.MethodPost, c.convPath(conversationID, "messages"), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkMessagesAsRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, c.convPath(conversationID, "read"), nil, nil)
}

func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, c.convPath(conversationID, "archive"), nil, nil)
}

func (c *Client) PinConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, c.convPath(conversationID, "pin"), nil, nil)
}

func (c *Client) UnpinConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, c.convPath(conversationID, "unpin"), nil, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, c.convPath(conversationID, ""), nil, nil)
}

func (c *Client) convPath(conversationID, suffix string) string {
	p := "/api/v1/conversations/" + url.PathEscape(conversationID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Code: resp.StatusCode}
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
