// Package httpapi exposes the daemon's local control surface: a JSON API
// for driving conversations plus a websocket event stream mirroring the
// internal bus.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/conversation"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/store"
)

// Handler serves the conversation endpoints.
type Handler struct {
	manager *conversation.Manager
	db      *store.DB
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(manager *conversation.Manager, db *store.DB, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, db: db, logger: logger}
}

// ListConversations returns the cached conversation list, pinned first.
func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.db.ListConversations(100, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Open brings a conversation session online.
func (h *Handler) Open(c *gin.Context) {
	s, err := h.manager.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// CloseSession tears down a conversation session.
func (h *Handler) CloseSession(c *gin.Context) {
	h.manager.Close(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

// State returns the live snapshot of an open conversation.
func (h *Handler) State(c *gin.Context) {
	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// ListMessages returns cached messages, newest first.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.db.ListMessages(c.Param("id"), 0, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Send delivers or queues a message. A queued message answers 202.
func (h *Handler) Send(c *gin.Context) {
	var req struct {
		Body        string              `json:"body"`
		Attachments []market.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}

	msg, err := s.SendMessage(c.Request.Context(), req.Body, req.Attachments)
	if errors.Is(err, conversation.ErrQueued) {
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Retry is the manual reconnect trigger.
func (h *Handler) Retry(c *gin.Context) {
	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	s.RetryNow()
	c.JSON(http.StatusOK, s.Snapshot())
}

// Read marks the conversation read immediately.
func (h *Handler) Read(c *gin.Context) {
	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	s.MarkRead()
	c.JSON(http.StatusOK, gin.H{"marked": true})
}

// Scroll reports the message list scroll position.
func (h *Handler) Scroll(c *gin.Context) {
	var req struct {
		DistancePx int `json:"distancePx"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	s.NotifyScroll(req.DistancePx)
	c.JSON(http.StatusOK, gin.H{"reported": true})
}

// Typing reports the current composer text.
func (h *Handler) Typing(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.manager.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not open"})
		return
	}
	s.Typing(req.Text)
	c.JSON(http.StatusOK, gin.H{"reported": true})
}

// Archive archives a conversation.
func (h *Handler) Archive(c *gin.Context) {
	if err := h.manager.Archive(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": true})
}

// Pin pins a conversation.
func (h *Handler) Pin(c *gin.Context) {
	if err := h.manager.Pin(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": true})
}

// Unpin unpins a conversation.
func (h *Handler) Unpin(c *gin.Context) {
	if err := h.manager.Unpin(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": false})
}

// Delete removes a conversation and its cached data.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, market.ErrForbidden), errors.Is(err, conversation.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, conversation.ErrNoUser):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "no local user configured"})
	case errors.Is(err, conversation.ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
	case errors.Is(err, conversation.ErrUploadsDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file uploads are disabled"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
