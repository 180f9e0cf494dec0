package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/config"
	"github.com/barterhub/barterd/internal/market"
	"github.com/barterhub/barterd/internal/observability"
	"github.com/barterhub/barterd/internal/store"
)

// ErrNoUser reports that the daemon has no local user configured, so no
// conversation can be opened.
var ErrNoUser = errors.New("no local user configured")

// ErrNotParticipant reports that the local user is not part of the
// requested conversation.
var ErrNotParticipant = errors.New("local user is not a participant of this conversation")

// Manager opens and tracks live sessions, one per conversation.
type Manager struct {
	db      *store.DB
	backend market.Store
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     *config.Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(db *store.DB, backend market.Store, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:       db,
		backend:  backend,
		bus:      b,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open validates access to a conversation and brings a session online for
// it. Opening an already-open conversation returns the existing session.
func (m *Manager) Open(ctx context.Context, conversationID string) (*Session, error) {
	localUserID := m.cfg.Daemon.UserID
	if localUserID == "" {
		return nil, ErrNoUser
	}

	m.mu.Lock()
	if s, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	conv, err := m.backend.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !slices.Contains(conv.Participants, localUserID) {
		return nil, ErrNotParticipant
	}
	peerID := ""
	for _, p := range conv.Participants {
		if p != localUserID {
			peerID = p
			break
		}
	}

	if err := m.db.UpsertConversation(&store.Conversation{
		ID:          conversationID,
		PeerID:      peerID,
		Archived:    conv.Archived,
		Pinned:      conv.Pinned,
		UnreadCount: conv.UnreadCount,
	}); err != nil {
		m.logger.Warn("failed to cache conversation", zap.String("conversation", conversationID), zap.Error(err))
	}

	s := newSession(conversationID, localUserID, peerID, m.db, m.backend, m.bus, m.logger, m.cfg.Chat)

	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[conversationID] = s
	m.mu.Unlock()

	// ctx only scopes the open request; the session runs until Close.
	s.Start(context.Background())
	observability.IncActiveSessions()
	m.logger.Info("conversation opened",
		zap.String("conversation", conversationID),
		zap.String("peer", peerID))
	return s, nil
}

// Get returns the live session for a conversation, or nil.
func (m *Manager) Get(conversationID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[conversationID]
}

// Close tears down the session for one conversation. Closing a conversation
// that is not open is a no-op.
func (m *Manager) Close(conversationID string) {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	observability.DecActiveSessions()
	m.logger.Info("conversation closed", zap.String("conversation", conversationID))
}

// CloseAll tears down every live session; used at daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for id, s := range sessions {
		s.Close()
		observability.DecActiveSessions()
		m.logger.Info("conversation closed", zap.String("conversation", id))
	}
}

// Archive archives a conversation at the backend and in the cache.
func (m *Manager) Archive(ctx context.Context, conversationID string) error {
	if err := m.backend.ArchiveConversation(ctx, conversationID); err != nil {
		return err
	}
	return m.db.SetArchived(conversationID, true)
}

// Pin pins a conversation at the backend and in the cache.
func (m *Manager) Pin(ctx context.Context, conversationID string) error {
	if err := m.backend.PinConversation(ctx, conversationID); err != nil {
		return err
	}
	return m.db.SetPinned(conversationID, true)
}

// Unpin unpins a conversation at the backend and in the cache.
func (m *Manager) Unpin(ctx context.Context, conversationID string) error {
	if err := m.backend.UnpinConversation(ctx, conversationID); err != nil {
		return err
	}
	return m.db.SetPinned(conversationID, false)
}

// Delete removes a conversation at the backend, drops the cached rows, and
// closes any live session for it.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	if err := m.backend.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	m.Close(conversationID)
	return m.db.DeleteConversation(conversationID)
}
