package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/conversation"
	"github.com/barterhub/barterd/internal/observability"
	"github.com/barterhub/barterd/internal/store"
)

// Server is the daemon's local HTTP server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the router and HTTP server. The listener is not opened
// until Start.
func NewServer(addr string, manager *conversation.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewHandler(manager, db, logger)
	events := NewEventStream(b, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/v1/events", events.Handle)

	v1 := router.Group("/v1")
	{
		v1.GET("/conversations", h.ListConversations)
		v1.POST("/conversations/:id/open", h.Open)
		v1.POST("/conversations/:id/close", h.CloseSession)
		v1.GET("/conversations/:id/state", h.State)
		v1.GET("/conversations/:id/messages", h.ListMessages)
		v1.POST("/conversations/:id/messages", h.Send)
		v1.POST("/conversations/:id/retry", h.Retry)
		v1.POST("/conversations/:id/read", h.Read)
		v1.POST("/conversations/:id/scroll", h.Scroll)
		v1.POST("/conversations/:id/typing", h.Typing)
		v1.POST("/conversations/:id/archive", h.Archive)
		v1.POST("/conversations/:id/pin", h.Pin)
		v1.POST("/conversations/:id/unpin", h.Unpin)
		v1.DELETE("/conversations/:id", h.Delete)
	}

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until the listener is closed. It blocks; run it on its own
// goroutine.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
