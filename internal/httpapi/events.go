package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/barterhub/barterd/internal/bus"
	"github.com/barterhub/barterd/internal/observability"
)

var upgrader = websocket.Upgrader{
	// The daemon listens on loopback only; the origin header of a local
	// client carries no signal.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// EventStream upgrades the connection and relays bus events as JSON frames.
// An optional "prefix" query narrows the stream to one event namespace.
type EventStream struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEventStream builds an EventStream.
func NewEventStream(b *bus.Bus, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{bus: b, logger: logger}
}

type eventFrame struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handle serves one websocket subscriber until the client goes away.
func (e *EventStream) Handle(c *gin.Context) {
	prefix := c.Query("prefix")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	observability.IncWSActive()
	defer observability.DecWSActive()
	defer func() { _ = ws.Close() }()

	ch, unsub := e.bus.Subscribe(prefix, 256)
	defer unsub()

	// Reader goroutine: drain control frames and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case evt := <-ch:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(eventFrame{
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			}); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
