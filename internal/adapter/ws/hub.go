package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/couchcryptid/station-forecast-service/internal/observability"
)

// Hub fans freshly computed forecast snapshots out to websocket subscribers.
// It implements pipeline.Broadcaster and http.Handler; mount it at GET /ws.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *observability.Metrics

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	// clients is owned by the Run goroutine; count mirrors its size for
	// callers outside that goroutine.
	clients map[*client]struct{}
	count   atomic.Int64
}

// NewHub creates a Hub. Call Run before mounting it.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards connect from arbitrary origins; the socket only ever
			// carries data the plain HTTP API also serves unauthenticated.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:     logger,
		metrics:    metrics,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run owns the client set until the context is cancelled. All registration
// and fan-out happens on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			clear(h.clients)
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Debug("websocket client connected", "remote", c.conn.RemoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				h.logger.Debug("websocket client disconnected", "remote", c.conn.RemoteAddr())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Too slow to keep up; drop the client rather than
					// letting one stalled reader block everyone.
					delete(h.clients, c)
					close(c.send)
					h.setCount(len(h.clients))
					h.logger.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr())
				}
			}
		}
	}
}

// Broadcast queues a snapshot for fan-out, marshalling it once for all
// subscribers. If the hub is saturated the update is dropped rather than
// stalling the pipeline.
func (h *Hub) Broadcast(snap domain.ForecastSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("marshal snapshot for broadcast", "error", err, "station", snap.StationID)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping update", "station", snap.StationID)
	}
}

// ServeHTTP upgrades the request and hands the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(h)
	go c.readPump(h)
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// drop asks the Run goroutine to unregister a client, giving up if the hub
// has already shut down.
func (h *Hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) setCount(n int) {
	h.count.Store(int64(n))
	h.metrics.WebsocketClients.Set(float64(n))
}
