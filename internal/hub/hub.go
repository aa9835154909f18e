package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kiln/internal/logging"
)

// Conn is a live push connection. The hub only needs to send and close;
// transport details live in the adapter (see socket.go).
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Hub tracks live connections and per-job subscriptions and fans progress
// messages out to them. Delivery is best-effort and at-most-once: a failed
// send prunes the connection, nothing is retried or queued for redelivery.
type Hub struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	subs  map[string]map[Conn]struct{}

	sendTimeout time.Duration
	logger      *slog.Logger
}

// New constructs an empty hub.
func New(sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Hub{
		conns:       make(map[Conn]struct{}),
		subs:        make(map[string]map[Conn]struct{}),
		sendTimeout: sendTimeout,
		logger:      logging.NewComponentLogger(logger, "hub"),
	}
}

// Connect registers a live connection.
func (h *Hub) Connect(conn Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("connection opened", logging.Int("connections", total))
}

// Disconnect removes a connection from the registry and from every
// subscription set, then closes it.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	for jobID, subscribers := range h.subs {
		delete(subscribers, conn)
		if len(subscribers) == 0 {
			delete(h.subs, jobID)
		}
	}
	total := len(h.conns)
	h.mu.Unlock()

	_ = conn.Close()
	h.logger.Info("connection closed", logging.Int("connections", total))
}

// Subscribe adds a connection to a job's subscription set.
func (h *Hub) Subscribe(conn Conn, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[conn]; !live {
		return
	}
	subscribers := h.subs[jobID]
	if subscribers == nil {
		subscribers = make(map[Conn]struct{})
		h.subs[jobID] = subscribers
	}
	subscribers[conn] = struct{}{}
}

// Unsubscribe removes a connection from a job's subscription set.
func (h *Hub) Unsubscribe(conn Conn, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.subs[jobID]
	if subscribers == nil {
		return
	}
	delete(subscribers, conn)
	if len(subscribers) == 0 {
		delete(h.subs, jobID)
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends a message to every live connection, attaching a timestamp
// when absent. Connections whose send fails are pruned.
func (h *Hub) Broadcast(message Message) {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	h.deliver(targets, message)
}

// SendToJob sends a message to the subscribers of a job. When nobody has
// subscribed it falls back to Broadcast, which keeps single-consumer setups
// working without an explicit subscribe.
func (h *Hub) SendToJob(jobID string, message Message) {
	h.mu.Lock()
	subscribers := h.subs[jobID]
	targets := make([]Conn, 0, len(subscribers))
	for conn := range subscribers {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		h.Broadcast(message)
		return
	}
	h.deliver(targets, message)
}

// SendTo pushes a message to a single connection, pruning it on failure.
func (h *Hub) SendTo(conn Conn, message Message) {
	h.deliver([]Conn{conn}, message)
}

func (h *Hub) deliver(targets []Conn, message Message) {
	if len(targets) == 0 {
		return
	}
	message.stampNow()
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal push message failed", logging.Error(err))
		return
	}

	var failed []Conn
	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		err := conn.Send(ctx, data)
		cancel()
		if err != nil {
			h.logger.Debug("push send failed; pruning connection", logging.Error(err))
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		h.Disconnect(conn)
	}
}
