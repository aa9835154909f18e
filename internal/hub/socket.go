package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"nhooyr.io/websocket"

	"kiln/internal/logging"
	"kiln/internal/queue"
)

// wsConn adapts a websocket connection to the hub's Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// inboundMessage is the protocol clients speak to the hub.
type inboundMessage struct {
	Action string `json:"action"`
	JobID  string `json:"job_id,omitempty"`
}

// SocketServer upgrades HTTP requests to websocket connections and drives
// the inbound subscribe/unsubscribe/request_status/ping protocol.
type SocketServer struct {
	hub         *Hub
	queueStatus func() queue.StatusSnapshot
	logger      *slog.Logger
}

// NewSocketServer constructs the websocket endpoint for a hub. queueStatus
// supplies the snapshot pushed on connect and on request_status.
func NewSocketServer(h *Hub, queueStatus func() queue.StatusSnapshot, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		hub:         h,
		queueStatus: queueStatus,
		logger:      logging.NewComponentLogger(logger, "hub_socket"),
	}
}

// ServeHTTP implements the /ws endpoint.
func (s *SocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", logging.Error(err))
		return
	}

	conn := &wsConn{conn: socket}
	s.hub.Connect(conn)
	defer s.hub.Disconnect(conn)

	// Initial status push so new observers have a current queue view.
	s.hub.SendTo(conn, QueueStatusMessage(s.queueStatus()))

	ctx := r.Context()
	for {
		kind, data, err := socket.Read(ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageText {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.hub.SendTo(conn, ErrorMessage("protocol", "invalid message"))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(msg.Action)) {
		case "subscribe":
			if msg.JobID != "" {
				s.hub.Subscribe(conn, msg.JobID)
			}
		case "unsubscribe":
			if msg.JobID != "" {
				s.hub.Unsubscribe(conn, msg.JobID)
			}
		case "request_status":
			s.hub.SendTo(conn, QueueStatusMessage(s.queueStatus()))
		case "ping":
			s.hub.SendTo(conn, PongMessage())
		default:
			s.hub.SendTo(conn, ErrorMessage("protocol", "unknown action "+msg.Action))
		}
	}
}
