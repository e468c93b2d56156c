package serve

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 32
)

// upgrader upgrades admin API connections to websockets. Origin checks are
// skipped: the route sits behind the admin bearer credential.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsMessage is the frame published to subscribers.
type wsMessage struct {
	Topic     string      `json:"topic"`
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// wsClient is one connected subscriber with a buffered outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans pool events out to websocket subscribers. Slow clients are
// dropped rather than ever blocking a publisher.
type WSHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewWSHub creates an empty hub.
func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]struct{})}
}

// Publish broadcasts an event to all connected clients. Never blocks: a
// client with a full queue is disconnected.
func (h *WSHub) Publish(topic, event string, payload interface{}) {
	msg := wsMessage{
		Topic:     topic,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WS: marshaling event failed topic=%s event=%s err=%v", topic, event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("WS: dropping slow client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Record implements pool.EventSink, mirroring lifecycle events onto the
// event stream.
func (h *WSHub) Record(accountID, event, detail string) {
	h.Publish("pool", event, map[string]string{
		"account_id": accountID,
		"detail":     detail,
	})
}

// ClientCount returns the number of connected subscribers.
func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and rejects future registrations.
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// register adds a subscriber; returns false when the hub is closed.
func (h *WSHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes a subscriber if still present.
func (h *WSHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleWS upgrades the connection and streams pool events until the client
// disconnects.
// GET /api/v1/ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Printf("WS: upgrade failed request_id=%s err=%v", reqID, err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	if !s.wsHub.register(client) {
		conn.Close()
		return
	}
	log.Printf("WS: client connected request_id=%s", reqID)

	go client.writePump()

	// Read loop: inbound frames are ignored; its only job is detecting
	// disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.wsHub.unregister(client)
	conn.Close()
	log.Printf("WS: client disconnected request_id=%s", reqID)
}

// writePump drains the send queue onto the wire until the queue closes.
func (c *wsClient) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}
