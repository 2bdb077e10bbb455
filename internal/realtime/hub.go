// Package realtime fans job, frame, and credit events out to websocket
// subscribers. Publishing never blocks: a subscriber that cannot keep up is
// dropped.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screenloom/backend/internal/models"
)

const clientBuffer = 64

// Envelope wraps every event on the wire with its type.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps websocket subscribers per user and fans events out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[uuid.UUID]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeWS upgrades the request and subscribes the connection to the given
// user's events until the peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(userID, c)

	go h.writePump(userID, c)
	h.readPump(userID, c)
}

func (h *Hub) register(userID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID uuid.UUID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
		}
	}
}

func (h *Hub) writePump(userID uuid.UUID, c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(userID, c)
			return
		}
	}
}

// readPump drains the connection to notice closes; subscribers never send
// meaningful frames.
func (h *Hub) readPump(userID uuid.UUID, c *client) {
	defer h.unregister(userID, c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends one typed event to every subscriber of the user. Slow
// subscribers are dropped rather than blocking the publisher.
func (h *Hub) Publish(userID uuid.UUID, eventType string, payload any) {
	msg, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("marshal event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[userID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow subscriber", "user_id", userID, "type", eventType)
		h.unregister(userID, c)
	}
}

// The hub implements the orchestrator and ledger notifier contracts.

func (h *Hub) JobStatus(ev models.JobStatusEvent) {
	h.Publish(ev.UserID, "job-status", ev)
}

func (h *Hub) FrameUpdate(ev models.FrameEvent) {
	h.Publish(ev.UserID, "frame-update", ev)
}

func (h *Hub) BalanceUpdated(ev models.BalanceEvent) {
	h.Publish(ev.AccountID, "balance-update", ev)
}

func (h *Hub) TransactionRecorded(ev models.CreditEvent) {
	h.Publish(ev.AccountID, "transaction", ev)
}

func (h *Hub) SummaryDelta(ev models.CreditEvent) {
	h.Publish(ev.AccountID, "summary-delta", ev)
}
