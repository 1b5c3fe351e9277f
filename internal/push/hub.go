// Package push delivers ledger state changes to connected clients over
// WebSocket. Each user may hold several connections; every event is sent
// to all of them.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade-api/internal/auth"
	"github.com/papertrade/papertrade-api/internal/types"
)

// Message is a JSON message pushed to WebSocket clients.
type Message struct {
	Type     string          `json:"type"`
	Order    *types.Order    `json:"order,omitempty"`
	Trade    *types.Trade    `json:"trade,omitempty"`
	Snapshot *types.Snapshot `json:"snapshot,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Message types.
const (
	TypeOrderPlaced    = "order_placed"
	TypeOrderFilled    = "order_filled"
	TypeOrderCancelled = "order_cancelled"
	TypeSnapshot       = "snapshot"
	TypeError          = "error"
	TypePong           = "pong"
)

const (
	// writeWait bounds every write so a dead peer cannot hold its pump.
	writeWait = 10 * time.Second

	// sendBuffer is the per-connection message queue. Ledger events are
	// emitted while the user's ledger lock is held, so delivery must
	// never block: a full queue drops the message instead.
	sendBuffer = 64
)

// SnapshotSource produces the full ledger projection pushed after state
// changes.
type SnapshotSource interface {
	Snapshot(ctx context.Context, userID uint) (*types.Snapshot, error)
}

// client is one WebSocket connection. All writes go through the send
// queue and its pump goroutine; nothing writes to conn directly.
type client struct {
	userID uint
	conn   *websocket.Conn
	send   chan []byte
}

// writePump drains the send queue onto the connection. On a write error
// it keeps draining so queued sends are discarded rather than piling up.
func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			for range c.send {
			}
			return
		}
	}
}

// enqueue queues one message for this connection, dropping it if the
// queue is full.
func (c *client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal push message")
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Hub tracks WebSocket connections per user and fans messages out to
// them.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[uint]map[*client]bool)}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]bool)
	}
	h.clients[c.userID][c] = true
	log.Info().Uint("user_id", c.userID).Int("connections", len(h.clients[c.userID])).Msg("ws client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.userID]; ok && conns[c] {
		delete(conns, c)
		close(c.send)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

// SendToUser queues one message for every connection the user holds. It
// never blocks: a slow connection loses the message and catches up on
// the next snapshot push.
func (h *Hub) SendToUser(userID uint, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal push message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP API already controls access via JWT; the same token gates
	// the upgrade below.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request to a WebSocket connection.
// The JWT travels in the "token" query parameter because browsers cannot
// set headers on WebSocket dials. Inbound frames support ping and
// get_snapshot, answered on the requesting connection only; everything
// else is push-only.
func (h *Hub) ServeWS(authSvc *auth.Service, snapshots SnapshotSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authSvc.ValidateToken(c.Query("token"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade failed")
			return
		}
		cl := &client{
			userID: claims.UserID,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
		}
		h.register(cl)
		defer h.unregister(cl)
		go cl.writePump()

		// Initial snapshot so the client renders without a round trip.
		snapshotTo(c.Request.Context(), snapshots, cl)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				cl.enqueue(Message{Type: TypeError, Message: "unknown message"})
				continue
			}
			switch req.Type {
			case "ping":
				cl.enqueue(Message{Type: TypePong})
			case "get_snapshot":
				snapshotTo(c.Request.Context(), snapshots, cl)
			default:
				cl.enqueue(Message{Type: TypeError, Message: "unknown message"})
			}
		}
	}
}

// snapshotTo assembles the user's snapshot and queues it on a single
// connection.
func snapshotTo(ctx context.Context, snapshots SnapshotSource, c *client) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := snapshots.Snapshot(ctx, c.userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", c.userID).Msg("failed to assemble snapshot for push")
		return
	}
	c.enqueue(Message{Type: TypeSnapshot, Snapshot: snap})
}

func (h *Hub) pushSnapshot(ctx context.Context, snapshots SnapshotSource, userID uint) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := snapshots.Snapshot(ctx, userID)
	if err != nil {
		log.Error().Err(err).Uint("user_id", userID).Msg("failed to assemble snapshot for push")
		return
	}
	h.SendToUser(userID, Message{Type: TypeSnapshot, Snapshot: snap})
}

// LedgerNotifier adapts the hub to the ledger's event hooks. Events are
// queued immediately; the refreshed snapshot follows asynchronously so
// event emission never blocks a ledger operation.
type LedgerNotifier struct {
	hub       *Hub
	snapshots SnapshotSource
}

// NewLedgerNotifier wires a hub and snapshot source together.
func NewLedgerNotifier(hub *Hub, snapshots SnapshotSource) *LedgerNotifier {
	return &LedgerNotifier{hub: hub, snapshots: snapshots}
}

func (n *LedgerNotifier) OrderPlaced(userID uint, order *types.Order) {
	n.hub.SendToUser(userID, Message{Type: TypeOrderPlaced, Order: order})
	n.refresh(userID)
}

func (n *LedgerNotifier) OrderFilled(userID uint, order *types.Order, trade *types.Trade) {
	n.hub.SendToUser(userID, Message{Type: TypeOrderFilled, Order: order, Trade: trade})
	n.refresh(userID)
}

func (n *LedgerNotifier) OrderCancelled(userID uint, order *types.Order) {
	n.hub.SendToUser(userID, Message{Type: TypeOrderCancelled, Order: order})
	n.refresh(userID)
}

func (n *LedgerNotifier) refresh(userID uint) {
	go n.hub.pushSnapshot(context.Background(), n.snapshots, userID)
}
