package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tpotp2p/internal/models"
)

// Publisher pushes order state changes to subscribers. Fire-and-forget:
// delivery is at-most-once and the UI reconciles via polling.
type Publisher interface {
	PublishOrderUpdate(order *models.Order)
}

// Nop discards updates; used in tests and the sweep worker.
type Nop struct{}

func (Nop) PublishOrderUpdate(*models.Order) {}

// OrderUpdate is the wire shape pushed to websocket subscribers.
type OrderUpdate struct {
	OrderID               string `json:"orderId"`
	Status                string `json:"status"`
	EscrowTxHash          string `json:"escrowTxHash,omitempty"`
	PaymentTxHash         string `json:"paymentTxHash,omitempty"`
	PaymentDetectedAmount string `json:"paymentDetectedAmount,omitempty"`
	UpdatedAt             string `json:"updatedAt"`
}

// Hub fans order updates out to websocket clients subscribed per order id.
// An empty order id subscribes to everything.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	orderID string
	send    chan OrderUpdate
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		orderID: r.URL.Query().Get("order_id"),
		send:    make(chan OrderUpdate, 16),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for upd := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteJSON(upd); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop only exists to notice disconnects; clients send nothing.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) PublishOrderUpdate(order *models.Order) {
	upd := OrderUpdate{
		OrderID:   order.ID,
		Status:    string(order.Status),
		UpdatedAt: order.UpdatedAt.Format(time.RFC3339),
	}
	if order.EscrowTxHash != nil {
		upd.EscrowTxHash = *order.EscrowTxHash
	}
	if order.PaymentTxHash != nil {
		upd.PaymentTxHash = *order.PaymentTxHash
	}
	if order.PaymentDetectedAmount != nil {
		upd.PaymentDetectedAmount = order.PaymentDetectedAmount.String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.orderID != "" && c.orderID != order.ID {
			continue
		}
		select {
		case c.send <- upd:
		default:
			// Slow consumer; it will catch up by polling.
		}
	}
}
