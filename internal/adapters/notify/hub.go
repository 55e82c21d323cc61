package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

const (
	StaffChannel = "staff"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

var errHubStopped = errors.New("notification hub stopped")

func OrderChannel(orderID string) string { return "order:" + orderID }

type Message struct {
	Type             string   `json:"type"`
	OrderID          string   `json:"order_id,omitempty"`
	OrderIDs         []string `json:"order_ids,omitempty"`
	Status           string   `json:"status,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
	Note             string   `json:"note,omitempty"`
	Total            string   `json:"total,omitempty"`
	At               string   `json:"at"`
}

type envelope struct {
	channels []string
	payload  []byte
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	channels []string
	send     chan []byte
}

// Hub fans notifications out to websocket subscribers. A subscriber whose buffer is full
// is dropped rather than blocking the publisher.
type Hub struct {
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan envelope
	done       chan struct{}
	mu         sync.Mutex
	stopped    bool
	clients    map[*client]struct{}
	byChannel  map[string]map[*client]struct{}
	wg         sync.WaitGroup
	active     atomic.Int64
	now        func() time.Time
}

func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		byChannel:  make(map[string]map[*client]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run owns the subscriber maps until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			h.mu.Unlock()
			close(h.done)
			for c := range h.clients {
				h.drop(c)
			}
			h.wg.Wait()
			return ctx.Err()
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.active.Add(1)
			for _, ch := range c.channels {
				if h.byChannel[ch] == nil {
					h.byChannel[ch] = make(map[*client]struct{})
				}
				h.byChannel[ch][c] = struct{}{}
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case env := <-h.broadcast:
			seen := make(map[*client]struct{})
			for _, ch := range env.channels {
				for c := range h.byChannel[ch] {
					if _, dup := seen[c]; dup {
						continue
					}
					seen[c] = struct{}{}
					select {
					case c.send <- env.payload:
					default:
						h.drop(c)
					}
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	h.active.Add(-1)
	for _, ch := range c.channels {
		delete(h.byChannel[ch], c)
		if len(h.byChannel[ch]) == 0 {
			delete(h.byChannel, ch)
		}
	}
	close(c.send)
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int { return int(h.active.Load()) }

// ServeWS upgrades the request and subscribes the connection to channels.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channels []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"module", "notify.hub",
			"layer", "adapter",
			"operation", "serve_ws",
			"outcome", "failure",
			"error", err,
		)
		return
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.wg.Add(2)
	h.mu.Unlock()

	c := &client{hub: h, conn: conn, channels: channels, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		h.wg.Add(-2)
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) publish(ctx context.Context, msg Message, channels ...string) error {
	msg.At = h.now().Format(time.RFC3339)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	select {
	case <-h.done:
		return errHubStopped
	default:
	}
	select {
	case h.broadcast <- envelope{channels: channels, payload: payload}:
		return nil
	case <-h.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) NotifyOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, estimatedMinutes int, note string) error {
	return h.publish(ctx, Message{
		Type:             "order.status",
		OrderID:          orderID,
		Status:           string(status),
		EstimatedMinutes: estimatedMinutes,
		Note:             note,
	}, OrderChannel(orderID), StaffChannel)
}

func (h *Hub) NotifyOrderCreated(ctx context.Context, order domain.Order) error {
	return h.publish(ctx, Message{
		Type:             "order.created",
		OrderID:          order.ID,
		Status:           string(order.Status),
		EstimatedMinutes: order.EstimatedWaitMinutes,
		Total:            order.Totals.Total.StringFixed(domain.MoneyPlaces),
	}, OrderChannel(order.ID), StaffChannel)
}

func (h *Hub) NotifyOrderCancelled(ctx context.Context, orderID, reason string) error {
	return h.publish(ctx, Message{
		Type:    "order.cancelled",
		OrderID: orderID,
		Status:  string(domain.OrderStatusCancelled),
		Note:    reason,
	}, OrderChannel(orderID), StaffChannel)
}

func (h *Hub) NotifyBatch(ctx context.Context, orderIDs []string, action string) error {
	channels := make([]string, 0, len(orderIDs)+1)
	for _, id := range orderIDs {
		channels = append(channels, OrderChannel(id))
	}
	channels = append(channels, StaffChannel)
	return h.publish(ctx, Message{Type: "order.batch", OrderIDs: orderIDs, Note: action}, channels...)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Inbound frames are ignored; reading keeps control frames flowing.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.wg.Done()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
