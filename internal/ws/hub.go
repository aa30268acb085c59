package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/predex/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// TokenParser verifies an access token. Implemented by service.AuthService.
type TokenParser interface {
	ParseAccessToken(token string) (domain.Caller, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte // buffered outbound message queue
	address string      // empty = anonymous
	market  uuid.UUID   // uuid.Nil = every market
}

// wants reports whether the client subscribed to marketID.
func (c *Client) wants(marketID uuid.UUID) bool {
	return c.market == uuid.Nil || c.market == marketID
}

// envelope is one message queued for broadcast.
type envelope struct {
	market uuid.UUID
	data   []byte
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients and routes broadcast messages.
// Run must be started before ServeWs is used. Hub implements
// notify.Publisher, so committed engine events reach clients directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	auth   TokenParser // optional; nil = all connections anonymous
	logger *slog.Logger

	// upgrader is safe for concurrent use after construction.
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run().
func NewHub(auth TokenParser, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       auth,
		logger:     logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration, and broadcast events
// sequentially until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(msg.market) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client's buffer full: drop the message for this client.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection. The caller is
// identified by an access token in ?token= (invalid tokens are refused) and
// may narrow the stream to one market with ?market=<id>.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	var address string
	if token := r.URL.Query().Get("token"); token != "" && h.auth != nil {
		caller, err := h.auth.ParseAccessToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		address = caller.Address
	}

	var market uuid.UUID
	if raw := r.URL.Query().Get("market"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid market id", http.StatusBadRequest)
			return
		}
		market = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		address: address,
		market:  market,
	}
	welcome := WelcomeMessage{Type: MsgTypeWelcome, Address: address}
	if market != uuid.Nil {
		welcome.MarketID = &market
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the connection drops, then unregisters the
// client. The protocol is server-push only; inbound messages are discarded.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("unexpected close", "address", c.address, "err", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// notify.Publisher
// ──────────────────────────────────────────────────────────────────────────────

// MarketResolved broadcasts a MarketResolvedMessage.
func (h *Hub) MarketResolved(_ context.Context, ev domain.MarketResolvedEvent) error {
	h.broadcastJSON(ev.MarketID, MarketResolvedMessage{
		Type:        MsgTypeMarketResolved,
		MarketID:    ev.MarketID,
		Outcome:     ev.Outcome,
		Status:      string(ev.Status),
		NetDeposits: ev.NetDeposits,
		Timestamp:   ev.Timestamp,
	})
	return nil
}

// OrderBookChanged broadcasts an OrderBookMessage.
func (h *Hub) OrderBookChanged(_ context.Context, ev domain.OrderBookChangedEvent) error {
	h.broadcastJSON(ev.MarketID, OrderBookMessage{
		Type:      MsgTypeOrderBook,
		MarketID:  ev.MarketID,
		Prices:    ev.Prices,
		Reason:    ev.Reason,
		Timestamp: ev.Timestamp,
	})
	return nil
}

// broadcastJSON is the common marshalling path. A full queue drops the
// message; clients refetch state on the next event.
func (h *Hub) broadcastJSON(market uuid.UUID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal error", "err", err)
		return
	}
	select {
	case h.broadcast <- envelope{market: market, data: data}:
	default:
		h.logger.Warn("broadcast channel full, message dropped", "market", market)
	}
}
