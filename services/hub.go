package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"stock_monitor_backend/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Constants for hub configuration
const (
	MaxWebSocketClients   = 500
	WebSocketWriteTimeout = 10 * time.Second
	HeartbeatInterval     = 30 * time.Second
	CatchUpDelay          = 500 * time.Millisecond
	ClientSendBuffer      = 256
)

// WSClient represents one live WebSocket connection.
type WSClient struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	connectedAt  time.Time
	pingInterval time.Duration

	mu     sync.Mutex
	alive  bool
	closed bool
}

func (c *WSClient) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *WSClient) setAlive(alive bool) {
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

// enqueue hands a serialized message to the client's writer. A full send
// buffer or an already-closed client reports failure so the caller can evict.
// The client mutex serializes enqueue against closeSend, so a send can never
// hit a closed channel.
func (c *WSClient) enqueue(data []byte) bool {
	if data == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub manages the registry of connected clients, fans events out to all of
// them, and runs heartbeat liveness checks. One misbehaving connection only
// ever affects itself: send failures evict that client and delivery to the
// rest continues.
type Hub struct {
	clients    map[string]*WSClient
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan []byte
	shutdown   chan struct{}
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	heartbeatInterval time.Duration
	sendBuffer        int

	// Latest known snapshot+update set, kept for catch-up sync and
	// REQUEST_LATEST_DATA. Best effort: may trail an in-flight cycle.
	latestMu     sync.RWMutex
	latestUpdate *StocksUpdatePayload
}

// HubOptions configures a Hub. Zero values fall back to the package defaults.
type HubOptions struct {
	HeartbeatInterval time.Duration
	SendBuffer        int
}

// NewHub creates the hub and starts its event loop.
func NewHub(opts HubOptions) *Hub {
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = ClientSendBuffer
	}

	h := &Hub{
		clients:    make(map[string]*WSClient),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan []byte, 256),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),

		heartbeatInterval: interval,
		sendBuffer:        buffer,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	go h.run()

	log.Println("Distribution hub started")
	return h
}

// run is the hub event loop: registrations, disconnects, fan-out and the
// heartbeat sweep all funnel through here.
func (h *Hub) run() {
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer func() {
		heartbeat.Stop()
		close(h.done)
	}()

	for {
		select {
		case <-h.shutdown:
			return

		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= MaxWebSocketClients {
				h.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", MaxWebSocketClients)
				continue
			}
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client %s connected. Total clients: %d", client.id, clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client %s disconnected. Total clients: %d", client.id, clientCount)

		case data := <-h.broadcast:
			// Snapshot the client list before iterating so concurrent
			// connects/disconnects cannot tear the pass.
			for _, client := range h.clientList() {
				if !client.enqueue(data) {
					h.evict(client, "send buffer full")
				}
			}

		case <-heartbeat.C:
			h.sweepClients()
		}
	}
}

// sweepClients evicts every client that has not answered the previous ping
// and arms the rest for the next one. The ping frames themselves go out from
// each client's writer on the same interval.
func (h *Hub) sweepClients() {
	for _, client := range h.clientList() {
		if !client.isAlive() {
			h.evict(client, "heartbeat timeout")
			continue
		}
		client.setAlive(false)
	}
}

// clientList returns a point-in-time copy of the registry values.
func (h *Hub) clientList() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*WSClient, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	return list
}

// evict forcibly removes one client. Closing the socket makes its readPump
// exit, which is harmless after the registry delete.
func (h *Hub) evict(client *WSClient, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		client.closeSend()
	}
	h.mu.Unlock()
	client.conn.Close()
	log.Printf("WebSocket client %s evicted: %s", client.id, reason)
}

// HandleWebSocket upgrades an HTTP request into a hub connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxWebSocketClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &WSClient{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, h.sendBuffer),
		connectedAt:  time.Now(),
		pingInterval: h.heartbeatInterval,
		alive:        true,
	}

	h.register <- client

	go client.writePump()
	go h.readPump(client)

	client.enqueue(newWireMessage(MessageConnection, ConnectionPayload{
		ClientID:   client.id,
		Message:    "Connected to stock monitor",
		ServerTime: time.Now().Format(time.RFC3339),
	}))

	// Catch-up sync: after a short delay, unicast the latest known data set
	// if one exists. May race with an in-flight cycle; no guarantee beyond
	// "latest known at send time".
	time.AfterFunc(CatchUpDelay, func() {
		h.sendLatestTo(client)
	})
}

// sendLatestTo unicasts the latest known snapshot+update set to one client.
func (h *Hub) sendLatestTo(client *WSClient) {
	h.latestMu.RLock()
	latest := h.latestUpdate
	h.latestMu.RUnlock()

	if latest == nil {
		return
	}
	if !client.enqueue(newWireMessage(MessageStocksUpdate, *latest)) {
		h.evict(client, "send buffer full")
	}
}

// writePump writes queued messages and periodic pings to the connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and answers the client->server protocol.
// Protocol violations get an ERROR ack; the connection stays open.
func (h *Hub) readPump(client *WSClient) {
	defer func() {
		h.unregister <- client
		client.conn.Close()
	}()

	client.conn.SetReadLimit(1024)
	client.conn.SetPongHandler(func(string) error {
		client.setAlive(true)
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error from %s: %v", client.id, err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.enqueue(newWireMessage(MessageError, ErrorPayload{Error: "malformed message"}))
			continue
		}

		switch msg.Type {
		case ClientMessagePing:
			client.setAlive(true)
			client.enqueue(newWireMessage(MessagePong, struct{}{}))
		case ClientMessageRequestLatest:
			h.sendLatestTo(client)
		default:
			client.enqueue(newWireMessage(MessageError, ErrorPayload{
				Error: "unknown message type: " + msg.Type,
			}))
		}
	}
}

// BroadcastStocksUpdate fans one cycle's full data set out to all clients and
// remembers it for catch-up sync.
func (h *Hub) BroadcastStocksUpdate(stocks []models.StockSnapshot, updates []models.StockUpdate, result *models.ScrapeRecord) {
	payload := StocksUpdatePayload{
		Stocks:         stocks,
		Updates:        updates,
		ScrapingResult: result,
	}

	h.latestMu.Lock()
	h.latestUpdate = &payload
	h.latestMu.Unlock()

	h.publish(newWireMessage(MessageStocksUpdate, payload))
}

// BroadcastAlert fans one alert event out to all clients.
func (h *Hub) BroadcastAlert(event AlertEvent) {
	h.publish(newWireMessage(MessageAlert, AlertPayload{
		Stock:     event.Stock,
		Update:    event.Update,
		AlertType: event.AlertType,
		Message:   event.Message,
	}))
}

// BroadcastStatus fans a scraping status message out to all clients.
func (h *Hub) BroadcastStatus(status, message string, nextRun *time.Time) {
	h.publish(newWireMessage(MessageScrapingStatus, ScrapingStatusPayload{
		Status:  status,
		Message: message,
		NextRun: nextRun,
	}))
}

// publish hands a serialized message to the event loop. After Shutdown the
// loop no longer drains the channel, so a cycle finishing late must not park
// here; its messages are dropped instead.
func (h *Hub) publish(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.shutdown:
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown stops the heartbeat, closes every client connection and returns
// once the event loop has exited.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done

	h.mu.Lock()
	for id, client := range h.clients {
		client.closeSend()
		client.conn.Close()
		delete(h.clients, id)
	}
	h.mu.Unlock()

	log.Println("Distribution hub shutdown complete")
}
