package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stock_monitor_backend/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	return newHubServerWith(t, HubOptions{})
}

func newHubServerWith(t *testing.T, opts HubOptions) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(opts)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readWire reads the next message, skipping nothing, and decodes the envelope.
func readWire(t *testing.T, conn *websocket.Conn) WireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WireMessage
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readWireOfType reads until a message of the wanted type arrives.
func readWireOfType(t *testing.T, conn *websocket.Conn, want MessageType) WireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readWire(t, conn)
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return WireMessage{}
}

func decodePayload(t *testing.T, msg WireMessage, out interface{}) {
	t.Helper()
	data, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestHub_ConnectionAck(t *testing.T) {
	_, srv := newHubServer(t)
	conn := dialHub(t, srv)

	msg := readWire(t, conn)
	assert.Equal(t, MessageConnection, msg.Type)
	assert.NotEmpty(t, msg.Timestamp)

	var payload ConnectionPayload
	decodePayload(t, msg, &payload)
	assert.NotEmpty(t, payload.ClientID)
	assert.NotEmpty(t, payload.Message)
}

func TestHub_PingPong(t *testing.T) {
	_, srv := newHubServer(t)
	conn := dialHub(t, srv)
	readWire(t, conn) // CONNECTION ack

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: ClientMessagePing}))
	msg := readWireOfType(t, conn, MessagePong)
	assert.Equal(t, MessagePong, msg.Type)
}

func TestHub_UnknownMessageType(t *testing.T) {
	_, srv := newHubServer(t)
	conn := dialHub(t, srv)
	readWire(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "SUBSCRIBE"}))
	msg := readWireOfType(t, conn, MessageError)

	var payload ErrorPayload
	decodePayload(t, msg, &payload)
	assert.Contains(t, payload.Error, "SUBSCRIBE")

	// The connection stays open: a subsequent ping still works.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: ClientMessagePing}))
	readWireOfType(t, conn, MessagePong)
}

func TestHub_MalformedMessage(t *testing.T) {
	_, srv := newHubServer(t)
	conn := dialHub(t, srv)
	readWire(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readWireOfType(t, conn, MessageError)

	var payload ErrorPayload
	decodePayload(t, msg, &payload)
	assert.Equal(t, "malformed message", payload.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: ClientMessagePing}))
	readWireOfType(t, conn, MessagePong)
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub, srv := newHubServer(t)

	conn1 := dialHub(t, srv)
	conn2 := dialHub(t, srv)
	readWire(t, conn1)
	readWire(t, conn2)

	waitForClients(t, hub, 2)

	stocks := []models.StockSnapshot{snap("AAPL", 1, 102, 7, 10000, time.Now())}
	hub.BroadcastStocksUpdate(stocks, nil, nil)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readWireOfType(t, conn, MessageStocksUpdate)
		var payload StocksUpdatePayload
		decodePayload(t, msg, &payload)
		require.Len(t, payload.Stocks, 1)
		assert.Equal(t, "AAPL", payload.Stocks[0].Symbol)
	}
}

func TestHub_RequestLatestData(t *testing.T) {
	hub, srv := newHubServer(t)

	// Seed the latest data set before the client connects.
	stocks := []models.StockSnapshot{snap("TSLA", 1, 200, 10, 20000, time.Now())}
	hub.BroadcastStocksUpdate(stocks, nil, nil)

	conn := dialHub(t, srv)
	readWire(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: ClientMessageRequestLatest}))
	msg := readWireOfType(t, conn, MessageStocksUpdate)

	var payload StocksUpdatePayload
	decodePayload(t, msg, &payload)
	require.Len(t, payload.Stocks, 1)
	assert.Equal(t, "TSLA", payload.Stocks[0].Symbol)
}

func TestHub_CatchUpAfterConnect(t *testing.T) {
	hub, srv := newHubServer(t)

	stocks := []models.StockSnapshot{snap("MSFT", 1, 300, 3, 30000, time.Now())}
	hub.BroadcastStocksUpdate(stocks, nil, nil)

	// A client connecting after the broadcast still receives the latest data
	// set without asking, once the catch-up delay elapses.
	conn := dialHub(t, srv)
	readWire(t, conn)

	msg := readWireOfType(t, conn, MessageStocksUpdate)
	var payload StocksUpdatePayload
	decodePayload(t, msg, &payload)
	require.Len(t, payload.Stocks, 1)
	assert.Equal(t, "MSFT", payload.Stocks[0].Symbol)
}

func TestHub_AlertBroadcast(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	readWire(t, conn)

	waitForClients(t, hub, 1)

	stock := snap("NVDA", 1, 500, 25, 50000, time.Now())
	hub.BroadcastAlert(AlertEvent{
		Stock:     stock,
		AlertType: AlertHighGain,
		Message:   "NVDA is up 25.00% today",
	})

	msg := readWireOfType(t, conn, MessageAlert)
	var payload AlertPayload
	decodePayload(t, msg, &payload)
	assert.Equal(t, "NVDA", payload.Stock.Symbol)
	assert.Equal(t, AlertHighGain, payload.AlertType)
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialHub(t, srv)
	readWire(t, conn)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_HeartbeatEvictsUnresponsiveClient(t *testing.T) {
	hub, srv := newHubServerWith(t, HubOptions{HeartbeatInterval: 50 * time.Millisecond})
	conn := dialHub(t, srv)

	// Swallow server pings instead of answering them, simulating a client
	// whose transport is up but whose peer has stopped responding.
	conn.SetPingHandler(func(string) error { return nil })

	received := make(chan MessageType, 32)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg WireMessage
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if json.Unmarshal(data, &msg) == nil {
				received <- msg.Type
			}
		}
	}()

	waitForClients(t, hub, 1)

	// Two sweeps without a pong: the first disarms the flag, the second
	// evicts and closes the socket.
	waitForClients(t, hub, 0)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed after eviction")
	}

	// An evicted client receives no further broadcasts.
	hub.BroadcastStocksUpdate([]models.StockSnapshot{snap("AAPL", 1, 100, 5, 10000, time.Now())}, nil, nil)
	close(received)
	for msgType := range received {
		assert.NotEqual(t, MessageStocksUpdate, msgType)
	}
}

func TestHub_SlowClientEvictedWithoutStallingBroadcast(t *testing.T) {
	hub := NewHub(HubOptions{SendBuffer: 1})
	t.Cleanup(hub.Shutdown)

	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.HandleWebSocket)
	// A connection registered without pumps: its send buffer never drains, so
	// the second broadcast to it must fail and evict it mid-pass.
	mux.HandleFunc("/stalled", func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.register <- &WSClient{
			id:    "stalled",
			conn:  conn,
			send:  make(chan []byte, hub.sendBuffer),
			alive: true,
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	healthy := dialHub(t, srv)
	readWire(t, healthy) // CONNECTION ack

	stalledURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stalled"
	stalled, _, err := websocket.DefaultDialer.Dial(stalledURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { stalled.Close() })

	waitForClients(t, hub, 2)

	stock := snap("NVDA", 1, 500, 25, 50000, time.Now())
	hub.BroadcastAlert(AlertEvent{Stock: stock, AlertType: AlertHighGain, Message: "first"})

	// Reading the first alert client-side guarantees the healthy client's
	// buffer is drained before the next pass.
	first := readWireOfType(t, healthy, MessageAlert)
	var payload AlertPayload
	decodePayload(t, first, &payload)
	assert.Equal(t, "first", payload.Message)

	hub.BroadcastAlert(AlertEvent{Stock: stock, AlertType: AlertHighGain, Message: "second"})

	// Delivery to the healthy client continues; the stalled one is evicted in
	// the same pass.
	second := readWireOfType(t, healthy, MessageAlert)
	decodePayload(t, second, &payload)
	assert.Equal(t, "second", payload.Message)

	waitForClients(t, hub, 1)
}

func TestHub_BroadcastAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(HubOptions{})
	hub.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the broadcast buffer capacity; without the shutdown guard
		// this would park the goroutine.
		for i := 0; i < 300; i++ {
			hub.BroadcastStatus(ScrapingSuccess, "late cycle", nil)
		}
		hub.BroadcastStocksUpdate([]models.StockSnapshot{snap("AAPL", 1, 100, 5, 10000, time.Now())}, nil, nil)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked after shutdown")
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d, got %d", want, hub.GetClientCount())
}
