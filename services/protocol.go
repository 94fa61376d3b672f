package services

import (
	"encoding/json"
	"time"

	"stock_monitor_backend/models"
)

// MessageType enumerates the server->client message kinds. The set is closed:
// every message on the wire is one of these with its fixed payload shape.
type MessageType string

const (
	MessageConnection     MessageType = "CONNECTION"
	MessageStocksUpdate   MessageType = "STOCKS_UPDATE"
	MessageAlert          MessageType = "ALERT"
	MessageScrapingStatus MessageType = "SCRAPING_STATUS"
	MessageError          MessageType = "ERROR"
	MessagePong           MessageType = "PONG"
)

// Client->server message types
const (
	ClientMessagePing          = "PING"
	ClientMessageRequestLatest = "REQUEST_LATEST_DATA"
)

// Scraping status values carried in SCRAPING_STATUS payloads
const (
	ScrapingStarted = "STARTED"
	ScrapingSuccess = "SUCCESS"
	ScrapingError   = "ERROR"
)

// WireMessage is the envelope for every server->client message
type WireMessage struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// ConnectionPayload acknowledges a new connection
type ConnectionPayload struct {
	ClientID   string `json:"clientId"`
	Message    string `json:"message"`
	ServerTime string `json:"serverTime"`
}

// StocksUpdatePayload carries one cycle's full snapshot batch and its updates
type StocksUpdatePayload struct {
	Stocks         []models.StockSnapshot `json:"stocks"`
	Updates        []models.StockUpdate   `json:"updates"`
	ScrapingResult *models.ScrapeRecord   `json:"scrapingResult,omitempty"`
}

// AlertPayload carries a single alert event
type AlertPayload struct {
	Stock     models.StockSnapshot `json:"stock"`
	Update    *models.StockUpdate  `json:"update,omitempty"`
	AlertType string               `json:"alertType"`
	Message   string               `json:"message"`
}

// ScrapingStatusPayload reports cycle progress to clients
type ScrapingStatusPayload struct {
	Status  string     `json:"status"` // STARTED, SUCCESS, ERROR
	Message string     `json:"message"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// ErrorPayload reports a per-client protocol error
type ErrorPayload struct {
	Error string `json:"error"`
}

// ClientMessage is the shape of messages clients send to the server
type ClientMessage struct {
	Type string `json:"type"`
}

// newWireMessage builds and serializes a wire message. Marshal errors are not
// expected since all payload shapes are plain data; they surface as nil bytes
// which callers skip.
func newWireMessage(msgType MessageType, payload interface{}) []byte {
	msg := WireMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
