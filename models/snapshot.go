package models

import (
	"time"

	"gorm.io/gorm"
)

// ChangeType classifies how a stock moved between two consecutive snapshots
type ChangeType string

const (
	ChangeNew           ChangeType = "NEW"
	ChangePriceIncrease ChangeType = "PRICE_INCREASE"
	ChangePriceDecrease ChangeType = "PRICE_DECREASE"
	ChangeRankChange    ChangeType = "RANK_CHANGE"
	// ChangeRemoved is part of the taxonomy but the classifier never emits it:
	// symbols that drop out of the scraped list simply stop producing updates.
	ChangeRemoved ChangeType = "REMOVED"
)

// String returns the string representation of ChangeType
func (c ChangeType) String() string {
	return string(c)
}

// StockSnapshot represents one stock's market data captured at one scrape cycle.
// Rows are immutable once persisted; (symbol, timestamp) identifies a row and
// the latest batch is the set of rows sharing the max timestamp.
type StockSnapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Symbol        string    `gorm:"index:idx_symbol_ts;not null" json:"symbol"`
	CompanyName   string    `json:"companyName"`
	PercentChange float64   `json:"percentChange"`
	Price         float64   `json:"price"`
	Volume        int64     `json:"volume"`
	MarketCap     string    `json:"marketCap"` // as displayed by the source, e.g. "1.2B"
	Rank          int       `gorm:"not null" json:"rank"` // 1-based, contiguous within a batch
	Timestamp     time.Time `gorm:"index:idx_symbol_ts;index" json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
}

// StockUpdate pairs a current snapshot with its nearest preceding one and the
// classified change between them. Updates are derived per cycle and never
// persisted or mutated.
type StockUpdate struct {
	Previous      *StockSnapshot `json:"previous,omitempty"`
	Current       StockSnapshot  `json:"current"`
	ChangeType    ChangeType     `json:"changeType"`
	ChangeAmount  *float64       `json:"changeAmount,omitempty"`
	ChangePercent *float64       `json:"changePercent,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Scrape cycle outcome statuses
const (
	ScrapeStatusSuccess = "SUCCESS"
	ScrapeStatusError   = "ERROR"
)

// ScrapeRecord captures the outcome of one scrape cycle, success or failure.
type ScrapeRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Status      string    `gorm:"not null" json:"status"` // SUCCESS, ERROR
	Message     string    `json:"message"`
	StockCount  int       `json:"stock_count"`
	UpdateCount int       `json:"update_count"`
	AlertCount  int       `json:"alert_count"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// MigrateSnapshotModels runs database migrations for snapshot-related models
func MigrateSnapshotModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockSnapshot{},
		&ScrapeRecord{},
	)
}
