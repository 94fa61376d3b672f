package services

import (
	"errors"
	"fmt"
	"time"

	"stock_monitor_backend/models"

	"gorm.io/gorm"
)

// SnapshotStore is the persistence surface the monitor pipeline depends on.
type SnapshotStore interface {
	// AppendBatch writes a snapshot batch and its scrape record in one
	// transaction: all rows or none. A nil/empty batch records only the
	// scrape result (used for failed cycles).
	AppendBatch(batch []models.StockSnapshot, result *models.ScrapeRecord) error
	// Latest returns the rows of the most recent batch ordered by rank.
	Latest(limit int) ([]models.StockSnapshot, error)
	// History returns rows for one symbol, most recent first.
	History(symbol string, limit int) ([]models.StockSnapshot, error)
	// MostRecentBefore returns the nearest persisted snapshot for the symbol
	// preceding the given timestamp, or nil when the symbol has no history.
	MostRecentBefore(symbol string, ts time.Time) (*models.StockSnapshot, error)
	// Prune deletes snapshots and scrape records older than the retention
	// window and returns the number of snapshot rows removed.
	Prune(olderThanDays int) (int64, error)
}

// AlertRuleStore provides the enabled rule set at evaluation time.
type AlertRuleStore interface {
	ActiveRules() ([]models.AlertRule, error)
}

// GormStore implements SnapshotStore and AlertRuleStore on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store bound to the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AppendBatch persists the batch and the scrape record transactionally.
func (s *GormStore) AppendBatch(batch []models.StockSnapshot, result *models.ScrapeRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(batch) > 0 {
			if err := tx.Create(&batch).Error; err != nil {
				return fmt.Errorf("failed to insert snapshot batch: %w", err)
			}
		}
		if result != nil {
			if err := tx.Create(result).Error; err != nil {
				return fmt.Errorf("failed to insert scrape record: %w", err)
			}
		}
		return nil
	})
}

// Latest returns the most recent batch ordered by rank.
func (s *GormStore) Latest(limit int) ([]models.StockSnapshot, error) {
	var latest models.StockSnapshot
	err := s.db.Order("timestamp DESC").First(&latest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rows []models.StockSnapshot
	q := s.db.Where("timestamp = ?", latest.Timestamp).Order("rank ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// History returns rows for one symbol, most recent first.
func (s *GormStore) History(symbol string, limit int) ([]models.StockSnapshot, error) {
	var rows []models.StockSnapshot
	q := s.db.Where("symbol = ?", symbol).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MostRecentBefore returns the nearest preceding row for the symbol, or nil.
func (s *GormStore) MostRecentBefore(symbol string, ts time.Time) (*models.StockSnapshot, error) {
	var row models.StockSnapshot
	err := s.db.Where("symbol = ? AND timestamp < ?", symbol, ts).
		Order("timestamp DESC").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Prune removes snapshots and scrape records older than the retention window.
func (s *GormStore) Prune(olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.StockSnapshot{})
	if res.Error != nil {
		return 0, res.Error
	}
	removed := res.RowsAffected

	if err := s.db.Where("created_at < ?", cutoff).Delete(&models.ScrapeRecord{}).Error; err != nil {
		return removed, err
	}
	return removed, nil
}

// ActiveRules returns all enabled alert rules.
func (s *GormStore) ActiveRules() ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := s.db.Where("enabled = ?", true).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}
