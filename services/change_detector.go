package services

import (
	"log"
	"math"
	"sync"

	"stock_monitor_backend/models"
)

// Thresholds below which a numeric delta is considered noise by the
// change-significance predicate.
const (
	SignificantPriceDelta   = 0.01
	SignificantPercentDelta = 0.01
	SignificantVolumeDelta  = 1000
)

// ChangeDetector diffs the current batch against persisted history and
// classifies per-symbol changes. It also owns the last-broadcast cache that
// backs HasMeaningfulChange, so callers that want to self-throttle can ask
// whether a batch differs materially from what was last sent out.
type ChangeDetector struct {
	store SnapshotStore

	mu            sync.Mutex
	lastBroadcast map[string]models.StockSnapshot
	primed        bool
}

// NewChangeDetector creates a detector backed by the given store.
func NewChangeDetector(store SnapshotStore) *ChangeDetector {
	return &ChangeDetector{
		store:         store,
		lastBroadcast: make(map[string]models.StockSnapshot),
	}
}

// Classify is a pure function of (previous, current). It returns nil when the
// price and rank are both unchanged; such symbols still appear in the batch
// but produce no update for the cycle. Symbols missing from the current batch
// are never classified here, so REMOVED stays unreachable.
func Classify(prev *models.StockSnapshot, cur models.StockSnapshot) *models.StockUpdate {
	update := &models.StockUpdate{
		Previous:  prev,
		Current:   cur,
		Timestamp: cur.Timestamp,
	}

	if prev == nil {
		update.ChangeType = models.ChangeNew
		return update
	}

	switch {
	case cur.Price > prev.Price:
		update.ChangeType = models.ChangePriceIncrease
	case cur.Price < prev.Price:
		update.ChangeType = models.ChangePriceDecrease
	case cur.Rank != prev.Rank:
		update.ChangeType = models.ChangeRankChange
		return update
	default:
		return nil
	}

	amount := cur.Price - prev.Price
	percent := 0.0
	if prev.Price != 0 {
		percent = amount / prev.Price * 100
	}
	update.ChangeAmount = &amount
	update.ChangePercent = &percent
	return update
}

// DetectChanges classifies every symbol in the batch against its nearest
// preceding persisted snapshot. Must run before the batch itself is
// persisted, otherwise each symbol would diff against itself.
func (d *ChangeDetector) DetectChanges(batch []models.StockSnapshot) ([]models.StockUpdate, error) {
	updates := make([]models.StockUpdate, 0, len(batch))

	for _, cur := range batch {
		prev, err := d.store.MostRecentBefore(cur.Symbol, cur.Timestamp)
		if err != nil {
			return nil, err
		}
		if update := Classify(prev, cur); update != nil {
			updates = append(updates, *update)
		}
	}

	log.Printf("Change detection: %d stocks, %d updates", len(batch), len(updates))
	return updates, nil
}

// HasMeaningfulChange reports whether the batch differs materially from the
// last remembered broadcast. The monitor broadcasts unconditionally; this
// predicate exists for callers that want to suppress redundant sends.
func (d *ChangeDetector) HasMeaningfulChange(batch []models.StockSnapshot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// First-ever load always counts as a change.
	if !d.primed {
		return true
	}

	if len(batch) != len(d.lastBroadcast) {
		return true
	}

	for _, cur := range batch {
		prev, ok := d.lastBroadcast[cur.Symbol]
		if !ok {
			// Symbol-set membership changed.
			return true
		}
		if math.Abs(cur.Price-prev.Price) > SignificantPriceDelta {
			return true
		}
		if math.Abs(cur.PercentChange-prev.PercentChange) > SignificantPercentDelta {
			return true
		}
		if absInt64(cur.Volume-prev.Volume) > SignificantVolumeDelta {
			return true
		}
		if cur.Rank != prev.Rank {
			return true
		}
		if cur.CompanyName != prev.CompanyName {
			return true
		}
	}
	return false
}

// RememberBroadcast records the batch as the most recently broadcast state.
func (d *ChangeDetector) RememberBroadcast(batch []models.StockSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastBroadcast = make(map[string]models.StockSnapshot, len(batch))
	for _, s := range batch {
		d.lastBroadcast[s.Symbol] = s
	}
	d.primed = true
}

// Reset clears the last-broadcast cache, so the next batch is treated as a
// first-ever load.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastBroadcast = make(map[string]models.StockSnapshot)
	d.primed = false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
