package services

import (
	"fmt"
	"sync"
	"time"

	"stock_monitor_backend/models"
)

// fakeStore is an in-memory SnapshotStore and AlertRuleStore.
type fakeStore struct {
	mu        sync.Mutex
	snapshots []models.StockSnapshot
	records   []models.ScrapeRecord
	rules     []models.AlertRule
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) AppendBatch(batch []models.StockSnapshot, result *models.ScrapeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.snapshots = append(s.snapshots, batch...)
	if result != nil {
		result.CreatedAt = time.Now()
		s.records = append(s.records, *result)
	}
	return nil
}

func (s *fakeStore) Latest(limit int) ([]models.StockSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max time.Time
	for _, snap := range s.snapshots {
		if snap.Timestamp.After(max) {
			max = snap.Timestamp
		}
	}
	var out []models.StockSnapshot
	for _, snap := range s.snapshots {
		if snap.Timestamp.Equal(max) {
			out = append(out, snap)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) History(symbol string, limit int) ([]models.StockSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StockSnapshot
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].Symbol == symbol {
			out = append(out, s.snapshots[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) MostRecentBefore(symbol string, ts time.Time) (*models.StockSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.StockSnapshot
	for i := range s.snapshots {
		snap := s.snapshots[i]
		if snap.Symbol != symbol || !snap.Timestamp.Before(ts) {
			continue
		}
		if best == nil || snap.Timestamp.After(best.Timestamp) {
			best = &s.snapshots[i]
		}
	}
	return best, nil
}

func (s *fakeStore) Prune(olderThanDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	kept := s.snapshots[:0]
	var removed int64
	for _, snap := range s.snapshots {
		if snap.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept
	return removed, nil
}

func (s *fakeStore) ActiveRules() ([]models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AlertRule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) scrapeRecords() []models.ScrapeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScrapeRecord, len(s.records))
	copy(out, s.records)
	return out
}

// fakeSource returns scripted batches in order, then errors.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]models.StockSnapshot
	calls   int
	err     error
	// When set, Fetch blocks until the gate closes and signals entry on
	// entered.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSource) Fetch() ([]models.StockSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gate
	entered := f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	if f.err != nil {
		return nil, f.err
	}
	if call > len(f.batches) {
		return nil, fmt.Errorf("no batch scripted for call %d", call)
	}
	return f.batches[call-1], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBroadcaster records everything the monitor fans out.
type fakeBroadcaster struct {
	mu       sync.Mutex
	updates  []StocksUpdatePayload
	alerts   []AlertEvent
	statuses []ScrapingStatusPayload
}

func (b *fakeBroadcaster) BroadcastStocksUpdate(stocks []models.StockSnapshot, updates []models.StockUpdate, result *models.ScrapeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, StocksUpdatePayload{Stocks: stocks, Updates: updates, ScrapingResult: result})
}

func (b *fakeBroadcaster) BroadcastAlert(event AlertEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, event)
}

func (b *fakeBroadcaster) BroadcastStatus(status, message string, nextRun *time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, ScrapingStatusPayload{Status: status, Message: message, NextRun: nextRun})
}

func (b *fakeBroadcaster) sentUpdates() []StocksUpdatePayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StocksUpdatePayload, len(b.updates))
	copy(out, b.updates)
	return out
}

func (b *fakeBroadcaster) sentAlerts() []AlertEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AlertEvent, len(b.alerts))
	copy(out, b.alerts)
	return out
}

func (b *fakeBroadcaster) sentStatuses() []ScrapingStatusPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ScrapingStatusPayload, len(b.statuses))
	copy(out, b.statuses)
	return out
}

// snap builds a snapshot for tests.
func snap(symbol string, rank int, price, pct float64, volume int64, ts time.Time) models.StockSnapshot {
	return models.StockSnapshot{
		Symbol:        symbol,
		CompanyName:   symbol + " Inc",
		PercentChange: pct,
		Price:         price,
		Volume:        volume,
		Rank:          rank,
		Timestamp:     ts,
	}
}
