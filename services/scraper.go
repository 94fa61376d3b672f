package services

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"stock_monitor_backend/models"
)

// SnapshotSource yields one ordered batch of per-symbol market data or fails.
// Failures never produce partial batches.
type SnapshotSource interface {
	Fetch() ([]models.StockSnapshot, error)
}

// GainersFetcher fetches the current top-gainers list from a JSON endpoint.
type GainersFetcher struct {
	url        string
	httpClient *http.Client
}

// NewGainersFetcher creates a fetcher for the given endpoint.
func NewGainersFetcher(url string) *GainersFetcher {
	return &GainersFetcher{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// gainersResponse is the upstream response shape.
type gainersResponse struct {
	Data []struct {
		Symbol        string  `json:"symbol"`
		CompanyName   string  `json:"companyName"`
		PercentChange float64 `json:"percentChange"`
		Price         float64 `json:"price"`
		Volume        int64   `json:"volume"`
		MarketCap     string  `json:"marketCap"`
	} `json:"data"`
}

// Fetch retrieves and validates one batch. Rank is assigned from the upstream
// ordering, 1-based and contiguous.
func (f *GainersFetcher) Fetch() ([]models.StockSnapshot, error) {
	resp, err := f.httpClient.Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gainers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gainers endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gainers response: %w", err)
	}

	var parsed gainersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse gainers response: %w", err)
	}

	now := time.Now().UTC()
	batch := make([]models.StockSnapshot, 0, len(parsed.Data))
	for i, row := range parsed.Data {
		batch = append(batch, models.StockSnapshot{
			Symbol:        row.Symbol,
			CompanyName:   row.CompanyName,
			PercentChange: row.PercentChange,
			Price:         row.Price,
			Volume:        row.Volume,
			MarketCap:     row.MarketCap,
			Rank:          i + 1,
			Timestamp:     now,
		})
	}

	if err := ValidateBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// ValidateBatch enforces the batch contract: non-empty, every symbol set,
// finite numeric fields, and contiguous 1-based ranks.
func ValidateBatch(batch []models.StockSnapshot) error {
	if len(batch) == 0 {
		return fmt.Errorf("empty snapshot batch")
	}

	seen := make(map[string]bool, len(batch))
	for i, s := range batch {
		if s.Symbol == "" {
			return fmt.Errorf("snapshot at index %d has empty symbol", i)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("duplicate symbol %s in batch", s.Symbol)
		}
		seen[s.Symbol] = true

		if !isFinite(s.Price) || !isFinite(s.PercentChange) {
			return fmt.Errorf("snapshot for %s has non-finite numeric fields", s.Symbol)
		}
		if s.Rank != i+1 {
			return fmt.Errorf("snapshot for %s has rank %d, expected %d", s.Symbol, s.Rank, i+1)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
