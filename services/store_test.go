package services

import (
	"path/filepath"
	"testing"
	"time"

	"stock_monitor_backend/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "store_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateSnapshotModels(db))
	require.NoError(t, models.MigrateAlertModels(db))
	return NewGormStore(db)
}

func TestGormStore_AppendBatchAndLatest(t *testing.T) {
	store := newTestStore(t)

	t1 := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	t2 := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.AppendBatch(
		[]models.StockSnapshot{snap("AAPL", 1, 100, 5, 10000, t1)},
		&models.ScrapeRecord{Status: models.ScrapeStatusSuccess, StockCount: 1},
	))
	require.NoError(t, store.AppendBatch(
		[]models.StockSnapshot{
			snap("TSLA", 1, 200, 10, 20000, t2),
			snap("AAPL", 2, 102, 7, 10000, t2),
		},
		&models.ScrapeRecord{Status: models.ScrapeStatusSuccess, StockCount: 2},
	))

	// Latest returns only the newest batch, ordered by rank.
	latest, err := store.Latest(0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "TSLA", latest[0].Symbol)
	assert.Equal(t, "AAPL", latest[1].Symbol)

	limited, err := store.Latest(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "TSLA", limited[0].Symbol)
}

func TestGormStore_LatestEmpty(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.Latest(10)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestGormStore_AppendBatchRecordOnly(t *testing.T) {
	store := newTestStore(t)

	// A failed cycle persists only the scrape record.
	require.NoError(t, store.AppendBatch(nil, &models.ScrapeRecord{
		Status:  models.ScrapeStatusError,
		Message: "fetch failed: upstream unreachable",
	}))

	latest, err := store.Latest(0)
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestGormStore_History(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-3 * time.Hour).UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.AppendBatch(
			[]models.StockSnapshot{snap("AAPL", 1, 100+float64(i), 5, 10000, ts)},
			nil,
		))
	}

	history, err := store.History("AAPL", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Most recent first.
	assert.Equal(t, 102.0, history[0].Price)
	assert.Equal(t, 100.0, history[2].Price)

	limited, err := store.History("AAPL", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.History("TSLA", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormStore_MostRecentBefore(t *testing.T) {
	store := newTestStore(t)

	t1 := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)
	t2 := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.AppendBatch([]models.StockSnapshot{snap("AAPL", 1, 100, 5, 10000, t1)}, nil))
	require.NoError(t, store.AppendBatch([]models.StockSnapshot{snap("AAPL", 1, 102, 7, 10000, t2)}, nil))

	// Strictly-before semantics: a lookup at t2 sees the t1 row.
	prev, err := store.MostRecentBefore("AAPL", t2)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 100.0, prev.Price)

	// After both rows, the newest wins.
	prev, err = store.MostRecentBefore("AAPL", time.Now())
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 102.0, prev.Price)

	// No history: nil, not an error.
	prev, err = store.MostRecentBefore("TSLA", time.Now())
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestGormStore_Prune(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().AddDate(0, 0, -40).UTC().Truncate(time.Second)
	recent := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.AppendBatch([]models.StockSnapshot{snap("AAPL", 1, 90, 1, 10000, old)}, nil))
	require.NoError(t, store.AppendBatch([]models.StockSnapshot{snap("AAPL", 1, 102, 7, 10000, recent)}, nil))

	removed, err := store.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	history, err := store.History("AAPL", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 102.0, history[0].Price)
}

func TestGormStore_ActiveRules(t *testing.T) {
	store := newTestStore(t)
	min := decimal.NewFromInt(20)

	require.NoError(t, store.db.Create(&models.AlertRule{Name: "enabled", MinPercentChange: &min, Enabled: true}).Error)
	require.NoError(t, store.db.Create(&models.AlertRule{Name: "disabled", MinPercentChange: &min, Enabled: false}).Error)

	rules, err := store.ActiveRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "enabled", rules[0].Name)
}
