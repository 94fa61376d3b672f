package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AlertRule represents a user-defined alert rule. All condition fields are
// optional; a nil field means the condition is not part of the rule. Rules
// are managed through the CRUD API and only enabled rules are evaluated.
type AlertRule struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Name             string           `json:"name"`
	Symbol           *string          `gorm:"index" json:"symbol,omitempty"` // nil = all symbols
	MinPercentChange *decimal.Decimal `gorm:"type:decimal(10,4)" json:"min_percent_change,omitempty"`
	MaxPercentChange *decimal.Decimal `gorm:"type:decimal(10,4)" json:"max_percent_change,omitempty"`
	MinVolume        *int64           `json:"min_volume,omitempty"`
	Enabled          bool             `gorm:"default:true;index" json:"enabled"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HasCondition reports whether at least one condition field is set.
func (r *AlertRule) HasCondition() bool {
	return r.MinPercentChange != nil || r.MaxPercentChange != nil || r.MinVolume != nil
}

// MatchesSymbol reports whether the rule applies to the given symbol.
func (r *AlertRule) MatchesSymbol(symbol string) bool {
	return r.Symbol == nil || *r.Symbol == "" || *r.Symbol == symbol
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(&AlertRule{})
}
