package services

import (
	"fmt"

	"stock_monitor_backend/models"

	"github.com/shopspring/decimal"
)

// Alert types emitted by the engine
const (
	AlertHighGain        = "HIGH_GAIN"
	AlertPriceSpike      = "PRICE_SPIKE"
	AlertNewTopGainer    = "NEW_TOP_GAINER"
	AlertRankImprovement = "RANK_IMPROVEMENT"
	AlertHighVolume      = "HIGH_VOLUME"
	AlertTopPerformer    = "TOP_PERFORMER"
	AlertCustomRule      = "CUSTOM_RULE"
)

// Built-in thresholds
const (
	DefaultHighGainThreshold = 20.0
	priceSpikeThreshold      = 15.0
	newTopGainerMaxRank      = 10
	rankImprovementMin       = 10
	highVolumeThreshold      = 1_000_000
	topPerformerMaxRank      = 3
)

// AlertEvent is an ephemeral alert produced during one cycle. It exists only
// on the broadcast path and is never persisted.
type AlertEvent struct {
	Stock     models.StockSnapshot
	Update    *models.StockUpdate
	AlertType string
	Message   string
}

// AlertEngine evaluates built-in thresholds and user-defined rules against
// one cycle's snapshots and updates. Evaluation is a pure function of its
// inputs; there is no dedup or rate limiting across cycles, so a persisting
// condition re-triggers every cycle.
type AlertEngine struct {
	highGainThreshold float64
}

// NewAlertEngine creates an engine with the given HIGH_GAIN threshold.
// A non-positive threshold falls back to the default.
func NewAlertEngine(highGainThreshold float64) *AlertEngine {
	if highGainThreshold <= 0 {
		highGainThreshold = DefaultHighGainThreshold
	}
	return &AlertEngine{highGainThreshold: highGainThreshold}
}

// Evaluate returns the ordered alert list for one cycle: update-driven
// built-ins first, then TOP_PERFORMER per snapshot, then custom rules. One
// symbol may trigger multiple alert types in the same cycle.
func (e *AlertEngine) Evaluate(stocks []models.StockSnapshot, updates []models.StockUpdate, rules []models.AlertRule) []AlertEvent {
	events := make([]AlertEvent, 0)

	for i := range updates {
		events = append(events, e.evaluateUpdate(&updates[i])...)
	}

	// TOP_PERFORMER is re-emitted every cycle for the current top ranks,
	// whether or not anything changed.
	for _, stock := range stocks {
		if stock.Rank <= topPerformerMaxRank {
			events = append(events, AlertEvent{
				Stock:     stock,
				AlertType: AlertTopPerformer,
				Message:   fmt.Sprintf("%s is a top performer at rank %d", stock.Symbol, stock.Rank),
			})
		}
	}

	for i := range rules {
		events = append(events, e.evaluateCustomRule(&rules[i], stocks)...)
	}

	return events
}

// evaluateUpdate applies the update-driven built-in rules to one update.
func (e *AlertEngine) evaluateUpdate(update *models.StockUpdate) []AlertEvent {
	events := make([]AlertEvent, 0, 2)
	stock := update.Current

	if stock.PercentChange >= e.highGainThreshold {
		events = append(events, AlertEvent{
			Stock:     stock,
			Update:    update,
			AlertType: AlertHighGain,
			Message:   fmt.Sprintf("%s gained %.2f%% (threshold %.2f%%)", stock.Symbol, stock.PercentChange, e.highGainThreshold),
		})
	}

	if update.ChangeType == models.ChangePriceIncrease &&
		update.ChangePercent != nil && *update.ChangePercent > priceSpikeThreshold {
		events = append(events, AlertEvent{
			Stock:     stock,
			Update:    update,
			AlertType: AlertPriceSpike,
			Message:   fmt.Sprintf("%s price spiked %.2f%% since last snapshot", stock.Symbol, *update.ChangePercent),
		})
	}

	if update.ChangeType == models.ChangeNew && stock.Rank <= newTopGainerMaxRank {
		events = append(events, AlertEvent{
			Stock:     stock,
			Update:    update,
			AlertType: AlertNewTopGainer,
			Message:   fmt.Sprintf("%s entered the top gainers at rank %d", stock.Symbol, stock.Rank),
		})
	}

	if update.ChangeType == models.ChangeRankChange && update.Previous != nil {
		improvement := update.Previous.Rank - stock.Rank
		if improvement >= rankImprovementMin {
			events = append(events, AlertEvent{
				Stock:     stock,
				Update:    update,
				AlertType: AlertRankImprovement,
				Message:   fmt.Sprintf("%s climbed %d ranks to %d", stock.Symbol, improvement, stock.Rank),
			})
		}
	}

	if stock.Volume > highVolumeThreshold {
		events = append(events, AlertEvent{
			Stock:     stock,
			Update:    update,
			AlertType: AlertHighVolume,
			Message:   fmt.Sprintf("%s trading on high volume: %d", stock.Symbol, stock.Volume),
		})
	}

	return events
}

// evaluateCustomRule applies one user rule to every snapshot in the batch.
// Conditions are OR-ed and the first match wins, which skips the remaining
// checks for that rule. This mirrors the established behavior even though an
// AND reading may have been intended; see DESIGN.md.
func (e *AlertEngine) evaluateCustomRule(rule *models.AlertRule, stocks []models.StockSnapshot) []AlertEvent {
	events := make([]AlertEvent, 0)

	for _, stock := range stocks {
		if !rule.MatchesSymbol(stock.Symbol) {
			continue
		}

		pct := decimal.NewFromFloat(stock.PercentChange)
		var message string
		switch {
		case rule.MinPercentChange != nil && pct.GreaterThanOrEqual(*rule.MinPercentChange):
			message = fmt.Sprintf("%s percent change %.2f%% >= %s%%", stock.Symbol, stock.PercentChange, rule.MinPercentChange.String())
		case rule.MaxPercentChange != nil && pct.LessThanOrEqual(*rule.MaxPercentChange):
			message = fmt.Sprintf("%s percent change %.2f%% <= %s%%", stock.Symbol, stock.PercentChange, rule.MaxPercentChange.String())
		case rule.MinVolume != nil && stock.Volume >= *rule.MinVolume:
			message = fmt.Sprintf("%s volume %d >= %d", stock.Symbol, stock.Volume, *rule.MinVolume)
		default:
			continue
		}

		events = append(events, AlertEvent{
			Stock:     stock,
			AlertType: AlertCustomRule,
			Message:   fmt.Sprintf("Rule %q matched: %s", rule.Name, message),
		})
	}

	return events
}
