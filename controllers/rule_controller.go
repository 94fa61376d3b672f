package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"stock_monitor_backend/models"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RuleController handles alert rule CRUD endpoints
type RuleController struct {
	db *gorm.DB
}

// NewRuleController creates a new rule controller
func NewRuleController(db *gorm.DB) *RuleController {
	return &RuleController{db: db}
}

// ruleRequest is the create/update request body
type ruleRequest struct {
	Name             string   `json:"name"`
	Symbol           *string  `json:"symbol"`
	MinPercentChange *float64 `json:"min_percent_change"`
	MaxPercentChange *float64 `json:"max_percent_change"`
	MinVolume        *int64   `json:"min_volume"`
	Enabled          *bool    `json:"enabled"`
}

func (r *ruleRequest) apply(rule *models.AlertRule) {
	rule.Name = r.Name
	rule.Symbol = r.Symbol
	rule.MinVolume = r.MinVolume
	if r.MinPercentChange != nil {
		d := decimal.NewFromFloat(*r.MinPercentChange)
		rule.MinPercentChange = &d
	} else {
		rule.MinPercentChange = nil
	}
	if r.MaxPercentChange != nil {
		d := decimal.NewFromFloat(*r.MaxPercentChange)
		rule.MaxPercentChange = &d
	} else {
		rule.MaxPercentChange = nil
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	} else {
		rule.Enabled = true
	}
}

// GetRules returns all alert rules
// GET /api/v1/alert-rules
func (ctrl *RuleController) GetRules(c *gin.Context) {
	var rules []models.AlertRule
	if err := ctrl.db.Order("id ASC").Find(&rules).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns one alert rule
// GET /api/v1/alert-rules/:id
func (ctrl *RuleController) GetRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	var rule models.AlertRule
	if err := ctrl.db.First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// CreateRule creates a new alert rule
// POST /api/v1/alert-rules
func (ctrl *RuleController) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var rule models.AlertRule
	req.apply(&rule)

	if !rule.HasCondition() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule must set at least one condition"})
		return
	}

	if err := ctrl.db.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// UpdateRule updates an existing alert rule
// PUT /api/v1/alert-rules/:id
func (ctrl *RuleController) UpdateRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	var rule models.AlertRule
	if err := ctrl.db.First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.apply(&rule)

	if !rule.HasCondition() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule must set at least one condition"})
		return
	}

	if err := ctrl.db.Save(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes an alert rule
// DELETE /api/v1/alert-rules/:id
func (ctrl *RuleController) DeleteRule(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	res := ctrl.db.Delete(&models.AlertRule{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
