package controllers

import (
	"net/http"
	"strconv"

	"stock_monitor_backend/services"

	"github.com/gin-gonic/gin"
)

// MonitorController exposes monitor status, manual trigger, snapshot queries
// and the WebSocket endpoint
type MonitorController struct {
	monitor *services.MonitorService
	store   services.SnapshotStore
	hub     *services.Hub
}

// NewMonitorController creates a new monitor controller
func NewMonitorController(monitor *services.MonitorService, store services.SnapshotStore, hub *services.Hub) *MonitorController {
	return &MonitorController{monitor: monitor, store: store, hub: hub}
}

// GetStatus returns the monitor status
// GET /api/v1/monitor/status
func (ctrl *MonitorController) GetStatus(c *gin.Context) {
	status := ctrl.monitor.GetStatus()
	c.JSON(http.StatusOK, gin.H{
		"running":          status.Running,
		"last_run":         status.LastRun,
		"next_run":         status.NextRun,
		"interval_minutes": status.IntervalMinutes,
		"client_count":     ctrl.hub.GetClientCount(),
	})
}

// TriggerRun triggers one monitor cycle. A cycle already in flight makes
// this a no-op; the response says which happened.
// POST /api/v1/monitor/trigger
func (ctrl *MonitorController) TriggerRun(c *gin.Context) {
	if ctrl.monitor.GetStatus().Running {
		c.JSON(http.StatusAccepted, gin.H{"message": "cycle already running, trigger dropped"})
		return
	}

	go ctrl.monitor.TriggerManualRun()
	c.JSON(http.StatusAccepted, gin.H{"message": "cycle triggered"})
}

// GetLatestStocks returns the most recent snapshot batch
// GET /api/v1/stocks/latest
func (ctrl *MonitorController) GetLatestStocks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	stocks, err := ctrl.store.Latest(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stocks": stocks,
		"count":  len(stocks),
	})
}

// GetStockHistory returns snapshot history for one symbol
// GET /api/v1/stocks/:symbol/history
func (ctrl *MonitorController) GetStockHistory(c *gin.Context) {
	symbol := c.Param("symbol")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := ctrl.store.History(symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":  symbol,
		"history": rows,
		"count":   len(rows),
	})
}

// HandleWebSocket upgrades the request into a hub connection
// GET /ws
func (ctrl *MonitorController) HandleWebSocket(c *gin.Context) {
	ctrl.hub.HandleWebSocket(c.Writer, c.Request)
}
