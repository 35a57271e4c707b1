package handlers

import (
	"net/http"

	"hireflow/internal/metrics"
	"hireflow/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// FeedHandler exposes the live run-outcome websocket plus engine counters.
type FeedHandler struct {
	hub *services.RunFeedHub
}

func NewFeedHandler(hub *services.RunFeedHub) *FeedHandler {
	return &FeedHandler{hub: hub}
}

func (h *FeedHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *FeedHandler) GetStats(c *gin.Context) {
	runsTotal, runsBy := metrics.AutomationRunSnapshot()
	outcomesTotal, outcomesBy := metrics.ActionOutcomeSnapshot()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": map[string]interface{}{
			"connected_clients":     h.hub.ClientCount(),
			"evaluations_total":     runsTotal,
			"evaluations":           runsBy,
			"action_outcomes":       outcomesBy,
			"action_outcomes_total": outcomesTotal,
		},
	})
}
