package handlers

import (
	"net/http"

	"hireflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventHandler 接收招聘事件并同步返回评估结果
type EventHandler struct {
	service *services.AutomationService
	logger  *logrus.Logger
}

func NewEventHandler(service *services.AutomationService, logger *logrus.Logger) *EventHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventHandler{service: service, logger: logger}
}

// IngestEventRequest 事件上报请求
type IngestEventRequest struct {
	TriggerType string                 `json:"trigger_type" binding:"required"`
	Payload     map[string]interface{} `json:"payload" binding:"required"`
}

// IngestEventResponse 事件评估汇总
type IngestEventResponse struct {
	EventID string                      `json:"event_id"`
	Results []services.EvaluationResult `json:"results"`
}

// IngestEvent 上报事件，对所有匹配的激活自动化进行评估
func (h *EventHandler) IngestEvent(c *gin.Context) {
	var req IngestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}
	if !services.IsSupportedTriggerType(req.TriggerType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Unknown trigger type", Message: req.TriggerType})
		return
	}

	evt := services.AutomationEvent{
		ID:          uuid.New().String(),
		TriggerType: req.TriggerType,
		Payload:     req.Payload,
	}
	results := h.service.HandleEvent(c.Request.Context(), evt)
	if results == nil {
		results = []services.EvaluationResult{}
	}
	c.JSON(http.StatusOK, IngestEventResponse{EventID: evt.ID, Results: results})
}

// RegisterEventRoutes 注册事件路由
func RegisterEventRoutes(r *gin.RouterGroup, handler *EventHandler) {
	r.POST("/events", handler.IngestEvent)
}
