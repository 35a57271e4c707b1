package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"hireflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 管理自动化规则
type AutomationHandler struct {
	service   *services.AutomationService
	templates *services.TemplateService
	logger    *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, templates *services.TemplateService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, templates: templates, logger: logger}
}

// ListAutomations 获取自动化列表
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	filter := services.AutomationFilter{TriggerType: c.Query("trigger_type")}
	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid active filter", Message: err.Error()})
			return
		}
		filter.Active = &active
	}

	automations, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list automations", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, automations)
}

// GetAutomation 获取自动化详情
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	automation, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.renderServiceError(c, err, "Failed to get automation")
		return
	}
	c.JSON(http.StatusOK, automation)
}

// CreateAutomation 创建自动化
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req services.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	automation, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		h.renderServiceError(c, err, "Failed to create automation")
		return
	}
	c.JSON(http.StatusCreated, automation)
}

// UpdateAutomation 更新自动化
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req services.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	automation, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.renderServiceError(c, err, "Failed to update automation")
		return
	}
	c.JSON(http.StatusOK, automation)
}

// DeleteAutomation 删除自动化
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.renderServiceError(c, err, "Failed to delete automation")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ToggleAutomation 启用/停用自动化
func (h *AutomationHandler) ToggleAutomation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	automation, err := h.service.Toggle(c.Request.Context(), id)
	if err != nil {
		h.renderServiceError(c, err, "Failed to toggle automation")
		return
	}
	c.JSON(http.StatusOK, automation)
}

// TestAutomationRequest 干跑请求
type TestAutomationRequest struct {
	Payload map[string]interface{} `json:"payload" binding:"required"`
}

// TestAutomation 干跑：返回条件与动作预览，不触发任何副作用
func (h *AutomationHandler) TestAutomation(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req TestAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	trace, err := h.service.TestAutomation(c.Request.Context(), id, req.Payload)
	if err != nil {
		h.renderServiceError(c, err, "Failed to test automation")
		return
	}
	c.JSON(http.StatusOK, trace)
}

// ListRuns 获取自动化执行记录
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.service.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list runs", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// ListTemplates 获取预置蓝本目录
func (h *AutomationHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templates.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list templates", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, templates)
}

// CloneTemplateRequest 克隆蓝本请求
type CloneTemplateRequest struct {
	Name string `json:"name" binding:"required"`
}

// CloneTemplate 将蓝本克隆为可编辑的自动化
func (h *AutomationHandler) CloneTemplate(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req CloneTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
		return
	}

	automation, err := h.templates.Clone(c.Request.Context(), id, req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to clone template", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, automation)
}

func (h *AutomationHandler) pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

func (h *AutomationHandler) renderServiceError(c *gin.Context, err error, title string) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: title, Message: err.Error()})
	case errors.Is(err, services.ErrAutomationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: title, Message: err.Error()})
	default:
		h.logger.Errorf("%s: %v", title, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: title, Message: err.Error()})
	}
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListAutomations)
		auto.POST("", handler.CreateAutomation)
		auto.GET(":id", handler.GetAutomation)
		auto.PUT(":id", handler.UpdateAutomation)
		auto.DELETE(":id", handler.DeleteAutomation)
		auto.POST(":id/toggle", handler.ToggleAutomation)
		auto.POST(":id/test", handler.TestAutomation)
		auto.GET(":id/runs", handler.ListRuns)
	}
	templates := r.Group("/automation-templates")
	{
		templates.GET("", handler.ListTemplates)
		templates.POST(":id/clone", handler.CloneTemplate)
	}
}
