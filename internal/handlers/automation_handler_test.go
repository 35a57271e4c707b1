package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hireflow/internal/models"
	"hireflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Candidate{}, &models.Job{}, &models.Application{}, &models.CandidateNote{},
		&models.Automation{}, &models.AutomationRun{}, &models.ActionOutcome{},
		&models.ScheduledAction{}, &models.AutomationTemplate{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newAutomationRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlerTestDB(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dispatcher := services.NewActionDispatcher(db, logger)
	svc := services.NewAutomationService(db, dispatcher, logger)
	templates := services.NewTemplateService(db, logger)
	handler := NewAutomationHandler(svc, templates, logger)

	router := gin.New()
	api := router.Group("/api")
	RegisterAutomationRoutes(api, handler)
	return router, db
}

func validAutomationBody() map[string]interface{} {
	return map[string]interface{}{
		"name": "Tech screening",
		"trigger": map[string]interface{}{
			"type": "application_received",
		},
		"conditions": []map[string]interface{}{
			{"field": "job.department", "operator": "equals", "value": "Tech"},
			{"field": "candidate.skills", "operator": "contains", "value": "Python", "logic": "AND"},
		},
		"actions": []map[string]interface{}{
			{"type": "send_test", "params": map[string]interface{}{"test_type": "python"}},
		},
	}
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAutomationHandler_CreateAndGet(t *testing.T) {
	router, _ := newAutomationRouter(t)

	w := postJSON(router, "/api/automations", validAutomationBody())
	assert.Equal(t, http.StatusCreated, w.Code)

	var created models.Automation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.IsActive)
	assert.Equal(t, "application_received", created.TriggerType)

	req := httptest.NewRequest("GET", "/api/automations/1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAutomationHandler_CreateValidationFails(t *testing.T) {
	router, _ := newAutomationRouter(t)

	body := validAutomationBody()
	body["trigger"] = map[string]interface{}{"type": "bogus_trigger"}
	w := postJSON(router, "/api/automations", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Message)
}

func TestAutomationHandler_List(t *testing.T) {
	router, _ := newAutomationRouter(t)
	postJSON(router, "/api/automations", validAutomationBody())

	req := httptest.NewRequest("GET", "/api/automations?trigger_type=application_received", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var automations []models.Automation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &automations))
	assert.Len(t, automations, 1)

	req = httptest.NewRequest("GET", "/api/automations?active=false", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &automations))
	assert.Empty(t, automations)
}

func TestAutomationHandler_NotFound(t *testing.T) {
	router, _ := newAutomationRouter(t)

	req := httptest.NewRequest("GET", "/api/automations/42", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest("GET", "/api/automations/not-a-number", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationHandler_Toggle(t *testing.T) {
	router, _ := newAutomationRouter(t)
	postJSON(router, "/api/automations", validAutomationBody())

	w := postJSON(router, "/api/automations/1/toggle", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var toggled models.Automation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &toggled))
	assert.False(t, toggled.IsActive)
}

func TestAutomationHandler_Delete(t *testing.T) {
	router, db := newAutomationRouter(t)
	postJSON(router, "/api/automations", validAutomationBody())

	req := httptest.NewRequest("DELETE", "/api/automations/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Automation{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestAutomationHandler_DryRun(t *testing.T) {
	router, _ := newAutomationRouter(t)
	postJSON(router, "/api/automations", validAutomationBody())

	w := postJSON(router, "/api/automations/1/test", map[string]interface{}{
		"payload": map[string]interface{}{
			"job":       map[string]interface{}{"department": "Tech"},
			"candidate": map[string]interface{}{"skills": []string{"Python"}},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var trace services.ExecutionTrace
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &trace))
	assert.True(t, trace.AllConditionsPassed)
	assert.Len(t, trace.ActionsPreview, 1)
	assert.True(t, trace.ActionsPreview[0].WouldExecute)

	// payload 缺失是请求错误
	w = postJSON(router, "/api/automations/1/test", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutomationHandler_ListRuns(t *testing.T) {
	router, db := newAutomationRouter(t)
	postJSON(router, "/api/automations", validAutomationBody())
	db.Create(&models.AutomationRun{AutomationID: 1, EventID: "evt-1", TriggerType: "application_received"})

	req := httptest.NewRequest("GET", "/api/automations/1/runs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var runs []models.AutomationRun
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestAutomationHandler_Templates(t *testing.T) {
	router, db := newAutomationRouter(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	assert.NoError(t, services.NewTemplateService(db, logger).Seed(context.Background()))

	req := httptest.NewRequest("GET", "/api/automation-templates", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var templates []models.AutomationTemplate
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &templates))
	assert.Len(t, templates, 4)

	w = postJSON(router, "/api/automation-templates/1/clone", map[string]interface{}{"name": "My rule"})
	assert.Equal(t, http.StatusCreated, w.Code)

	var clone models.Automation
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &clone))
	assert.False(t, clone.IsActive)
}
