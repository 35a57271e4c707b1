package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hireflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TemplateService 管理预置自动化蓝本目录
type TemplateService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTemplateService(db *gorm.DB, logger *logrus.Logger) *TemplateService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TemplateService{db: db, logger: logger}
}

// List returns the template catalog.
func (s *TemplateService) List(ctx context.Context) ([]models.AutomationTemplate, error) {
	var templates []models.AutomationTemplate
	if err := s.db.WithContext(ctx).Order("category, name").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// Clone copies a template into a new editable automation. Clones start
// inactive so the author can adjust and dry-run them first.
func (s *TemplateService) Clone(ctx context.Context, templateID uint, name string) (*models.Automation, error) {
	if name == "" {
		return nil, errors.New("name required")
	}
	var template models.AutomationTemplate
	if err := s.db.WithContext(ctx).First(&template, templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template not found")
		}
		return nil, err
	}

	now := time.Now()
	automation := &models.Automation{
		Name:          name,
		Description:   template.Description,
		TriggerType:   template.TriggerType,
		TriggerParams: template.TriggerParams,
		Conditions:    template.Conditions,
		Actions:       template.Actions,
		IsActive:      false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(automation).Error; err != nil {
		return nil, err
	}
	s.logger.Infof("automation: cloned template %q into %q", template.Name, name)
	return automation, nil
}

// Seed installs the built-in catalog. Idempotent: existing names are kept.
func (s *TemplateService) Seed(ctx context.Context) error {
	for _, template := range builtinTemplates() {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.AutomationTemplate{}).
			Where("name = ?", template.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		template.CreatedAt = time.Now()
		if err := s.db.WithContext(ctx).Create(&template).Error; err != nil {
			return err
		}
	}
	return nil
}

func builtinTemplates() []models.AutomationTemplate {
	return []models.AutomationTemplate{
		{
			Name:        "Tech screening invite",
			Description: "Send a technical test and move the application forward when a tech-department applicant lists Python.",
			Category:    "screening",
			TriggerType: TriggerApplicationReceived,
			Conditions: mustJSON([]Condition{
				{Field: "job.department", Operator: OpEquals, Value: "Tech"},
				{Field: "candidate.skills", Operator: OpContains, Value: "Python", Logic: LogicAnd},
			}),
			Actions: mustJSON([]Action{
				{Type: ActionSendTest, Params: map[string]interface{}{"test_type": "python"}},
				{Type: ActionMoveStage, Params: map[string]interface{}{"stage_name": "Teste Tecnico"}},
			}),
		},
		{
			Name:          "Idle candidate nudge",
			Description:   "Ping candidates stuck for a week and escalate to the manager a day later.",
			Category:      "engagement",
			TriggerType:   TriggerDaysWithoutMovement,
			TriggerParams: mustJSON(map[string]interface{}{"days": 7}),
			Actions: mustJSON([]Action{
				{Type: ActionSendWhatsApp, Params: map[string]interface{}{"template": "idle_checkin"}},
				{Type: ActionNotifyManager, Params: map[string]interface{}{"message": "Candidate idle for over a week"}, DelayMinutes: 1440},
			}),
		},
		{
			Name:          "High match fast-track",
			Description:   "Move strong matches straight to interview and alert the manager.",
			Category:      "pipeline",
			TriggerType:   TriggerMatchScoreThreshold,
			TriggerParams: mustJSON(map[string]interface{}{"min_score": 80}),
			Actions: mustJSON([]Action{
				{Type: ActionMoveStage, Params: map[string]interface{}{"stage_name": "Entrevista"}},
				{Type: ActionNotifyManager, Params: map[string]interface{}{"message": "High match score candidate fast-tracked"}},
			}),
		},
		{
			Name:        "Rejection follow-up",
			Description: "Tag and email candidates whose application was moved to rejected.",
			Category:    "pipeline",
			TriggerType: TriggerStatusChanged,
			TriggerParams: mustJSON(map[string]interface{}{
				"new_status": "rejected",
			}),
			Actions: mustJSON([]Action{
				{Type: ActionAddTag, Params: map[string]interface{}{"tag": "rejected"}},
				{Type: ActionSendEmail, Params: map[string]interface{}{"template": "rejection_followup"}, DelayMinutes: 60},
			}),
		},
	}
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // static catalog, marshal cannot fail
	}
	return string(data)
}
