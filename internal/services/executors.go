package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hireflow/internal/models"
	"hireflow/pkg/courier"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegisterDefaultExecutors installs the built-in executor for every action
// type: messaging actions go through the courier gateway, pipeline actions
// mutate ATS rows directly.
func RegisterDefaultExecutors(d *ActionDispatcher, db *gorm.DB, sender courier.Sender, logger *logrus.Logger) {
	if logger == nil {
		logger = logrus.New()
	}
	d.Register(ActionSendEmail, &MessageExecutor{sender: sender, channel: courier.ChannelEmail, logger: logger})
	d.Register(ActionSendWhatsApp, &MessageExecutor{sender: sender, channel: courier.ChannelWhatsApp, logger: logger})
	d.Register(ActionSendTest, &TestAssignmentExecutor{sender: sender, logger: logger})
	d.Register(ActionNotifyManager, &NotifyManagerExecutor{sender: sender, logger: logger})
	d.Register(ActionMoveStage, &MoveStageExecutor{db: db, logger: logger})
	d.Register(ActionAddTag, &AddTagExecutor{db: db, logger: logger})
	d.Register(ActionAddNote, &AddNoteExecutor{db: db, logger: logger})
}

// MessageExecutor sends a templated message to the candidate over one
// courier channel.
type MessageExecutor struct {
	sender  courier.Sender
	channel string
	logger  *logrus.Logger
}

func (e *MessageExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	if e.sender == nil {
		return fmt.Errorf("courier gateway disabled")
	}
	template, _ := stringParam(params, "template")
	if template == "" {
		return fmt.Errorf("template param required")
	}

	to, _ := stringParam(params, "to")
	if to == "" {
		address := "candidate.email"
		if e.channel == courier.ChannelWhatsApp {
			address = "candidate.phone"
		}
		to = payloadString(payload, address)
	}
	if to == "" {
		return fmt.Errorf("no %s recipient in params or payload", e.channel)
	}

	subject, _ := stringParam(params, "subject")
	result, err := e.sender.Send(ctx, &courier.MessageRequest{
		Channel:   e.channel,
		To:        to,
		Template:  template,
		Subject:   subject,
		Variables: templateVariables(payload),
	})
	if err != nil {
		return err
	}
	e.logger.Infof("courier: %s %q accepted as %s", e.channel, template, result.ID)
	return nil
}

// TestAssignmentExecutor emails the candidate a technical test invite.
type TestAssignmentExecutor struct {
	sender courier.Sender
	logger *logrus.Logger
}

func (e *TestAssignmentExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	if e.sender == nil {
		return fmt.Errorf("courier gateway disabled")
	}
	testType, _ := stringParam(params, "test_type")
	if testType == "" {
		return fmt.Errorf("test_type param required")
	}
	to := payloadString(payload, "candidate.email")
	if to == "" {
		return fmt.Errorf("no candidate email in payload")
	}

	variables := templateVariables(payload)
	variables["test_type"] = testType
	_, err := e.sender.Send(ctx, &courier.MessageRequest{
		Channel:   courier.ChannelEmail,
		To:        to,
		Template:  "test_assignment",
		Variables: variables,
	})
	return err
}

// NotifyManagerExecutor alerts the hiring manager for the job.
type NotifyManagerExecutor struct {
	sender courier.Sender
	logger *logrus.Logger
}

func (e *NotifyManagerExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	if e.sender == nil {
		return fmt.Errorf("courier gateway disabled")
	}
	message, _ := stringParam(params, "message")
	if message == "" {
		return fmt.Errorf("message param required")
	}
	to, _ := stringParam(params, "manager_email")
	if to == "" {
		to = payloadString(payload, "job.manager_email")
	}
	if to == "" {
		return fmt.Errorf("no manager email in params or payload")
	}

	variables := templateVariables(payload)
	variables["message"] = message
	_, err := e.sender.Send(ctx, &courier.MessageRequest{
		Channel:   courier.ChannelEmail,
		To:        to,
		Template:  "manager_notification",
		Variables: variables,
	})
	return err
}

// MoveStageExecutor moves the application to another pipeline stage.
type MoveStageExecutor struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func (e *MoveStageExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	stage, _ := stringParam(params, "stage_name")
	if stage == "" {
		return fmt.Errorf("stage_name param required")
	}
	applicationID, ok := payloadUint(payload, "application.id")
	if !ok {
		return fmt.Errorf("no application id in payload")
	}

	result := e.db.WithContext(ctx).Model(&models.Application{}).
		Where("id = ?", applicationID).
		Updates(map[string]interface{}{
			"stage":            stage,
			"last_movement_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("application %d not found", applicationID)
	}
	e.logger.Infof("automation: application %d moved to stage %q", applicationID, stage)
	return nil
}

// AddTagExecutor appends a tag to the candidate's tag list.
type AddTagExecutor struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func (e *AddTagExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	tag, _ := stringParam(params, "tag")
	if tag == "" {
		return fmt.Errorf("tag param required")
	}
	candidateID, ok := payloadUint(payload, "candidate.id")
	if !ok {
		return fmt.Errorf("no candidate id in payload")
	}

	var candidate models.Candidate
	if err := e.db.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		return err
	}
	tags := candidate.Tags
	if tags == "" {
		tags = tag
	} else if !containsTag(tags, tag) {
		tags = tags + "," + tag
	}
	return e.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("id = ?", candidateID).
		Update("tags", tags).Error
}

// AddNoteExecutor writes an automation note on the candidate.
type AddNoteExecutor struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func (e *AddNoteExecutor) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	content, _ := stringParam(params, "content")
	if content == "" {
		return fmt.Errorf("content param required")
	}
	candidateID, ok := payloadUint(payload, "candidate.id")
	if !ok {
		return fmt.Errorf("no candidate id in payload")
	}

	note := &models.CandidateNote{
		CandidateID: candidateID,
		Author:      "automation",
		Content:     content,
		Type:        "automation",
		CreatedAt:   time.Now(),
	}
	return e.db.WithContext(ctx).Create(note).Error
}

// --- payload helpers ---

func payloadString(payload map[string]interface{}, path string) string {
	value, found := ResolveField(payload, path)
	if !found || value == nil {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return s
}

func payloadUint(payload map[string]interface{}, path string) (uint, bool) {
	value, found := ResolveField(payload, path)
	if !found {
		return 0, false
	}
	f, ok := toFloat(value)
	if !ok || f < 0 {
		return 0, false
	}
	return uint(f), true
}

// templateVariables flattens the well-known payload fields templates can
// reference. Unknown sections are ignored: the gateway owns rendering.
func templateVariables(payload map[string]interface{}) map[string]string {
	variables := make(map[string]string)
	for _, path := range []string{"candidate.name", "candidate.email", "job.title", "job.department", "application.stage", "application.status"} {
		if value, found := ResolveField(payload, path); found && value != nil {
			key := strings.ReplaceAll(path, ".", "_")
			variables[key] = fmt.Sprintf("%v", value)
		}
	}
	return variables
}

func containsTag(tags, tag string) bool {
	for _, existing := range strings.Split(tags, ",") {
		if strings.TrimSpace(existing) == tag {
			return true
		}
	}
	return false
}
