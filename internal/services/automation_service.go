package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"hireflow/internal/metrics"
	"hireflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Trigger types an automation can subscribe to. The set is closed.
const (
	TriggerApplicationReceived = "application_received"
	TriggerStatusChanged       = "status_changed"
	TriggerInterviewScheduled  = "interview_scheduled"
	TriggerDaysWithoutMovement = "days_without_movement"
	TriggerMatchScoreThreshold = "match_score_threshold"
)

var supportedTriggerTypes = map[string]bool{
	TriggerApplicationReceived: true,
	TriggerStatusChanged:       true,
	TriggerInterviewScheduled:  true,
	TriggerDaysWithoutMovement: true,
	TriggerMatchScoreThreshold: true,
}

// IsSupportedTriggerType reports whether t belongs to the closed trigger set.
func IsSupportedTriggerType(t string) bool {
	return supportedTriggerTypes[t]
}

// TriggerConfig is the event-type/parameter gate of an automation.
// Required param keys depend on Type and are enforced at save time.
type TriggerConfig struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// AutomationEvent is one recruiting event handed to the engine by external
// producers (application pipeline, idle-day cron, score watchers).
type AutomationEvent struct {
	ID          string                 `json:"id,omitempty"`
	TriggerType string                 `json:"trigger_type"`
	Payload     map[string]interface{} `json:"payload"`
}

// Evaluation statuses reported per automation for one event.
const (
	EvalExecuted         = "executed"
	EvalSkippedTrigger   = "skipped_trigger"
	EvalConditionsFailed = "conditions_failed"
)

// EvaluationResult is the per-automation outcome of one event evaluation.
type EvaluationResult struct {
	AutomationID uint              `json:"automation_id"`
	Name         string            `json:"name"`
	Status       string            `json:"status"`
	Conditions   []ConditionResult `json:"conditions,omitempty"`
	Outcomes     []DispatchOutcome `json:"outcomes,omitempty"`
}

// ValidationError marks an automation definition rejected at save time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid automation: %s: %s", e.Field, e.Reason)
}

// ErrAutomationNotFound is returned by lookups on unknown automation ids.
var ErrAutomationNotFound = errors.New("automation not found")

// AutomationService owns automation definitions and evaluates them against
// incoming events.
type AutomationService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher *ActionDispatcher
	tracer     trace.Tracer
}

func NewAutomationService(db *gorm.DB, dispatcher *ActionDispatcher, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{
		db:         db,
		logger:     logger,
		dispatcher: dispatcher,
		tracer:     otel.Tracer("hireflow.automation"),
	}
}

// AutomationRequest 创建/更新自动化的请求
type AutomationRequest struct {
	Name        string        `json:"name" binding:"required"`
	Description string        `json:"description"`
	Trigger     TriggerConfig `json:"trigger" binding:"required"`
	Conditions  []Condition   `json:"conditions"`
	Actions     []Action      `json:"actions"`
	IsActive    *bool         `json:"is_active"`
}

// AutomationFilter narrows List results.
type AutomationFilter struct {
	Active      *bool
	TriggerType string
}

// List returns automations matching the filter, newest first.
func (s *AutomationService) List(ctx context.Context, filter AutomationFilter) ([]models.Automation, error) {
	query := s.db.WithContext(ctx).Model(&models.Automation{})
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	if filter.TriggerType != "" {
		query = query.Where("trigger_type = ?", filter.TriggerType)
	}
	var automations []models.Automation
	if err := query.Order("id DESC").Find(&automations).Error; err != nil {
		return nil, err
	}
	return automations, nil
}

func (s *AutomationService) Get(ctx context.Context, id uint) (*models.Automation, error) {
	var automation models.Automation
	if err := s.db.WithContext(ctx).First(&automation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAutomationNotFound
		}
		return nil, err
	}
	return &automation, nil
}

// Create validates and persists a new automation. A structurally invalid
// definition is rejected here, never discovered mid-evaluation.
func (s *AutomationService) Create(ctx context.Context, req *AutomationRequest) (*models.Automation, error) {
	ctx, span := s.tracer.Start(ctx, "automation.create")
	defer span.End()

	if req == nil {
		return nil, &ValidationError{Field: "request", Reason: "required"}
	}
	if err := validateAutomation(req); err != nil {
		return nil, err
	}

	automation, err := buildAutomation(req)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(automation).Error; err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("automation.id", int(automation.ID)))
	s.logger.Infof("automation: created %q (trigger %s)", automation.Name, automation.TriggerType)
	return automation, nil
}

// Update replaces the definition of an existing automation after the same
// validation as Create. Run statistics are preserved.
func (s *AutomationService) Update(ctx context.Context, id uint, req *AutomationRequest) (*models.Automation, error) {
	ctx, span := s.tracer.Start(ctx, "automation.update")
	defer span.End()

	if req == nil {
		return nil, &ValidationError{Field: "request", Reason: "required"}
	}
	if err := validateAutomation(req); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	replacement, err := buildAutomation(req)
	if err != nil {
		return nil, err
	}

	existing.Name = replacement.Name
	existing.Description = replacement.Description
	existing.TriggerType = replacement.TriggerType
	existing.TriggerParams = replacement.TriggerParams
	existing.Conditions = replacement.Conditions
	existing.Actions = replacement.Actions
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	existing.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
		span.RecordError(err)
		return nil, err
	}
	return existing, nil
}

func (s *AutomationService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Automation{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAutomationNotFound
	}
	if s.dispatcher != nil {
		if _, err := s.dispatcher.CancelPending(ctx, id); err != nil {
			s.logger.Warnf("automation %d: cancel pending on delete failed: %v", id, err)
		}
	}
	return nil
}

// Toggle flips is_active. Deactivating cancels pending delayed actions,
// best effort.
func (s *AutomationService) Toggle(ctx context.Context, id uint) (*models.Automation, error) {
	automation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	automation.IsActive = !automation.IsActive
	automation.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(automation).Error; err != nil {
		return nil, err
	}
	if !automation.IsActive && s.dispatcher != nil {
		cancelled, err := s.dispatcher.CancelPending(ctx, id)
		if err != nil {
			s.logger.Warnf("automation %d: cancel pending failed: %v", id, err)
		} else if cancelled > 0 {
			s.logger.Infof("automation %d: cancelled %d pending delayed actions", id, cancelled)
		}
	}
	return automation, nil
}

// ListRuns returns the audit trail for one automation, newest first.
func (s *AutomationService) ListRuns(ctx context.Context, automationID uint, limit int) ([]models.AutomationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.AutomationRun
	if err := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// HandleEvent evaluates every active automation subscribed to the event's
// trigger type. Evaluations are independent and run concurrently; a miss
// (trigger or conditions) mutates nothing and is not an error.
func (s *AutomationService) HandleEvent(ctx context.Context, evt AutomationEvent) []EvaluationResult {
	ctx, span := s.tracer.Start(ctx, "automation.handle_event")
	defer span.End()

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("event.trigger_type", evt.TriggerType),
	)

	var automations []models.Automation
	if err := s.db.WithContext(ctx).
		Where("trigger_type = ? AND is_active = ?", evt.TriggerType, true).
		Find(&automations).Error; err != nil {
		s.logger.Warnf("automation: load for event %s failed: %v", evt.TriggerType, err)
		return nil
	}
	if len(automations) == 0 {
		return nil
	}

	// No shared mutable state across automations; fan out per rule.
	results := make([]EvaluationResult, len(automations))
	var wg sync.WaitGroup
	for i := range automations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.evaluateAutomation(ctx, automations[i], evt)
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		metrics.IncAutomationRun(result.Status)
	}
	return results
}

func (s *AutomationService) evaluateAutomation(ctx context.Context, automation models.Automation, evt AutomationEvent) EvaluationResult {
	result := EvaluationResult{AutomationID: automation.ID, Name: automation.Name}

	triggerParams, conditions, actions, err := decodeDefinition(&automation)
	if err != nil {
		// Validated at save time; a decode failure here means the stored
		// row was tampered with. Treated as a miss, not a crash.
		s.logger.Warnf("automation %d: stored definition unreadable: %v", automation.ID, err)
		result.Status = EvalConditionsFailed
		return result
	}

	if !matchTrigger(TriggerConfig{Type: automation.TriggerType, Params: triggerParams}, evt) {
		result.Status = EvalSkippedTrigger
		return result
	}

	passed, conditionResults := EvaluateConditions(evt.Payload, conditions)
	result.Conditions = conditionResults
	if !passed {
		result.Status = EvalConditionsFailed
		return result
	}

	result.Status = EvalExecuted
	result.Outcomes = s.dispatchMatched(ctx, &automation, evt, conditionResults, actions)
	return result
}

// dispatchMatched records the run, hands the action list to the
// dispatcher, and bumps run statistics.
func (s *AutomationService) dispatchMatched(ctx context.Context, automation *models.Automation, evt AutomationEvent, conditionResults []ConditionResult, actions []Action) []DispatchOutcome {
	execTrace := ExecutionTrace{
		AllConditionsPassed:  true,
		ConditionsEvaluation: conditionResults,
	}
	traceJSON, _ := json.Marshal(execTrace)
	run := &models.AutomationRun{
		AutomationID: automation.ID,
		EventID:      evt.ID,
		TriggerType:  evt.TriggerType,
		Trace:        string(traceJSON),
		CreatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		s.logger.Warnf("automation %d: record run failed: %v", automation.ID, err)
	}

	dc := DispatchContext{
		AutomationID: automation.ID,
		RunID:        run.ID,
		EventID:      evt.ID,
		Payload:      evt.Payload,
	}
	outcomes := s.dispatcher.Dispatch(ctx, dc, actions)

	// Single UPDATE with a SQL expression: concurrent events matching the
	// same automation must not lose increments to read-modify-write races.
	if err := s.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ?", automation.ID).
		Updates(map[string]interface{}{
			"run_count":   gorm.Expr("run_count + ?", 1),
			"last_run_at": time.Now(),
		}).Error; err != nil {
		s.logger.Warnf("automation %d: update run stats failed: %v", automation.ID, err)
	}

	s.logger.Infof("automation %d (%s): matched event %s, dispatched %d actions", automation.ID, automation.Name, evt.TriggerType, len(actions))
	return outcomes
}

// matchTrigger applies the type-specific trigger parameter gate.
func matchTrigger(trigger TriggerConfig, evt AutomationEvent) bool {
	if trigger.Type != evt.TriggerType {
		return false
	}
	switch trigger.Type {
	case TriggerDaysWithoutMovement:
		threshold, ok := numberParam(trigger.Params, "days")
		if !ok {
			return false
		}
		value, found := ResolveField(evt.Payload, "days_since_last_movement")
		days, numeric := toFloat(value)
		return found && numeric && days >= threshold
	case TriggerMatchScoreThreshold:
		threshold, ok := numberParam(trigger.Params, "min_score")
		if !ok {
			return false
		}
		value, found := ResolveField(evt.Payload, "match_score")
		score, numeric := toFloat(value)
		return found && numeric && score >= threshold
	case TriggerStatusChanged:
		want, _ := stringParam(trigger.Params, "new_status")
		if want == "" {
			return true // any status change matches
		}
		value, found := ResolveField(evt.Payload, "application.new_status")
		if !found {
			value, found = ResolveField(evt.Payload, "new_status")
		}
		return found && fmt.Sprintf("%v", value) == want
	default:
		// application_received, interview_scheduled: type match suffices.
		return true
	}
}

// --- definition encoding/validation ---

func buildAutomation(req *AutomationRequest) (*models.Automation, error) {
	triggerParams, err := json.Marshal(orEmptyParams(req.Trigger.Params))
	if err != nil {
		return nil, &ValidationError{Field: "trigger.params", Reason: err.Error()}
	}
	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, &ValidationError{Field: "conditions", Reason: err.Error()}
	}
	actions := make([]Action, len(req.Actions))
	copy(actions, req.Actions)
	for i := range actions {
		if actions[i].ID == "" {
			actions[i].ID = uuid.New().String()
		}
	}
	actJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, &ValidationError{Field: "actions", Reason: err.Error()}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := time.Now()
	return &models.Automation{
		Name:          req.Name,
		Description:   req.Description,
		TriggerType:   req.Trigger.Type,
		TriggerParams: string(triggerParams),
		Conditions:    string(condJSON),
		Actions:       string(actJSON),
		IsActive:      active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func decodeDefinition(a *models.Automation) (map[string]interface{}, []Condition, []Action, error) {
	params := map[string]interface{}{}
	if a.TriggerParams != "" {
		if err := json.Unmarshal([]byte(a.TriggerParams), &params); err != nil {
			return nil, nil, nil, fmt.Errorf("trigger params: %w", err)
		}
	}
	var conditions []Condition
	if a.Conditions != "" {
		if err := json.Unmarshal([]byte(a.Conditions), &conditions); err != nil {
			return nil, nil, nil, fmt.Errorf("conditions: %w", err)
		}
	}
	var actions []Action
	if a.Actions != "" {
		if err := json.Unmarshal([]byte(a.Actions), &actions); err != nil {
			return nil, nil, nil, fmt.Errorf("actions: %w", err)
		}
	}
	return params, conditions, actions, nil
}

// requiredTriggerParams lists the numeric/string params each trigger type
// must carry. status_changed's new_status is optional by design.
var requiredTriggerParams = map[string][]string{
	TriggerDaysWithoutMovement: {"days"},
	TriggerMatchScoreThreshold: {"min_score"},
}

// requiredActionParams lists the params each action type must carry.
var requiredActionParams = map[string][]string{
	ActionSendEmail:     {"template"},
	ActionSendWhatsApp:  {"template"},
	ActionMoveStage:     {"stage_name"},
	ActionAddTag:        {"tag"},
	ActionAddNote:       {"content"},
	ActionNotifyManager: {"message"},
	ActionSendTest:      {"test_type"},
}

func validateAutomation(req *AutomationRequest) error {
	if !IsSupportedTriggerType(req.Trigger.Type) {
		return &ValidationError{Field: "trigger.type", Reason: fmt.Sprintf("unsupported trigger type %q", req.Trigger.Type)}
	}
	for _, key := range requiredTriggerParams[req.Trigger.Type] {
		value, ok := numberParam(req.Trigger.Params, key)
		if !ok {
			return &ValidationError{Field: "trigger.params." + key, Reason: "required integer param missing or not numeric"}
		}
		if value != math.Trunc(value) {
			return &ValidationError{Field: "trigger.params." + key, Reason: "must be an integer"}
		}
	}

	for i, cond := range req.Conditions {
		if cond.Field == "" {
			return &ValidationError{Field: fmt.Sprintf("conditions[%d].field", i), Reason: "required"}
		}
		if !IsSupportedOperator(cond.Operator) {
			return &ValidationError{Field: fmt.Sprintf("conditions[%d].operator", i), Reason: fmt.Sprintf("unknown operator %q", cond.Operator)}
		}
		if i == 0 {
			if cond.Logic != "" {
				return &ValidationError{Field: "conditions[0].logic", Reason: "first condition has no predecessor to combine with"}
			}
			continue
		}
		if cond.Logic != LogicAnd && cond.Logic != LogicOr {
			return &ValidationError{Field: fmt.Sprintf("conditions[%d].logic", i), Reason: "must be AND or OR"}
		}
	}

	for i, action := range req.Actions {
		if !IsSupportedActionType(action.Type) {
			return &ValidationError{Field: fmt.Sprintf("actions[%d].type", i), Reason: fmt.Sprintf("unsupported action type %q", action.Type)}
		}
		if action.DelayMinutes < 0 {
			return &ValidationError{Field: fmt.Sprintf("actions[%d].delay_minutes", i), Reason: "must be non-negative"}
		}
		for _, key := range requiredActionParams[action.Type] {
			value, ok := stringParam(action.Params, key)
			if !ok || value == "" {
				return &ValidationError{Field: fmt.Sprintf("actions[%d].params.%s", i, key), Reason: "required"}
			}
		}
	}
	return nil
}

// --- param accessors ---

func orEmptyParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	return params
}

func numberParam(params map[string]interface{}, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	value, ok := params[key]
	if !ok {
		return 0, false
	}
	return toFloat(value)
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	value, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}
