package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hireflow/internal/metrics"
	"hireflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Action types executable by automations. The set is closed: anything else
// is rejected when the automation is saved.
const (
	ActionSendEmail     = "send_email"
	ActionSendWhatsApp  = "send_whatsapp"
	ActionMoveStage     = "move_stage"
	ActionAddTag        = "add_tag"
	ActionAddNote       = "add_note"
	ActionNotifyManager = "notify_manager"
	ActionSendTest      = "send_test"
)

var supportedActionTypes = map[string]bool{
	ActionSendEmail:     true,
	ActionSendWhatsApp:  true,
	ActionMoveStage:     true,
	ActionAddTag:        true,
	ActionAddNote:       true,
	ActionNotifyManager: true,
	ActionSendTest:      true,
}

// IsSupportedActionType reports whether t belongs to the closed action set.
func IsSupportedActionType(t string) bool {
	return supportedActionTypes[t]
}

// Action describes one side effect to perform when an automation fires.
// ID is a local identifier for list editing in the rule builder; it has no
// meaning outside the owning automation.
type Action struct {
	ID           string                 `json:"id,omitempty"`
	Type         string                 `json:"type"`
	Params       map[string]interface{} `json:"params"`
	DelayMinutes int                    `json:"delay_minutes,omitempty"`
}

// Dispatch outcome statuses.
const (
	OutcomeExecuted       = "executed"
	OutcomeFailed         = "failed"          // executor failure, isolated to the action
	OutcomeScheduled      = "scheduled"       // handed to the delay queue
	OutcomeScheduleFailed = "schedule_failed" // the delay queue could not persist the action
	OutcomeDone           = "done"            // delayed action completed
	OutcomeCancelled      = "cancelled"
)

// Scheduled action queue statuses.
const (
	schedulePending    = "pending"
	scheduleProcessing = "processing"
	scheduleDone       = "done"
	scheduleFailed     = "failed"
	scheduleCancelled  = "cancelled"
)

// ActionExecutor is the external capability invoked for one action type.
// The dispatcher only selects the executor and forwards params plus the
// event payload; delivery details (email, WhatsApp, stage moves) live
// behind this interface.
type ActionExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error

func (f ExecutorFunc) Execute(ctx context.Context, params map[string]interface{}, payload map[string]interface{}) error {
	return f(ctx, params, payload)
}

// DispatchContext identifies the evaluation a dispatch belongs to and
// carries the event payload executors may need.
type DispatchContext struct {
	AutomationID uint
	RunID        uint
	EventID      string
	Payload      map[string]interface{}
}

// DispatchOutcome is the in-memory result for one action, returned to the
// caller and mirrored into the action_outcomes audit table.
type DispatchOutcome struct {
	ActionType   string     `json:"action_type"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	DelayMinutes int        `json:"delay_minutes,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// ActionDispatcher executes action lists in order, immediately or through
// the durable delay queue, and records per-action outcomes.
type ActionDispatcher struct {
	db           *gorm.DB
	logger       *logrus.Logger
	tracer       trace.Tracer
	requeueAfter time.Duration

	mu        sync.RWMutex
	executors map[string]ActionExecutor
	feed      *RunFeedHub
}

func NewActionDispatcher(db *gorm.DB, logger *logrus.Logger) *ActionDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionDispatcher{
		db:           db,
		logger:       logger,
		tracer:       otel.Tracer("hireflow.dispatcher"),
		requeueAfter: 5 * time.Minute,
		executors:    make(map[string]ActionExecutor),
	}
}

// Register installs the executor for an action type, replacing any
// previous one.
func (d *ActionDispatcher) Register(actionType string, exec ActionExecutor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[actionType] = exec
}

// SetRunFeed injects an optional live feed for dispatched outcomes.
func (d *ActionDispatcher) SetRunFeed(hub *RunFeedHub) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feed = hub
}

// SetRequeueAfter overrides how long a claimed delayed action may sit in
// processing before the scheduler re-delivers it.
func (d *ActionDispatcher) SetRequeueAfter(after time.Duration) {
	if after > 0 {
		d.requeueAfter = after
	}
}

func (d *ActionDispatcher) executor(actionType string) (ActionExecutor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	exec, ok := d.executors[actionType]
	return exec, ok
}

// Dispatch runs the action list in order. Actions with a delay are handed
// to the delay queue and do not block later actions; one action's failure
// never cancels its siblings. There is no transactional grouping.
func (d *ActionDispatcher) Dispatch(ctx context.Context, dc DispatchContext, actions []Action) []DispatchOutcome {
	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("dispatch.automation_id", int(dc.AutomationID)),
		attribute.Int("dispatch.actions", len(actions)),
	)

	outcomes := make([]DispatchOutcome, 0, len(actions))
	for _, action := range actions {
		var out DispatchOutcome
		if action.DelayMinutes > 0 {
			out = d.schedule(ctx, dc, action)
		} else {
			out = d.executeNow(ctx, dc, action)
		}
		metrics.IncActionOutcome(out.Status)
		d.publish(dc, out)
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (d *ActionDispatcher) executeNow(ctx context.Context, dc DispatchContext, action Action) DispatchOutcome {
	out := DispatchOutcome{ActionType: action.Type, Status: OutcomeExecuted}

	exec, ok := d.executor(action.Type)
	if !ok {
		out.Status = OutcomeFailed
		out.Error = fmt.Sprintf("no executor registered for action type %q", action.Type)
	} else if err := safeExecute(ctx, exec, action.Params, dc.Payload); err != nil {
		out.Status = OutcomeFailed
		out.Error = err.Error()
		d.logger.Warnf("automation %d: action %s failed: %v", dc.AutomationID, action.Type, err)
	}

	d.persistOutcome(ctx, dc, action, out, timePtr(time.Now()))
	return out
}

func (d *ActionDispatcher) schedule(ctx context.Context, dc DispatchContext, action Action) DispatchOutcome {
	due := time.Now().Add(time.Duration(action.DelayMinutes) * time.Minute)
	out := DispatchOutcome{
		ActionType:   action.Type,
		Status:       OutcomeScheduled,
		DelayMinutes: action.DelayMinutes,
		ScheduledFor: &due,
	}

	record := d.persistOutcome(ctx, dc, action, out, nil)

	paramsJSON, err := json.Marshal(action.Params)
	if err == nil {
		var contextJSON []byte
		contextJSON, err = json.Marshal(dc.Payload)
		if err == nil {
			scheduled := &models.ScheduledAction{
				AutomationID: dc.AutomationID,
				EventID:      dc.EventID,
				ActionType:   action.Type,
				Params:       string(paramsJSON),
				Context:      string(contextJSON),
				DueAt:        due,
				Status:       schedulePending,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			}
			if record != nil {
				scheduled.OutcomeID = record.ID
			}
			err = d.db.WithContext(ctx).Create(scheduled).Error
		}
	}
	if err != nil {
		// Infrastructure failure: the delay queue could not take the
		// action. Surfaced as a hard per-action outcome, distinct from
		// a downstream executor failure.
		out.Status = OutcomeScheduleFailed
		out.Error = err.Error()
		out.ScheduledFor = nil
		d.logger.Errorf("automation %d: scheduling %s failed: %v", dc.AutomationID, action.Type, err)
		d.updateOutcome(ctx, record, OutcomeScheduleFailed, err.Error(), nil)
	}
	return out
}

// persistOutcome writes the audit row for one action. Audit failures are
// logged, never propagated; they must not affect dispatch.
func (d *ActionDispatcher) persistOutcome(ctx context.Context, dc DispatchContext, action Action, out DispatchOutcome, executedAt *time.Time) *models.ActionOutcome {
	record := &models.ActionOutcome{
		RunID:        dc.RunID,
		AutomationID: dc.AutomationID,
		ActionType:   action.Type,
		Status:       out.Status,
		Error:        out.Error,
		DelayMinutes: action.DelayMinutes,
		ExecutedAt:   executedAt,
		CreatedAt:    time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
		d.logger.Warnf("automation %d: record outcome failed: %v", dc.AutomationID, err)
		return nil
	}
	return record
}

func (d *ActionDispatcher) updateOutcome(ctx context.Context, record *models.ActionOutcome, status, errMsg string, executedAt *time.Time) {
	if record == nil {
		return
	}
	updates := map[string]interface{}{"status": status, "error": errMsg}
	if executedAt != nil {
		updates["executed_at"] = executedAt
	}
	if err := d.db.WithContext(ctx).Model(&models.ActionOutcome{}).Where("id = ?", record.ID).Updates(updates).Error; err != nil {
		d.logger.Warnf("update outcome %d failed: %v", record.ID, err)
	}
}

func (d *ActionDispatcher) publish(dc DispatchContext, out DispatchOutcome) {
	d.mu.RLock()
	feed := d.feed
	d.mu.RUnlock()
	if feed == nil {
		return
	}
	feed.Publish(RunEvent{
		Type:         "action_outcome",
		AutomationID: dc.AutomationID,
		EventID:      dc.EventID,
		Data:         out,
	})
}

// CancelPending cancels not-yet-due delayed actions for an automation,
// normally because it was deactivated. Best effort: an action already
// claimed by the scheduler will still run.
func (d *ActionDispatcher) CancelPending(ctx context.Context, automationID uint) (int64, error) {
	result := d.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("automation_id = ? AND status = ?", automationID, schedulePending).
		Updates(map[string]interface{}{"status": scheduleCancelled, "updated_at": time.Now()})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		if err := d.db.WithContext(ctx).Model(&models.ActionOutcome{}).
			Where("automation_id = ? AND status = ?", automationID, OutcomeScheduled).
			Update("status", OutcomeCancelled).Error; err != nil {
			d.logger.Warnf("automation %d: cancel outcomes failed: %v", automationID, err)
		}
	}
	return result.RowsAffected, nil
}

// StartScheduler runs the delay-queue worker until ctx is cancelled.
func (d *ActionDispatcher) StartScheduler(ctx context.Context, interval time.Duration) {
	d.logger.Info("Starting delayed action scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Delayed action scheduler stopped")
			return
		case <-ticker.C:
			if err := d.processDueActions(ctx); err != nil {
				d.logger.Errorf("Delayed action scheduler error: %v", err)
			}
		}
	}
}

// processDueActions claims and executes due delayed actions. Rows stuck in
// processing longer than requeueAfter are re-delivered, which is what makes
// delivery at-least-once across process crashes.
func (d *ActionDispatcher) processDueActions(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.process_due")
	defer span.End()

	now := time.Now()
	stale := now.Add(-d.requeueAfter)

	var due []models.ScheduledAction
	if err := d.db.WithContext(ctx).
		Where("(status = ? AND due_at <= ?) OR (status = ? AND updated_at <= ?)",
			schedulePending, now, scheduleProcessing, stale).
		Order("due_at").Limit(100).Find(&due).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("load due actions: %w", err)
	}

	executed := 0
	for _, scheduled := range due {
		if !d.claim(ctx, &scheduled) {
			continue // another worker got it first
		}
		d.runScheduled(ctx, scheduled)
		executed++
	}
	if executed > 0 {
		d.logger.Infof("Delayed action scheduler: executed %d of %d due actions", executed, len(due))
	}
	span.SetAttributes(attribute.Int("scheduler.due", len(due)), attribute.Int("scheduler.executed", executed))
	return nil
}

// claim flips the row to processing, guarded on the status it was loaded
// with so two pollers never both run the same action.
func (d *ActionDispatcher) claim(ctx context.Context, scheduled *models.ScheduledAction) bool {
	result := d.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ? AND status = ?", scheduled.ID, scheduled.Status).
		Updates(map[string]interface{}{
			"status":     scheduleProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	return result.Error == nil && result.RowsAffected == 1
}

func (d *ActionDispatcher) runScheduled(ctx context.Context, scheduled models.ScheduledAction) {
	var params map[string]interface{}
	if scheduled.Params != "" {
		if err := json.Unmarshal([]byte(scheduled.Params), &params); err != nil {
			d.finishScheduled(ctx, scheduled, scheduleFailed, fmt.Sprintf("invalid params: %v", err))
			return
		}
	}
	var payload map[string]interface{}
	if scheduled.Context != "" {
		if err := json.Unmarshal([]byte(scheduled.Context), &payload); err != nil {
			d.finishScheduled(ctx, scheduled, scheduleFailed, fmt.Sprintf("invalid context: %v", err))
			return
		}
	}

	exec, ok := d.executor(scheduled.ActionType)
	if !ok {
		d.finishScheduled(ctx, scheduled, scheduleFailed, fmt.Sprintf("no executor registered for action type %q", scheduled.ActionType))
		return
	}
	if err := safeExecute(ctx, exec, params, payload); err != nil {
		d.logger.Warnf("automation %d: delayed action %s failed: %v", scheduled.AutomationID, scheduled.ActionType, err)
		d.finishScheduled(ctx, scheduled, scheduleFailed, err.Error())
		return
	}
	d.finishScheduled(ctx, scheduled, scheduleDone, "")
}

func (d *ActionDispatcher) finishScheduled(ctx context.Context, scheduled models.ScheduledAction, status, errMsg string) {
	if err := d.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ?", scheduled.ID).
		Updates(map[string]interface{}{"status": status, "last_error": errMsg, "updated_at": time.Now()}).Error; err != nil {
		d.logger.Warnf("finish scheduled action %d failed: %v", scheduled.ID, err)
	}

	outcomeStatus := OutcomeDone
	if status == scheduleFailed {
		outcomeStatus = OutcomeFailed
	}
	now := time.Now()
	if scheduled.OutcomeID != 0 {
		d.updateOutcome(ctx, &models.ActionOutcome{ID: scheduled.OutcomeID}, outcomeStatus, errMsg, &now)
	}
	metrics.IncActionOutcome(outcomeStatus)
	d.publish(
		DispatchContext{AutomationID: scheduled.AutomationID, EventID: scheduled.EventID},
		DispatchOutcome{ActionType: scheduled.ActionType, Status: outcomeStatus, Error: errMsg},
	)
}

// safeExecute shields the dispatch loop from a misbehaving executor: a
// panic is converted into a per-action failure instead of taking down the
// event pipeline.
func safeExecute(ctx context.Context, exec ActionExecutor, params, payload map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, params, payload)
}

func timePtr(t time.Time) *time.Time { return &t }
