package services

import (
	"context"
	"testing"

	"hireflow/internal/models"
)

func TestTestAutomation_PassingPayload(t *testing.T) {
	svc, dispatcher, _ := newTestEngine(t)
	exec := &recordingExecutor{}
	dispatcher.Register(ActionSendTest, exec)
	dispatcher.Register(ActionMoveStage, exec)

	automation, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	trace, err := svc.TestAutomation(context.Background(), automation.ID, map[string]interface{}{
		"candidate": map[string]interface{}{"skills": []interface{}{"Python"}},
		"job":       map[string]interface{}{"department": "Tech"},
	})
	if err != nil {
		t.Fatalf("test automation: %v", err)
	}
	if !trace.AllConditionsPassed {
		t.Error("expected conditions to pass")
	}
	if len(trace.ConditionsEvaluation) != 2 {
		t.Errorf("expected 2 condition results, got %d", len(trace.ConditionsEvaluation))
	}
	if len(trace.ActionsPreview) != 2 {
		t.Fatalf("expected 2 action previews, got %d", len(trace.ActionsPreview))
	}
	for _, preview := range trace.ActionsPreview {
		if !preview.WouldExecute {
			t.Errorf("action %s should report would_execute", preview.Type)
		}
	}
	if exec.count() != 0 {
		t.Error("dry run must not invoke executors")
	}
}

func TestTestAutomation_FailingPayload(t *testing.T) {
	svc, _, _ := newTestEngine(t)
	automation, _ := svc.Create(context.Background(), validRequest())

	trace, err := svc.TestAutomation(context.Background(), automation.ID, map[string]interface{}{
		"job": map[string]interface{}{"department": "Sales"},
	})
	if err != nil {
		t.Fatalf("test automation: %v", err)
	}
	if trace.AllConditionsPassed {
		t.Error("expected conditions to fail")
	}
	// 预览仍列出全部动作，标记为不会执行
	if len(trace.ActionsPreview) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(trace.ActionsPreview))
	}
	for _, preview := range trace.ActionsPreview {
		if preview.WouldExecute {
			t.Errorf("action %s should not report would_execute", preview.Type)
		}
	}
}

// 干跑零副作用：无运行统计、无审计行、无排队，重复调用结果一致
func TestTestAutomation_NoSideEffects(t *testing.T) {
	svc, _, db := newTestEngine(t)
	automation, _ := svc.Create(context.Background(), validRequest())

	payload := map[string]interface{}{
		"candidate": map[string]interface{}{"skills": []interface{}{"Python"}},
		"job":       map[string]interface{}{"department": "Tech"},
	}
	first, err := svc.TestAutomation(context.Background(), automation.ID, payload)
	if err != nil {
		t.Fatalf("first dry run: %v", err)
	}
	second, err := svc.TestAutomation(context.Background(), automation.ID, payload)
	if err != nil {
		t.Fatalf("second dry run: %v", err)
	}
	if first.AllConditionsPassed != second.AllConditionsPassed {
		t.Error("dry run is not idempotent")
	}

	var reloaded models.Automation
	db.First(&reloaded, automation.ID)
	if reloaded.RunCount != 0 || reloaded.LastRunAt != nil {
		t.Error("dry run must not touch run stats")
	}
	var runs, outcomes, queued int64
	db.Model(&models.AutomationRun{}).Count(&runs)
	db.Model(&models.ActionOutcome{}).Count(&outcomes)
	db.Model(&models.ScheduledAction{}).Count(&queued)
	if runs != 0 || outcomes != 0 || queued != 0 {
		t.Errorf("dry run left side effects: runs=%d outcomes=%d queued=%d", runs, outcomes, queued)
	}
}

func TestTestAutomation_NotFound(t *testing.T) {
	svc, _, _ := newTestEngine(t)
	if _, err := svc.TestAutomation(context.Background(), 42, map[string]interface{}{}); err != ErrAutomationNotFound {
		t.Errorf("err = %v, want ErrAutomationNotFound", err)
	}
}
