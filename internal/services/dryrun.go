package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// ExecutionTrace is the result of a dry run, and the shape persisted with
// real runs for auditing.
type ExecutionTrace struct {
	AllConditionsPassed  bool              `json:"all_conditions_passed"`
	ConditionsEvaluation []ConditionResult `json:"conditions_evaluation"`
	ActionsPreview       []ActionPreview   `json:"actions_preview,omitempty"`
}

// ActionPreview reports whether an action would fire. All actions share the
// one condition gate, so would_execute mirrors all_conditions_passed.
type ActionPreview struct {
	Type         string                 `json:"type"`
	Params       map[string]interface{} `json:"params"`
	DelayMinutes int                    `json:"delay_minutes"`
	WouldExecute bool                   `json:"would_execute"`
}

// TestAutomation evaluates an automation against a sample payload without
// invoking executors, scheduling anything, or touching run statistics.
// Trigger compatibility is checked only informationally: the caller wants
// to see condition/action behavior regardless of the sample's event type.
func (s *AutomationService) TestAutomation(ctx context.Context, id uint, payload map[string]interface{}) (*ExecutionTrace, error) {
	ctx, span := s.tracer.Start(ctx, "automation.test")
	defer span.End()
	span.SetAttributes(attribute.Int("automation.id", int(id)))

	automation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	triggerParams, conditions, actions, err := decodeDefinition(automation)
	if err != nil {
		return nil, err
	}

	trigger := TriggerConfig{Type: automation.TriggerType, Params: triggerParams}
	if !matchTrigger(trigger, AutomationEvent{TriggerType: automation.TriggerType, Payload: payload}) {
		s.logger.Infof("automation %d: dry run payload would not satisfy the %s trigger gate", id, automation.TriggerType)
	}

	passed, conditionResults := EvaluateConditions(payload, conditions)
	result := &ExecutionTrace{
		AllConditionsPassed:  passed,
		ConditionsEvaluation: conditionResults,
		ActionsPreview:       make([]ActionPreview, 0, len(actions)),
	}
	for _, action := range actions {
		result.ActionsPreview = append(result.ActionsPreview, ActionPreview{
			Type:         action.Type,
			Params:       action.Params,
			DelayMinutes: action.DelayMinutes,
			WouldExecute: passed,
		})
	}
	span.SetAttributes(attribute.Bool("automation.test.passed", passed))
	return result, nil
}
