package models

import "time"

// Automation 自动化规则定义：trigger + conditions + actions
type Automation struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Name          string `gorm:"not null" json:"name"`
	Description   string `gorm:"type:text" json:"description"`
	TriggerType   string `gorm:"not null;index" json:"trigger_type"` // application_received, status_changed, interview_scheduled, days_without_movement, match_score_threshold
	TriggerParams string `gorm:"type:text" json:"trigger_params"`    // JSON object, required keys depend on trigger_type
	Conditions    string `gorm:"type:text" json:"conditions"`        // JSON: [{field,operator,value,logic}]
	Actions       string `gorm:"type:text" json:"actions"`           // JSON: [{id,type,params,delay_minutes}]
	// 不能用 gorm default 标签：Create 会忽略零值 false，导致停用状态无法落库
	IsActive  bool       `json:"is_active"`
	RunCount  int64      `json:"run_count"`
	LastRunAt *time.Time `json:"last_run_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AutomationRun 执行记录用于审计，仅在触发+条件均通过并派发后写入
type AutomationRun struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AutomationID uint      `gorm:"index" json:"automation_id"`
	EventID      string    `gorm:"index" json:"event_id"`
	TriggerType  string    `json:"trigger_type"`
	Trace        string    `gorm:"type:text" json:"trace"` // JSON ExecutionTrace
	CreatedAt    time.Time `json:"created_at"`
}

// ActionOutcome 单个动作的派发结果
type ActionOutcome struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RunID        uint       `gorm:"index" json:"run_id"`
	AutomationID uint       `gorm:"index" json:"automation_id"`
	ActionType   string     `json:"action_type"`
	Status       string     `gorm:"index" json:"status"` // executed, failed, scheduled, schedule_failed, done, cancelled
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	DelayMinutes int        `json:"delay_minutes"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ScheduledAction is a durable delay-queue row. Delayed actions are
// persisted with a due time so they survive process restarts; the
// dispatcher's scheduler loop claims and executes them at-least-once.
type ScheduledAction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AutomationID uint      `gorm:"index" json:"automation_id"`
	OutcomeID    uint      `gorm:"index" json:"outcome_id"`
	EventID      string    `json:"event_id"`
	ActionType   string    `json:"action_type"`
	Params       string    `gorm:"type:text" json:"params"`  // JSON action params
	Context      string    `gorm:"type:text" json:"context"` // JSON event payload snapshot
	DueAt        time.Time `gorm:"index" json:"due_at"`
	Status       string    `gorm:"index" json:"status"` // pending, processing, done, failed, cancelled
	Attempts     int       `json:"attempts"`
	LastError    string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AutomationTemplate 预置自动化蓝本，只读目录，可克隆为可编辑的 Automation
type AutomationTemplate struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"unique;not null" json:"name"`
	Description   string    `gorm:"type:text" json:"description"`
	Category      string    `gorm:"index" json:"category"`
	TriggerType   string    `gorm:"not null" json:"trigger_type"`
	TriggerParams string    `gorm:"type:text" json:"trigger_params"`
	Conditions    string    `gorm:"type:text" json:"conditions"`
	Actions       string    `gorm:"type:text" json:"actions"`
	CreatedAt     time.Time `json:"created_at"`
}
