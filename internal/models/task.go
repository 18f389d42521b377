// internal/models/task.go
package models

import "time"

// TaskStatus defines the possible statuses for a task.
type TaskStatus string

const (
	StatusNew        TaskStatus = "new"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Task represents a task row. A row with IsRecurring=true is a template: it
// keeps NextOccurrence pointing at the occurrence still pending generation
// and spawns non-recurring copies of itself. Generated instances carry
// ParentRecurringTaskID back to the template and never recur themselves.
type Task struct {
	ID          int64        `json:"id"`
	CreatorID   int64        `json:"creator_id"`
	AssigneeID  int64        `json:"assignee_id"`
	LeadID      *int64       `json:"lead_id,omitempty"`
	AccountID   *int64       `json:"account_id,omitempty"`
	ProjectID   *int64       `json:"project_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`

	IsRecurring           bool       `json:"is_recurring"`
	RecurrencePattern     string     `json:"recurrence_pattern,omitempty"`
	RecurrenceInterval    int        `json:"recurrence_interval,omitempty"`
	RecurrenceEndDate     *time.Time `json:"recurrence_end_date,omitempty"`
	NextOccurrence        *time.Time `json:"next_occurrence,omitempty"`
	ParentRecurringTaskID *int64     `json:"parent_recurring_task_id,omitempty"`

	// Additional assignees beyond AssigneeID; loaded by the due-set query
	// and copied onto every generated instance.
	ExtraAssigneeIDs []int64 `json:"extra_assignee_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskFilter defines the available parameters for filtering tasks.
type TaskFilter struct {
	AssigneeID  *int64
	CreatorID   *int64
	LeadID      *int64
	AccountID   *int64
	Status      *TaskStatus
	IsRecurring *bool
}
