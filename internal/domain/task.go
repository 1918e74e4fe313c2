package domain

import (
	"context"
	"time"
)

// TaskStatus is the lifecycle state of a task in the team's task list.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Created, not started
	TaskInProgress TaskStatus = "in_progress" // An agent is working on it
	TaskCompleted  TaskStatus = "completed"   // Done
	TaskDeleted    TaskStatus = "deleted"     // Tombstoned, hidden from lists
)

// AllTaskStatuses returns all valid status values.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskDeleted}
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	for _, v := range AllTaskStatuses() {
		if s == v {
			return true
		}
	}
	return false
}

// Task is one record of a team's task list, stored as <id>.json.
// Fields are ordered to minimize memory padding.
type Task struct {
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	ActiveForm  string     `json:"activeForm,omitempty"`
	Status      TaskStatus `json:"status"`
	Owner       string     `json:"owner,omitempty"`
	Blocks      []string   `json:"blocks"`
	BlockedBy   []string   `json:"blockedBy"`
}

// IsBlocked reports whether any dependency is recorded.
func (t *Task) IsBlocked() bool {
	return len(t.BlockedBy) > 0
}

// NewTaskInput holds the fields accepted when creating a task.
type NewTaskInput struct {
	Subject     string
	Description string
	ActiveForm  string
	Owner       string
	BlockedBy   []string
}

// TaskUpdate holds the fields to change; nil means unchanged.
type TaskUpdate struct {
	Subject     *string
	Description *string
	ActiveForm  *string
	Status      *TaskStatus
	Owner       *string
	BlockedBy   []string
}

// IsEmpty reports whether the update changes nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Subject == nil && u.Description == nil && u.ActiveForm == nil &&
		u.Status == nil && u.Owner == nil && u.BlockedBy == nil
}

// TaskRepository manages the team's task files.
type TaskRepository interface {
	// Create assigns the next sequential ID ("1", "2", ...) and persists the task.
	Create(ctx context.Context, in NewTaskInput) (*Task, error)

	// Get returns the task or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns all non-deleted tasks ordered by numeric ID.
	List(ctx context.Context) ([]*Task, error)

	// Update applies the non-nil fields of u.
	Update(ctx context.Context, id string, u TaskUpdate) (*Task, error)

	// Destroy removes the whole task directory.
	Destroy(ctx context.Context) error
}
