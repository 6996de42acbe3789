package tasks

import (
	"errors"
	"time"
)

var (
	// ErrTaskNotFound covers absent and foreign-owned tasks. Ownership
	// failures are indistinguishable from absence by design.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrMaxDepthExceeded indicates a create or move would nest deeper than
	// the allowed task tree depth.
	ErrMaxDepthExceeded = errors.New("tasks: maximum nesting depth exceeded")
	// ErrInvalidTitle indicates an empty or oversized title.
	ErrInvalidTitle = errors.New("tasks: invalid title")
	// ErrInvalidClientID indicates a missing client-generated identifier.
	ErrInvalidClientID = errors.New("tasks: invalid client id")
)

// Task is a single todo item. Tasks form a tree via ParentTaskID; Depth is
// derived (root=0, child=parent+1) and never stored independently of the
// parent link. UpdatedAt is managed explicitly because sync pushes write
// client-supplied timestamps.
type Task struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ClientID     string     `gorm:"column:client_id;size:190;not null;index:idx_tasks_user_client,priority:2" json:"client_id"`
	UserID       int64      `gorm:"column:user_id;not null;index:idx_tasks_user_client,priority:1;index:idx_tasks_user_updated,priority:1" json:"-"`
	TabID        *int64     `gorm:"column:tab_id" json:"tab_id"`
	ParentTaskID *int64     `gorm:"column:parent_task_id;index" json:"parent_task_id"`
	Title        string     `gorm:"column:title;size:1000;not null" json:"title"`
	Description  *string    `gorm:"column:description;type:text" json:"description"`
	IsCompleted  bool       `gorm:"column:is_completed;not null;default:false" json:"is_completed"`
	DueDate      *string    `gorm:"column:due_date;size:10" json:"due_date"`
	DueTime      *string    `gorm:"column:due_time;size:8" json:"due_time"`
	Depth        int        `gorm:"column:depth;not null;default:0" json:"depth"`
	OrderIndex   int        `gorm:"column:order_index;not null;default:0" json:"order_index"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at"`
	IsDeleted    bool       `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null;index:idx_tasks_user_updated,priority:2" json:"updated_at"`

	// HasIncompleteChildren is computed per query, never persisted.
	HasIncompleteChildren bool `gorm:"-" json:"has_incomplete_children"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}
