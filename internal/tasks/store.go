package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/scope"
	"github.com/lumenworks/taskpilot/backend/internal/tabs"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// StoreConfig describes the dependencies required by the task store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store owns persistence for tasks. Every operation takes a scope and only
// ever touches rows belonging to the scoped user.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore constructs the task store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tasks: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// Today returns tasks due today or overdue. Completed items stay visible
// for the rest of the day they were completed, then drop out of the view.
func (s *Store) Today(ctx context.Context, sc scope.Scope) ([]Task, error) {
	now := s.clock().UTC()
	today := now.Format("2006-01-02")
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var result []Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", sc.UserID(), false).
		Where("due_date IS NOT NULL AND due_date <= ?", today).
		Where("is_completed = ? OR completed_at >= ?", false, startOfDay).
		Order("due_date ASC, order_index ASC, id ASC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	if err := s.annotateChildFlags(ctx, sc, result); err != nil {
		return nil, err
	}
	return result, nil
}

// All returns every live task for the user.
func (s *Store) All(ctx context.Context, sc scope.Scope, includeCompleted bool) ([]Task, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", sc.UserID(), false)
	if !includeCompleted {
		query = query.Where("is_completed = ?", false)
	}

	var result []Task
	if err := query.Order("order_index ASC, id ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	if err := s.annotateChildFlags(ctx, sc, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ByTab returns the live tasks attached to an owned tab.
func (s *Store) ByTab(ctx context.Context, sc scope.Scope, tabID int64, includeCompleted bool) ([]Task, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND tab_id = ? AND is_deleted = ?", sc.UserID(), tabID, false)
	if !includeCompleted {
		query = query.Where("is_completed = ?", false)
	}

	var result []Task
	if err := query.Order("order_index ASC, id ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	if err := s.annotateChildFlags(ctx, sc, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateParams carries input for task creation.
type CreateParams struct {
	ClientID     string
	TabID        *int64
	ParentTaskID *int64
	Title        string
	Description  *string
	DueDate      *string
	DueTime      *string
}

// Create persists a new task, computing its depth from the parent and
// rejecting trees deeper than MaxTaskDepth.
func (s *Store) Create(ctx context.Context, sc scope.Scope, params CreateParams) (*Task, error) {
	clientID := params.ClientID
	if clientID == "" || len(clientID) > 190 {
		return nil, ErrInvalidClientID
	}
	title, err := ValidateTitle(params.Title)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	task := Task{
		ClientID:     clientID,
		UserID:       sc.UserID(),
		TabID:        params.TabID,
		ParentTaskID: params.ParentTaskID,
		Title:        title,
		Description:  params.Description,
		DueDate:      params.DueDate,
		DueTime:      params.DueTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if params.TabID != nil {
			if err := requireOwnedTab(tx, sc, *params.TabID); err != nil {
				return err
			}
		}
		depth, err := ResolveDepth(tx, sc, params.ParentTaskID)
		if err != nil {
			return err
		}
		task.Depth = depth

		next, err := nextOrderIndex(tx, sc, params.TabID, params.ParentTaskID)
		if err != nil {
			return err
		}
		task.OrderIndex = next

		return tx.Create(&task).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &task, nil
}

// UpdateParams carries the mutable task fields; nil means leave unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
	DueDate     *string
	DueTime     *string
	TabID       *int64
}

// Update applies the provided fields to an owned task.
func (s *Store) Update(ctx context.Context, sc scope.Scope, taskID int64, params UpdateParams) (*Task, error) {
	updates := map[string]interface{}{}
	if params.Title != nil {
		title, err := ValidateTitle(*params.Title)
		if err != nil {
			return nil, err
		}
		updates["title"] = title
	}
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.DueDate != nil {
		updates["due_date"] = *params.DueDate
	}
	if params.DueTime != nil {
		updates["due_time"] = *params.DueTime
	}

	var task Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOwnedTask(tx, sc, taskID, &task); err != nil {
			return err
		}
		if params.TabID != nil {
			if err := requireOwnedTab(tx, sc, *params.TabID); err != nil {
				return err
			}
			updates["tab_id"] = *params.TabID
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.clock().UTC()
		if err := tx.Model(&task).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", task.ID).Take(&task).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &task, nil
}

// Complete toggles the completion flag, setting or clearing completed_at in
// the same write.
func (s *Store) Complete(ctx context.Context, sc scope.Scope, taskID int64, isCompleted bool) (*Task, error) {
	now := s.clock().UTC()
	updates := map[string]interface{}{
		"is_completed": isCompleted,
		"updated_at":   now,
	}
	if isCompleted {
		updates["completed_at"] = now
	} else {
		updates["completed_at"] = nil
	}

	var task Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOwnedTask(tx, sc, taskID, &task); err != nil {
			return err
		}
		if err := tx.Model(&task).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", task.ID).Take(&task).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &task, nil
}

// Move reassigns a task to another tab owned by the same user.
func (s *Store) Move(ctx context.Context, sc scope.Scope, taskID, newTabID int64) (*Task, error) {
	var task Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOwnedTask(tx, sc, taskID, &task); err != nil {
			return err
		}
		if err := requireOwnedTab(tx, sc, newTabID); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"tab_id":     newTabID,
			"updated_at": s.clock().UTC(),
		}
		if err := tx.Model(&task).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", task.ID).Take(&task).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &task, nil
}

// Delete soft-deletes a task and every descendant in one transaction and
// returns the number of rows affected.
func (s *Store) Delete(ctx context.Context, sc scope.Scope, taskID int64) (int64, error) {
	var affected int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var root Task
		if err := loadOwnedTask(tx, sc, taskID, &root); err != nil {
			return err
		}

		ids, err := collectSubtreeIDs(tx, sc, root.ID)
		if err != nil {
			return err
		}

		now := s.clock().UTC()
		result := tx.Model(&Task{}).
			Where("user_id = ? AND id IN ?", sc.UserID(), ids).
			Updates(map[string]interface{}{"is_deleted": true, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return affected, nil
}

// collectSubtreeIDs walks the task tree breadth-first by parent index. The
// tree is stored flat, so children are found by id lookups, never by
// embedded references.
func collectSubtreeIDs(tx *gorm.DB, sc scope.Scope, rootID int64) ([]int64, error) {
	ids := []int64{rootID}
	frontier := []int64{rootID}
	for len(frontier) > 0 {
		var children []int64
		err := tx.Model(&Task{}).
			Where("user_id = ? AND parent_task_id IN ? AND is_deleted = ?", sc.UserID(), frontier, false).
			Pluck("id", &children).Error
		if err != nil {
			return nil, err
		}
		ids = append(ids, children...)
		frontier = children
	}
	return ids, nil
}

func loadOwnedTask(tx *gorm.DB, sc scope.Scope, taskID int64, out *Task) error {
	err := tx.Where("id = ? AND user_id = ? AND is_deleted = ?", taskID, sc.UserID(), false).
		Take(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTaskNotFound
	}
	return err
}

func requireOwnedTab(tx *gorm.DB, sc scope.Scope, tabID int64) error {
	var tab tabs.Tab
	err := tx.Where("id = ? AND user_id = ? AND is_deleted = ?", tabID, sc.UserID(), false).
		Take(&tab).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tabs.ErrTabNotFound
	}
	return err
}

func nextOrderIndex(tx *gorm.DB, sc scope.Scope, tabID, parentID *int64) (int, error) {
	query := tx.Model(&Task{}).
		Where("user_id = ? AND is_deleted = ?", sc.UserID(), false)
	if tabID != nil {
		query = query.Where("tab_id = ?", *tabID)
	} else {
		query = query.Where("tab_id IS NULL")
	}
	if parentID != nil {
		query = query.Where("parent_task_id = ?", *parentID)
	} else {
		query = query.Where("parent_task_id IS NULL")
	}

	var max *int
	if err := query.Select("MAX(order_index)").Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max + 1, nil
}

type childCount struct {
	ParentTaskID int64
	Count        int64
}

func (s *Store) annotateChildFlags(ctx context.Context, sc scope.Scope, items []Task) error {
	if len(items) == 0 {
		return nil
	}
	parentIDs := make([]int64, 0, len(items))
	for _, item := range items {
		parentIDs = append(parentIDs, item.ID)
	}

	var counts []childCount
	err := s.db.WithContext(ctx).Model(&Task{}).
		Select("parent_task_id, COUNT(*) AS count").
		Where("user_id = ? AND parent_task_id IN ? AND is_completed = ? AND is_deleted = ?",
			sc.UserID(), parentIDs, false, false).
		Group("parent_task_id").
		Scan(&counts).Error
	if err != nil {
		return err
	}

	incomplete := make(map[int64]bool, len(counts))
	for _, c := range counts {
		if c.Count > 0 {
			incomplete[c.ParentTaskID] = true
		}
	}
	for i := range items {
		items[i].HasIncompleteChildren = incomplete[items[i].ID]
	}
	return nil
}
