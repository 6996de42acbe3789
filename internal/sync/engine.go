package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/scope"
	"github.com/lumenworks/taskpilot/backend/internal/tabs"
	"github.com/lumenworks/taskpilot/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// EngineError carries an operation.reason code alongside the cause so
// handlers can surface stable codes without string matching.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *EngineError) Code() string {
	return e.code
}

const (
	opEngineNew = "sync.engine.new"
	opPull      = "sync.pull"
	opPush      = "sync.push"
	opResolve   = "sync.resolve"
)

func newEngineError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &EngineError{code: code, err: cause}
}

// EngineConfig describes the dependencies of the sync engine.
type EngineConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Engine reconciles offline client edits with server state. It holds no
// per-device state; the client-supplied watermark drives pulls and entity
// timestamps drive conflict detection on pushes.
type Engine struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewEngine constructs the sync engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newEngineError(opEngineNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newEngineError(opEngineNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Pull returns every tab and task with updated_at after the watermark,
// tombstones included, plus the server timestamp the device should store as
// its next watermark. A nil watermark returns the full state (first sync).
func (e *Engine) Pull(ctx context.Context, sc scope.Scope, deviceID string, lastSyncAt *time.Time) (PullResult, error) {
	result := PullResult{
		Tabs:          []tabs.Tab{},
		Tasks:         []tasks.Task{},
		SyncTimestamp: e.clock().UTC(),
		Conflicts:     []Conflict{},
	}

	tabQuery := e.db.WithContext(ctx).Where("user_id = ?", sc.UserID())
	taskQuery := e.db.WithContext(ctx).Where("user_id = ?", sc.UserID())
	if lastSyncAt != nil {
		tabQuery = tabQuery.Where("updated_at > ?", *lastSyncAt)
		taskQuery = taskQuery.Where("updated_at > ?", *lastSyncAt)
	}

	if err := tabQuery.Order("updated_at ASC, id ASC").Find(&result.Tabs).Error; err != nil {
		e.logError(opPull, "tab_query_failed", err, zap.Int64("user_id", sc.UserID()))
		return PullResult{}, newEngineError(opPull, "tab_query_failed", err)
	}
	if err := taskQuery.Order("updated_at ASC, id ASC").Find(&result.Tasks).Error; err != nil {
		e.logError(opPull, "task_query_failed", err, zap.Int64("user_id", sc.UserID()))
		return PullResult{}, newEngineError(opPull, "task_query_failed", err)
	}

	e.logger.Debug("sync pull served",
		zap.Int64("user_id", sc.UserID()),
		zap.String("device_id", deviceID),
		zap.Int("tabs", len(result.Tabs)),
		zap.Int("tasks", len(result.Tasks)))
	return result, nil
}

// Push applies a single client change, reporting a conflict instead of
// writing when the server copy is strictly newer.
func (e *Engine) Push(ctx context.Context, sc scope.Scope, item PushItem) (Conflict, error) {
	if err := item.validate(); err != nil {
		return Conflict{}, err
	}
	switch item.EntityType {
	case EntityTypeTab:
		return e.pushTab(ctx, sc, item)
	default:
		return e.pushTask(ctx, sc, item)
	}
}

// BatchPush applies push semantics per item. Non-conflicting items commit
// even when others in the batch conflict.
func (e *Engine) BatchPush(ctx context.Context, sc scope.Scope, items []PushItem) (BatchResult, error) {
	result := BatchResult{SyncedIDs: []string{}, Conflicts: []Conflict{}}
	for _, item := range items {
		outcome, err := e.Push(ctx, sc, item)
		if err != nil {
			return BatchResult{}, err
		}
		if outcome.HasConflict {
			result.Conflicts = append(result.Conflicts, outcome)
			continue
		}
		result.SyncedIDs = append(result.SyncedIDs, item.ClientID)
	}
	result.SyncedCount = len(result.SyncedIDs)
	return result, nil
}

// Resolve applies a client's decision for one conflicting entity.
// keep_server echoes the surviving server state; keep_client force-applies
// the client data with updated_at bumped to now. Calling twice with the
// same resolution converges on the same state.
func (e *Engine) Resolve(ctx context.Context, sc scope.Scope, req ResolveRequest) (ResolveResult, error) {
	if req.ClientID == "" || len(req.ClientID) > 190 {
		return ResolveResult{}, ErrInvalidClientID
	}
	if req.EntityType != EntityTypeTab && req.EntityType != EntityTypeTask {
		return ResolveResult{}, fmt.Errorf("%w: %q", ErrInvalidEntityType, req.EntityType)
	}

	switch req.Resolution {
	case ResolutionKeepServer:
		return e.resolveKeepServer(ctx, sc, req)
	case ResolutionKeepClient:
		return e.resolveKeepClient(ctx, sc, req)
	default:
		return ResolveResult{}, fmt.Errorf("%w: %q", ErrInvalidResolution, req.Resolution)
	}
}

func (e *Engine) pushTab(ctx context.Context, sc scope.Scope, item PushItem) (Conflict, error) {
	var payload TabPayload
	if len(item.Data) > 0 {
		if err := json.Unmarshal(item.Data, &payload); err != nil {
			return Conflict{}, fmt.Errorf("%w: malformed tab data: %v", ErrInvalidEntityType, err)
		}
	}

	outcome := Conflict{
		ClientID:        item.ClientID,
		EntityType:      EntityTypeTab,
		ClientUpdatedAt: item.ClientUpdatedAt,
	}

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing tabs.Tab
		var existingUpdatedAt *time.Time
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND client_id = ?", sc.UserID(), item.ClientID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existingUpdatedAt = nil
		case err != nil:
			e.logError(opPush, "tab_select_failed", err, zap.String("client_id", item.ClientID))
			return newEngineError(opPush, "tab_select_failed", err)
		default:
			existingUpdatedAt = &existing.UpdatedAt
		}

		switch detectConflict(existingUpdatedAt, item.ClientUpdatedAt) {
		case verdictCreate:
			created, err := e.createTabFromPayload(tx, sc, item, payload)
			if err != nil {
				return err
			}
			outcome.EntityID = &created.ID
			return e.recordChange(tx, sc, item, ChangeOperationCreate)
		case verdictConflict:
			outcome.HasConflict = true
			outcome.EntityID = &existing.ID
			outcome.ServerUpdatedAt = &existing.UpdatedAt
			if serverData, err := json.Marshal(existing); err == nil {
				outcome.ServerData = serverData
			}
			return nil
		default:
			// System tabs never accept a tombstone; echo the surviving
			// server copy so the pushing device restores it locally.
			if existing.IsSystem && payload.IsDeleted != nil && *payload.IsDeleted {
				outcome.HasConflict = true
				outcome.EntityID = &existing.ID
				outcome.ServerUpdatedAt = &existing.UpdatedAt
				if serverData, err := json.Marshal(existing); err == nil {
					outcome.ServerData = serverData
				}
				return nil
			}
			updates, err := tabUpdates(payload)
			if err != nil {
				return err
			}
			updates["updated_at"] = item.ClientUpdatedAt

			// Conditional write keeps check-then-apply atomic: a racing
			// push that already advanced updated_at makes this a no-op.
			result := tx.Model(&tabs.Tab{}).
				Where("id = ? AND updated_at <= ?", existing.ID, item.ClientUpdatedAt).
				Updates(updates)
			if result.Error != nil {
				e.logError(opPush, "tab_update_failed", result.Error, zap.String("client_id", item.ClientID))
				return newEngineError(opPush, "tab_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				var current tabs.Tab
				if err := tx.Where("id = ?", existing.ID).Take(&current).Error; err == nil {
					outcome.ServerUpdatedAt = &current.UpdatedAt
					if serverData, marshalErr := json.Marshal(current); marshalErr == nil {
						outcome.ServerData = serverData
					}
				}
				outcome.HasConflict = true
				outcome.EntityID = &existing.ID
				return nil
			}
			outcome.EntityID = &existing.ID
			return e.recordChange(tx, sc, item, ChangeOperationUpdate)
		}
	})
	if txErr != nil {
		return Conflict{}, txErr
	}
	return outcome, nil
}

func (e *Engine) pushTask(ctx context.Context, sc scope.Scope, item PushItem) (Conflict, error) {
	var payload TaskPayload
	if len(item.Data) > 0 {
		if err := json.Unmarshal(item.Data, &payload); err != nil {
			return Conflict{}, fmt.Errorf("%w: malformed task data: %v", ErrInvalidEntityType, err)
		}
	}

	outcome := Conflict{
		ClientID:        item.ClientID,
		EntityType:      EntityTypeTask,
		ClientUpdatedAt: item.ClientUpdatedAt,
	}

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing tasks.Task
		var existingUpdatedAt *time.Time
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND client_id = ?", sc.UserID(), item.ClientID).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			existingUpdatedAt = nil
		case err != nil:
			e.logError(opPush, "task_select_failed", err, zap.String("client_id", item.ClientID))
			return newEngineError(opPush, "task_select_failed", err)
		default:
			existingUpdatedAt = &existing.UpdatedAt
		}

		switch detectConflict(existingUpdatedAt, item.ClientUpdatedAt) {
		case verdictCreate:
			created, err := e.createTaskFromPayload(tx, sc, item, payload)
			if err != nil {
				return err
			}
			outcome.EntityID = &created.ID
			return e.recordChange(tx, sc, item, ChangeOperationCreate)
		case verdictConflict:
			outcome.HasConflict = true
			outcome.EntityID = &existing.ID
			outcome.ServerUpdatedAt = &existing.UpdatedAt
			if serverData, err := json.Marshal(existing); err == nil {
				outcome.ServerData = serverData
			}
			return nil
		default:
			updates, err := e.taskUpdates(tx, sc, payload, item.ClientUpdatedAt)
			if err != nil {
				return err
			}
			updates["updated_at"] = item.ClientUpdatedAt

			result := tx.Model(&tasks.Task{}).
				Where("id = ? AND updated_at <= ?", existing.ID, item.ClientUpdatedAt).
				Updates(updates)
			if result.Error != nil {
				e.logError(opPush, "task_update_failed", result.Error, zap.String("client_id", item.ClientID))
				return newEngineError(opPush, "task_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				var current tasks.Task
				if err := tx.Where("id = ?", existing.ID).Take(&current).Error; err == nil {
					outcome.ServerUpdatedAt = &current.UpdatedAt
					if serverData, marshalErr := json.Marshal(current); marshalErr == nil {
						outcome.ServerData = serverData
					}
				}
				outcome.HasConflict = true
				outcome.EntityID = &existing.ID
				return nil
			}
			outcome.EntityID = &existing.ID
			return e.recordChange(tx, sc, item, ChangeOperationUpdate)
		}
	})
	if txErr != nil {
		return Conflict{}, txErr
	}
	return outcome, nil
}

func (e *Engine) createTabFromPayload(tx *gorm.DB, sc scope.Scope, item PushItem, payload TabPayload) (*tabs.Tab, error) {
	name := ""
	if payload.Name != nil {
		name = *payload.Name
	}
	validName, err := tabs.ValidateName(name)
	if err != nil {
		return nil, err
	}

	tab := tabs.Tab{
		ClientID:  item.ClientID,
		UserID:    sc.UserID(),
		Name:      validName,
		TabType:   tabs.TabTypeCustom,
		CreatedAt: item.ClientUpdatedAt,
		UpdatedAt: item.ClientUpdatedAt,
	}
	if payload.OrderIndex != nil {
		tab.OrderIndex = *payload.OrderIndex
	}
	if payload.IsDeleted != nil {
		tab.IsDeleted = *payload.IsDeleted
	}
	if err := tx.Create(&tab).Error; err != nil {
		e.logError(opPush, "tab_create_failed", err, zap.String("client_id", item.ClientID))
		return nil, newEngineError(opPush, "tab_create_failed", err)
	}
	return &tab, nil
}

func (e *Engine) createTaskFromPayload(tx *gorm.DB, sc scope.Scope, item PushItem, payload TaskPayload) (*tasks.Task, error) {
	title := ""
	if payload.Title != nil {
		title = *payload.Title
	}
	validTitle, err := tasks.ValidateTitle(title)
	if err != nil {
		return nil, err
	}
	if payload.TabID != nil {
		if err := requireOwnedTab(tx, sc, *payload.TabID); err != nil {
			return nil, err
		}
	}
	depth, err := tasks.ResolveDepth(tx, sc, payload.ParentTaskID)
	if err != nil {
		return nil, err
	}

	task := tasks.Task{
		ClientID:     item.ClientID,
		UserID:       sc.UserID(),
		TabID:        payload.TabID,
		ParentTaskID: payload.ParentTaskID,
		Title:        validTitle,
		Description:  payload.Description,
		DueDate:      payload.DueDate,
		DueTime:      payload.DueTime,
		Depth:        depth,
		CreatedAt:    item.ClientUpdatedAt,
		UpdatedAt:    item.ClientUpdatedAt,
	}
	if payload.OrderIndex != nil {
		task.OrderIndex = *payload.OrderIndex
	}
	if payload.IsCompleted != nil && *payload.IsCompleted {
		task.IsCompleted = true
		completedAt := item.ClientUpdatedAt
		if payload.CompletedAt != nil {
			completedAt = *payload.CompletedAt
		}
		task.CompletedAt = &completedAt
	}
	if payload.IsDeleted != nil {
		task.IsDeleted = *payload.IsDeleted
	}
	if err := tx.Create(&task).Error; err != nil {
		e.logError(opPush, "task_create_failed", err, zap.String("client_id", item.ClientID))
		return nil, newEngineError(opPush, "task_create_failed", err)
	}
	return &task, nil
}

func tabUpdates(payload TabPayload) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if payload.Name != nil {
		name, err := tabs.ValidateName(*payload.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if payload.OrderIndex != nil {
		updates["order_index"] = *payload.OrderIndex
	}
	if payload.IsDeleted != nil {
		updates["is_deleted"] = *payload.IsDeleted
	}
	return updates, nil
}

func (e *Engine) taskUpdates(tx *gorm.DB, sc scope.Scope, payload TaskPayload, clientUpdatedAt time.Time) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if payload.Title != nil {
		title, err := tasks.ValidateTitle(*payload.Title)
		if err != nil {
			return nil, err
		}
		updates["title"] = title
	}
	if payload.Description != nil {
		updates["description"] = *payload.Description
	}
	if payload.TabID != nil {
		if err := requireOwnedTab(tx, sc, *payload.TabID); err != nil {
			return nil, err
		}
		updates["tab_id"] = *payload.TabID
	}
	if payload.ParentTaskID != nil {
		// Re-parenting moves the whole subtree anchor, so the depth must be
		// recomputed against the new parent.
		depth, err := tasks.ResolveDepth(tx, sc, payload.ParentTaskID)
		if err != nil {
			return nil, err
		}
		updates["parent_task_id"] = *payload.ParentTaskID
		updates["depth"] = depth
	}
	if payload.DueDate != nil {
		updates["due_date"] = *payload.DueDate
	}
	if payload.DueTime != nil {
		updates["due_time"] = *payload.DueTime
	}
	if payload.OrderIndex != nil {
		updates["order_index"] = *payload.OrderIndex
	}
	if payload.IsCompleted != nil {
		updates["is_completed"] = *payload.IsCompleted
		if *payload.IsCompleted {
			completedAt := clientUpdatedAt
			if payload.CompletedAt != nil {
				completedAt = *payload.CompletedAt
			}
			updates["completed_at"] = completedAt
		} else {
			updates["completed_at"] = nil
		}
	}
	if payload.IsDeleted != nil {
		updates["is_deleted"] = *payload.IsDeleted
	}
	return updates, nil
}

func (e *Engine) resolveKeepServer(ctx context.Context, sc scope.Scope, req ResolveRequest) (ResolveResult, error) {
	var serverData json.RawMessage
	var err error
	switch req.EntityType {
	case EntityTypeTab:
		var tab tabs.Tab
		err = e.db.WithContext(ctx).
			Where("user_id = ? AND client_id = ?", sc.UserID(), req.ClientID).
			Take(&tab).Error
		if err == nil {
			serverData, _ = json.Marshal(tab)
		}
	default:
		var task tasks.Task
		err = e.db.WithContext(ctx).
			Where("user_id = ? AND client_id = ?", sc.UserID(), req.ClientID).
			Take(&task).Error
		if err == nil {
			serverData, _ = json.Marshal(task)
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ResolveResult{}, ErrEntityNotFound
	}
	if err != nil {
		e.logError(opResolve, "entity_select_failed", err, zap.String("client_id", req.ClientID))
		return ResolveResult{}, newEngineError(opResolve, "entity_select_failed", err)
	}

	return ResolveResult{
		Success:           true,
		AppliedResolution: ResolutionKeepServer,
		ServerData:        serverData,
	}, nil
}

func (e *Engine) resolveKeepClient(ctx context.Context, sc scope.Scope, req ResolveRequest) (ResolveResult, error) {
	if len(req.ClientData) == 0 {
		return ResolveResult{}, ErrMissingClientData
	}

	now := e.clock().UTC()
	forced := PushItem{
		DeviceID:        "resolve",
		ClientID:        req.ClientID,
		EntityType:      req.EntityType,
		Data:            req.ClientData,
		ClientUpdatedAt: now,
	}

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch req.EntityType {
		case EntityTypeTab:
			var payload TabPayload
			if err := json.Unmarshal(req.ClientData, &payload); err != nil {
				return fmt.Errorf("%w: malformed tab data: %v", ErrMissingClientData, err)
			}
			var existing tabs.Tab
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND client_id = ?", sc.UserID(), req.ClientID).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if _, err := e.createTabFromPayload(tx, sc, forced, payload); err != nil {
					return err
				}
				return e.recordChange(tx, sc, forced, ChangeOperationResolve)
			}
			if err != nil {
				return newEngineError(opResolve, "tab_select_failed", err)
			}
			if existing.IsSystem {
				// keep_client may reshape a system tab but never bury it.
				payload.IsDeleted = nil
			}
			updates, err := tabUpdates(payload)
			if err != nil {
				return err
			}
			updates["updated_at"] = now
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return newEngineError(opResolve, "tab_update_failed", err)
			}
			return e.recordChange(tx, sc, forced, ChangeOperationResolve)
		default:
			var payload TaskPayload
			if err := json.Unmarshal(req.ClientData, &payload); err != nil {
				return fmt.Errorf("%w: malformed task data: %v", ErrMissingClientData, err)
			}
			var existing tasks.Task
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ? AND client_id = ?", sc.UserID(), req.ClientID).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if _, err := e.createTaskFromPayload(tx, sc, forced, payload); err != nil {
					return err
				}
				return e.recordChange(tx, sc, forced, ChangeOperationResolve)
			}
			if err != nil {
				return newEngineError(opResolve, "task_select_failed", err)
			}
			updates, err := e.taskUpdates(tx, sc, payload, now)
			if err != nil {
				return err
			}
			updates["updated_at"] = now
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return newEngineError(opResolve, "task_update_failed", err)
			}
			return e.recordChange(tx, sc, forced, ChangeOperationResolve)
		}
	})
	if txErr != nil {
		return ResolveResult{}, txErr
	}

	return ResolveResult{
		Success:           true,
		AppliedResolution: ResolutionKeepClient,
	}, nil
}

func (e *Engine) recordChange(tx *gorm.DB, sc scope.Scope, item PushItem, op ChangeOperation) error {
	changeID, err := e.idProvider.NewID()
	if err != nil {
		e.logError(opPush, "id_generation_failed", err, zap.String("client_id", item.ClientID))
		return newEngineError(opPush, "id_generation_failed", err)
	}
	change := SyncChange{
		ChangeID:         changeID,
		UserID:           sc.UserID(),
		DeviceID:         item.DeviceID,
		ClientID:         item.ClientID,
		EntityType:       item.EntityType,
		Operation:        op,
		AppliedAtSeconds: e.clock().UTC().Unix(),
		PayloadJSON:      string(item.Data),
	}
	if err := tx.Create(&change).Error; err != nil {
		e.logError(opPush, "audit_insert_failed", err, zap.String("client_id", item.ClientID))
		return newEngineError(opPush, "audit_insert_failed", err)
	}
	return nil
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

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("sync engine error", attrs...)
}
