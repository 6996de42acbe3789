package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/tabs"
	"github.com/lumenworks/taskpilot/backend/internal/tasks"
)

// EntityType names the syncable entity kinds.
type EntityType string

const (
	EntityTypeTab  EntityType = "tab"
	EntityTypeTask EntityType = "task"
)

// Resolution enumerates the conflict resolution choices a client may apply.
type Resolution string

const (
	ResolutionKeepServer Resolution = "keep_server"
	ResolutionKeepClient Resolution = "keep_client"
)

var (
	// ErrInvalidEntityType indicates an entity type outside {tab, task}.
	ErrInvalidEntityType = errors.New("sync: invalid entity type")
	// ErrInvalidResolution indicates a resolution outside {keep_server, keep_client}.
	ErrInvalidResolution = errors.New("sync: invalid resolution")
	// ErrInvalidClientID indicates a missing client-generated identifier.
	ErrInvalidClientID = errors.New("sync: invalid client id")
	// ErrInvalidTimestamp indicates a zero client timestamp on a push.
	ErrInvalidTimestamp = errors.New("sync: client_updated_at required")
	// ErrMissingClientData indicates keep_client was requested without data.
	ErrMissingClientData = errors.New("sync: client data required for keep_client")
	// ErrEntityNotFound indicates resolve referenced an unknown entity.
	ErrEntityNotFound = errors.New("sync: entity not found")
)

// ParseEntityType validates raw client input.
func ParseEntityType(value string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(EntityTypeTab):
		return EntityTypeTab, nil
	case string(EntityTypeTask):
		return EntityTypeTask, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, value)
	}
}

// ParseResolution validates raw client input.
func ParseResolution(value string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ResolutionKeepServer):
		return ResolutionKeepServer, nil
	case string(ResolutionKeepClient):
		return ResolutionKeepClient, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResolution, value)
	}
}

// PushItem describes one client-side change offered to the server.
type PushItem struct {
	DeviceID        string
	ClientID        string
	EntityType      EntityType
	Data            json.RawMessage
	ClientUpdatedAt time.Time
}

func (i PushItem) validate() error {
	if strings.TrimSpace(i.ClientID) == "" || len(i.ClientID) > 190 {
		return ErrInvalidClientID
	}
	if i.EntityType != EntityTypeTab && i.EntityType != EntityTypeTask {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, i.EntityType)
	}
	if i.ClientUpdatedAt.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// Conflict is the outcome of a push: either a clean apply (HasConflict
// false) or a withheld write with both timestamps exposed so the client can
// resolve.
type Conflict struct {
	HasConflict     bool            `json:"has_conflict"`
	EntityID        *int64          `json:"entity_id"`
	ClientID        string          `json:"client_id"`
	EntityType      EntityType      `json:"entity_type"`
	ServerUpdatedAt *time.Time      `json:"server_updated_at"`
	ClientUpdatedAt time.Time       `json:"client_updated_at"`
	ServerData      json.RawMessage `json:"server_data,omitempty"`
	ClientData      json.RawMessage `json:"client_data,omitempty"`
}

// PullResult is the delta returned to a device: every row (tombstones
// included) changed after the supplied watermark, plus the new watermark.
type PullResult struct {
	Tabs          []tabs.Tab   `json:"tabs"`
	Tasks         []tasks.Task `json:"tasks"`
	SyncTimestamp time.Time    `json:"sync_timestamp"`
	Conflicts     []Conflict   `json:"conflicts"`
}

// BatchResult reports partial-success application of a batch push.
type BatchResult struct {
	SyncedCount int        `json:"synced_count"`
	SyncedIDs   []string   `json:"synced_ids"`
	Conflicts   []Conflict `json:"conflicts"`
}

// ResolveRequest carries a client's decision for one conflicting entity.
type ResolveRequest struct {
	ClientID   string
	EntityType EntityType
	Resolution Resolution
	ClientData json.RawMessage
}

// ResolveResult reports the applied resolution; keep_server echoes the
// surviving server state back for the client to adopt.
type ResolveResult struct {
	Success           bool            `json:"success"`
	AppliedResolution Resolution      `json:"applied_resolution"`
	ServerData        json.RawMessage `json:"server_data,omitempty"`
}

// TabPayload is the wire shape of a pushed tab change; nil fields are left
// untouched on apply.
type TabPayload struct {
	Name       *string `json:"name"`
	OrderIndex *int    `json:"order_index"`
	TabType    *string `json:"tab_type"`
	IsDeleted  *bool   `json:"is_deleted"`
}

// TaskPayload is the wire shape of a pushed task change; nil fields are left
// untouched on apply.
type TaskPayload struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	TabID        *int64     `json:"tab_id"`
	ParentTaskID *int64     `json:"parent_task_id"`
	IsCompleted  *bool      `json:"is_completed"`
	DueDate      *string    `json:"due_date"`
	DueTime      *string    `json:"due_time"`
	OrderIndex   *int       `json:"order_index"`
	CompletedAt  *time.Time `json:"completed_at"`
	IsDeleted    *bool      `json:"is_deleted"`
}

// ChangeOperation labels audit trail entries.
type ChangeOperation string

const (
	ChangeOperationCreate  ChangeOperation = "create"
	ChangeOperationUpdate  ChangeOperation = "update"
	ChangeOperationResolve ChangeOperation = "resolve"
)

// SyncChange is the append-only audit trail of accepted sync writes.
type SyncChange struct {
	ChangeID         string          `gorm:"column:change_id;primaryKey;size:190;not null"`
	UserID           int64           `gorm:"column:user_id;not null;index:idx_sync_changes_user_time,priority:1"`
	DeviceID         string          `gorm:"column:device_id;size:190;not null"`
	ClientID         string          `gorm:"column:client_id;size:190;not null"`
	EntityType       EntityType      `gorm:"column:entity_type;size:16;not null"`
	Operation        ChangeOperation `gorm:"column:op;size:16;not null"`
	AppliedAtSeconds int64           `gorm:"column:applied_at_s;not null;index:idx_sync_changes_user_time,priority:2"`
	PayloadJSON      string          `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SyncChange) TableName() string {
	return "sync_changes"
}
