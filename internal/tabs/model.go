package tabs

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// TabType classifies a tab as one of the two system views or a user list.
type TabType string

const (
	TabTypeToday    TabType = "today"
	TabTypeAllTasks TabType = "all_tasks"
	TabTypeCustom   TabType = "custom"
)

const maxTabNameLength = 255

var (
	// ErrTabNotFound covers absent tabs, foreign-owned tabs, and system tabs
	// on delete. Foreign ownership is deliberately indistinguishable from
	// absence so existence never leaks across users.
	ErrTabNotFound = errors.New("tabs: tab not found")
	// ErrInvalidTabName indicates an empty or oversized tab name.
	ErrInvalidTabName = errors.New("tabs: invalid tab name")
	// ErrInvalidClientID indicates a missing client-generated identifier.
	ErrInvalidClientID = errors.New("tabs: invalid client id")
)

// Tab is a named list container for tasks, system-defined or user-created.
// UpdatedAt is managed explicitly (no autoUpdateTime) because sync pushes
// write client-supplied timestamps.
type Tab struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ClientID   string    `gorm:"column:client_id;size:190;not null;index:idx_tabs_user_client,priority:2" json:"client_id"`
	UserID     int64     `gorm:"column:user_id;not null;index:idx_tabs_user_client,priority:1;index:idx_tabs_user_updated,priority:1" json:"-"`
	Name       string    `gorm:"column:name;size:255;not null" json:"name"`
	OrderIndex int       `gorm:"column:order_index;not null;default:0" json:"order_index"`
	TabType    TabType   `gorm:"column:tab_type;size:32;not null;default:custom" json:"tab_type"`
	IsSystem   bool      `gorm:"column:is_system;not null;default:false" json:"is_system"`
	IsDeleted  bool      `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;index:idx_tabs_user_updated,priority:2" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Tab) TableName() string {
	return "tabs"
}

// ValidateName trims and bounds-checks a tab name, counting runes so
// multibyte names get the full length allowance.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxTabNameLength {
		return "", ErrInvalidTabName
	}
	return trimmed, nil
}

func validateClientID(clientID string) (string, error) {
	trimmed := strings.TrimSpace(clientID)
	if trimmed == "" || len(trimmed) > 190 {
		return "", ErrInvalidClientID
	}
	return trimmed, nil
}
