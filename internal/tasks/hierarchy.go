package tasks

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lumenworks/taskpilot/backend/internal/scope"
	"gorm.io/gorm"
)

// MaxTaskDepth caps task nesting: a root task has depth 0 and no task may
// sit deeper than depth 3.
const MaxTaskDepth = 3

const maxTitleLength = 1000

// ChildDepth returns the depth a child of the given parent would occupy.
// A nil parent yields a root task. Exceeding MaxTaskDepth is a validation
// failure, never a storage error.
func ChildDepth(parent *Task) (int, error) {
	if parent == nil {
		return 0, nil
	}
	depth := parent.Depth + 1
	if depth > MaxTaskDepth {
		return 0, fmt.Errorf("%w: depth %d exceeds %d", ErrMaxDepthExceeded, depth, MaxTaskDepth)
	}
	return depth, nil
}

// ResolveDepth loads the scoped parent task (when parentID is set) and
// computes the child depth. Shared by the CRUD create path and the sync
// engine so the cap lives in exactly one place; a future re-parent
// operation must route through here as well.
func ResolveDepth(tx *gorm.DB, sc scope.Scope, parentID *int64) (int, error) {
	if parentID == nil {
		return 0, nil
	}
	var parent Task
	err := tx.Where("id = ? AND user_id = ? AND is_deleted = ?", *parentID, sc.UserID(), false).
		Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrTaskNotFound
	}
	if err != nil {
		return 0, err
	}
	return ChildDepth(&parent)
}

// ValidateTitle trims and bounds-checks a task title (1 to 1000 characters).
// The bound counts runes, not bytes, so multibyte titles are not penalized.
func ValidateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxTitleLength {
		return "", ErrInvalidTitle
	}
	return trimmed, nil
}
