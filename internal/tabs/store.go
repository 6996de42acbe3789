package tabs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/scope"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// StoreConfig describes the dependencies required by the tab store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store owns persistence for tabs. Every operation takes a scope and only
// ever touches rows belonging to the scoped user.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore constructs the tab store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("tabs: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// List returns the user's live tabs ordered by position.
func (s *Store) List(ctx context.Context, sc scope.Scope) ([]Tab, error) {
	var result []Tab
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", sc.UserID(), false).
		Order("order_index ASC, id ASC").
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateParams carries input for tab creation. OrderIndex nil means append
// after the user's current last tab.
type CreateParams struct {
	ClientID   string
	Name       string
	OrderIndex *int
}

// Create persists a new custom tab and returns it with its server id.
func (s *Store) Create(ctx context.Context, sc scope.Scope, params CreateParams) (*Tab, error) {
	clientID, err := validateClientID(params.ClientID)
	if err != nil {
		return nil, err
	}
	name, err := ValidateName(params.Name)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	tab := Tab{
		ClientID:  clientID,
		UserID:    sc.UserID(),
		Name:      name,
		TabType:   TabTypeCustom,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if params.OrderIndex != nil {
			tab.OrderIndex = *params.OrderIndex
		} else {
			next, err := nextOrderIndex(tx, sc)
			if err != nil {
				return err
			}
			tab.OrderIndex = next
		}
		return tx.Create(&tab).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &tab, nil
}

// UpdateParams carries the mutable tab fields; nil means leave unchanged.
type UpdateParams struct {
	Name       *string
	OrderIndex *int
}

// Update applies the provided fields to an owned tab.
func (s *Store) Update(ctx context.Context, sc scope.Scope, tabID int64, params UpdateParams) (*Tab, error) {
	updates := map[string]interface{}{}
	if params.Name != nil {
		name, err := ValidateName(*params.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if params.OrderIndex != nil {
		updates["order_index"] = *params.OrderIndex
	}

	var tab Tab
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ? AND is_deleted = ?", tabID, sc.UserID(), false).
			Take(&tab).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTabNotFound
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.clock().UTC()
		if err := tx.Model(&tab).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tab.ID).Take(&tab).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return &tab, nil
}

// Delete soft-deletes a custom tab. System tabs and tabs of other users are
// reported as not found.
func (s *Store) Delete(ctx context.Context, sc scope.Scope, tabID int64) error {
	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&Tab{}).
		Where("id = ? AND user_id = ? AND is_system = ? AND is_deleted = ?", tabID, sc.UserID(), false, false).
		Updates(map[string]interface{}{"is_deleted": true, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTabNotFound
	}
	return nil
}

func nextOrderIndex(tx *gorm.DB, sc scope.Scope) (int, error) {
	var max *int
	err := tx.Model(&Tab{}).
		Where("user_id = ? AND is_deleted = ?", sc.UserID(), false).
		Select("MAX(order_index)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max + 1, nil
}

// SeedSystemTabs inserts the Today and All Tasks system tabs for a newly
// created user. Runs inside the caller's transaction.
func SeedSystemTabs(tx *gorm.DB, userID int64, now time.Time) error {
	seeds := []Tab{
		{
			ClientID:   "system-today",
			UserID:     userID,
			Name:       "Today",
			OrderIndex: 0,
			TabType:    TabTypeToday,
			IsSystem:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ClientID:   "system-all",
			UserID:     userID,
			Name:       "All Tasks",
			OrderIndex: 1,
			TabType:    TabTypeAllTasks,
			IsSystem:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	for i := range seeds {
		if err := tx.Create(&seeds[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
