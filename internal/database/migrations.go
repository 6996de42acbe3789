package database

import (
	"errors"
	"time"

	"github.com/lumenworks/taskpilot/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairCompletionTimestamps = "2026-07-22_repair_completion_timestamps"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairCompletionTimestamps, apply: repairCompletionTimestamps},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairCompletionTimestamps clears stray completed_at values on tasks that
// are not marked completed, restoring the completed_at iff is_completed
// invariant on databases written before the atomic toggle existed.
func repairCompletionTimestamps(db *gorm.DB) error {
	return db.Model(&tasks.Task{}).
		Where("is_completed = ? AND completed_at IS NOT NULL", false).
		Update("completed_at", nil).Error
}
