package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lumenworks/taskpilot/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsRepairsCompletionTimestamps(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&tasks.Task{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Now().UTC()
	broken := tasks.Task{
		ClientID:    "task-broken",
		UserID:      1,
		Title:       "Left a stray timestamp",
		IsCompleted: false,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := database.Create(&broken).Error; err != nil {
		testContext.Fatalf("failed to insert task: %v", err)
	}
	intact := tasks.Task{
		ClientID:    "task-intact",
		UserID:      1,
		Title:       "Properly completed",
		IsCompleted: true,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := database.Create(&intact).Error; err != nil {
		testContext.Fatalf("failed to insert task: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired tasks.Task
	if err := database.Where("client_id = ?", "task-broken").Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload task: %v", err)
	}
	if repaired.CompletedAt != nil {
		testContext.Fatalf("expected stray completion timestamp to be cleared")
	}

	var untouched tasks.Task
	if err := database.Where("client_id = ?", "task-intact").Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload task: %v", err)
	}
	if untouched.CompletedAt == nil {
		testContext.Fatalf("expected completed task to keep its timestamp")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRepairCompletionTimestamps).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected repeated migration run to be a no-op: %v", err)
	}
}
