package tabs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lumenworks/taskpilot/backend/internal/scope"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "tabs.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Tab{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustScope(t *testing.T, userID int64) scope.Scope {
	t.Helper()
	sc, err := scope.ForUser(userID)
	if err != nil {
		t.Fatalf("unexpected scope error: %v", err)
	}
	return sc
}

func mustStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected store constructor error: %v", err)
	}
	return store
}

func TestCreateTabAppendsAfterExistingTabs(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	first, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: "Groceries"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	second, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-2", Name: "Work"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if first.OrderIndex != 0 || second.OrderIndex != 1 {
		t.Fatalf("expected order indices 0 and 1, got %d and %d", first.OrderIndex, second.OrderIndex)
	}
	if first.TabType != TabTypeCustom {
		t.Fatalf("expected custom tab type, got %s", first.TabType)
	}
}

func TestCreateTabHonorsExplicitOrderIndex(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	position := 7
	tab, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: "Pinned", OrderIndex: &position})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if tab.OrderIndex != 7 {
		t.Fatalf("expected explicit order index 7, got %d", tab.OrderIndex)
	}
}

func TestCreateTabValidatesInput(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	if _, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: "   "}); !errors.Is(err, ErrInvalidTabName) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
	if _, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: strings.Repeat("x", maxTabNameLength+1)}); !errors.Is(err, ErrInvalidTabName) {
		t.Fatalf("expected invalid name error for oversized input, got %v", err)
	}
	if _, err := store.Create(context.Background(), sc, CreateParams{ClientID: "", Name: "Valid"}); !errors.Is(err, ErrInvalidClientID) {
		t.Fatalf("expected invalid client id error, got %v", err)
	}
}

func TestValidateNameCountsRunesNotBytes(t *testing.T) {
	name := strings.Repeat("ö", maxTabNameLength)
	accepted, err := ValidateName(name)
	if err != nil {
		t.Fatalf("expected max-length multibyte name to pass, got %v", err)
	}
	if accepted != name {
		t.Fatalf("unexpected name mutation")
	}
	if _, err := ValidateName(strings.Repeat("ö", maxTabNameLength+1)); !errors.Is(err, ErrInvalidTabName) {
		t.Fatalf("expected invalid name past the rune bound, got %v", err)
	}
}

func TestUpdateTabRenames(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	tab, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: "Old Name"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	newName := "New Name"
	updated, err := store.Update(context.Background(), sc, tab.ID, UpdateParams{Name: &newName})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Name != "New Name" {
		t.Fatalf("expected renamed tab, got %q", updated.Name)
	}
	if !updated.UpdatedAt.After(tab.UpdatedAt) && !updated.UpdatedAt.Equal(tab.UpdatedAt) {
		t.Fatalf("expected updated_at to advance")
	}
}

func TestUpdateForeignTabReadsAsNotFound(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)

	tab, err := store.Create(context.Background(), mustScope(t, 1), CreateParams{ClientID: "tab-1", Name: "Mine"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	name := "Hijacked"
	_, err = store.Update(context.Background(), mustScope(t, 2), tab.ID, UpdateParams{Name: &name})
	if !errors.Is(err, ErrTabNotFound) {
		t.Fatalf("expected foreign tab to read as not found, got %v", err)
	}
}

func TestDeleteTabSoftDeletes(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	tab, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-1", Name: "Short-lived"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := store.Delete(context.Background(), sc, tab.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var stored Tab
	if err := db.Where("id = ?", tab.ID).Take(&stored).Error; err != nil {
		t.Fatalf("expected tombstone row to survive: %v", err)
	}
	if !stored.IsDeleted {
		t.Fatalf("expected soft delete flag to be set")
	}

	live, err := store.List(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("expected deleted tab to leave the listing, got %d tabs", len(live))
	}
}

func TestDeleteRefusesSystemTabs(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return SeedSystemTabs(tx, 1, time.Now().UTC())
	}); err != nil {
		t.Fatalf("failed to seed system tabs: %v", err)
	}

	var today Tab
	if err := db.Where("user_id = ? AND tab_type = ?", 1, TabTypeToday).Take(&today).Error; err != nil {
		t.Fatalf("failed to load system tab: %v", err)
	}

	err := store.Delete(context.Background(), sc, today.ID)
	if !errors.Is(err, ErrTabNotFound) {
		t.Fatalf("expected system tab delete to read as not found, got %v", err)
	}
}

func TestSeedSystemTabsCreatesBothViews(t *testing.T) {
	db := openTestDatabase(t)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return SeedSystemTabs(tx, 9, time.Now().UTC())
	}); err != nil {
		t.Fatalf("failed to seed system tabs: %v", err)
	}

	var seeded []Tab
	if err := db.Where("user_id = ?", 9).Order("order_index ASC").Find(&seeded).Error; err != nil {
		t.Fatalf("failed to load seeded tabs: %v", err)
	}
	if len(seeded) != 2 {
		t.Fatalf("expected 2 system tabs, got %d", len(seeded))
	}
	if seeded[0].TabType != TabTypeToday || seeded[1].TabType != TabTypeAllTasks {
		t.Fatalf("unexpected system tab types: %s, %s", seeded[0].TabType, seeded[1].TabType)
	}
	for _, tab := range seeded {
		if !tab.IsSystem {
			t.Fatalf("expected system flag on %s", tab.TabType)
		}
	}
}

func TestListOrdersByPosition(t *testing.T) {
	db := openTestDatabase(t)
	store := mustStore(t, db)
	sc := mustScope(t, 1)

	late := 5
	early := 1
	if _, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-late", Name: "Late", OrderIndex: &late}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := store.Create(context.Background(), sc, CreateParams{ClientID: "tab-early", Name: "Early", OrderIndex: &early}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	listed, err := store.List(context.Background(), sc)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 2 || listed[0].ClientID != "tab-early" || listed[1].ClientID != "tab-late" {
		t.Fatalf("expected position ordering, got %+v", listed)
	}
}
