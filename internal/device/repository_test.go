package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberfield/hearth-core/internal/infrastructure/database"
	_ "github.com/emberfield/hearth-core/migrations" // registers embedded schema
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5000,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	dev := testLight("light_001")
	now := time.Now().UTC().Truncate(time.Second)
	dev.LastSeen = &now

	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "light_001")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Name != dev.Name {
		t.Errorf("name = %q, want %q", got.Name, dev.Name)
	}
	if got.Type != DeviceTypeLight {
		t.Errorf("type = %q, want light", got.Type)
	}
	if got.Plugin != "hue" {
		t.Errorf("plugin = %q, want hue", got.Plugin)
	}
	if len(got.Capabilities) != 3 {
		t.Errorf("capabilities = %v, want 3 entries", got.Capabilities)
	}
	if got.Properties["power"] != false {
		t.Errorf("properties[power] = %v, want false", got.Properties["power"])
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(now) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, now)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testLight("light_001")); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if err := repo.Create(ctx, testLight("light_001")); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestSQLiteRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetByID(context.Background(), "nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	dev := testLight("light_001")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dev.Name = "Lounge Light"
	dev.Room = "lounge"
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "light_001")
	if got.Name != "Lounge Light" || got.Room != "lounge" {
		t.Errorf("update not persisted: name=%q room=%q", got.Name, got.Room)
	}
}

func TestSQLiteRepository_Update_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Update(context.Background(), testLight("nope"))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testLight("light_001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, "light_001"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "light_001"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdateProperties_Merges(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testLight("light_001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateProperties(ctx, "light_001", Properties{"power": true}); err != nil {
		t.Fatalf("UpdateProperties() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "light_001")
	if got.Properties["power"] != true {
		t.Errorf("properties[power] = %v, want true", got.Properties["power"])
	}
	// json_patch keeps keys not present in the change set.
	if got.Properties["brightness"] != float64(100) {
		t.Errorf("properties[brightness] = %v, want 100", got.Properties["brightness"])
	}
	if got.LastSeen == nil {
		t.Error("last_seen not touched by property update")
	}
}

func TestSQLiteRepository_UpdateProperties_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.UpdateProperties(context.Background(), "nope", Properties{"power": true})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateProperties() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdateOnline(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testLight("light_001")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	seen := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateOnline(ctx, "light_001", true, seen); err != nil {
		t.Fatalf("UpdateOnline() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "light_001")
	if !got.Online {
		t.Error("device not marked online")
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, seen)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() on empty table error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("List() on empty table = %d devices, want 0", len(devices))
	}

	a := testLight("light_001")
	a.Name = "Bedroom Light"
	b := testLight("light_002")
	b.Name = "Attic Light"
	for _, d := range []*Device{a, b} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", d.ID, err)
		}
	}

	devices, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("List() = %d devices, want 2", len(devices))
	}
	// Ordered by name.
	if devices[0].Name != "Attic Light" || devices[1].Name != "Bedroom Light" {
		t.Errorf("List() not ordered by name: %q, %q", devices[0].Name, devices[1].Name)
	}
}
