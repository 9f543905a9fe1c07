package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zwave/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-zwave/migrations"
)

// setupTestRepo opens a migrated SQLite database in a temp directory.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "entities.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testEntity(deviceID string, unit int) *Entity {
	return &Entity{
		Key:      Key{DeviceID: deviceID, Unit: unit},
		Name:     "Lounge Dimmer",
		Category: Category{Name: "Dimmer"},
		State:    State{BatteryLevel: DefaultBatteryLevel},
	}
}

func intPtr(v int) *int { return &v }

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	e := testEntity("nodeID_5", 1)
	e.Description = "north wall"
	e.Category = Category{Name: "kWh", Type: 243, SubType: intPtr(29), SwitchType: intPtr(0)}

	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.CreatedAt.IsZero() {
		t.Error("Create() did not set CreatedAt")
	}

	got, err := repo.Get(ctx, e.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != e.Name || got.Description != "north wall" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Category.Type != 243 || got.Category.SubType == nil || *got.Category.SubType != 29 {
		t.Errorf("Category = %+v, want type 243 subtype 29", got.Category)
	}
	if got.Category.SwitchType == nil || *got.Category.SwitchType != 0 {
		t.Errorf("SwitchType = %v, want 0", got.Category.SwitchType)
	}
	if got.State.BatteryLevel != DefaultBatteryLevel {
		t.Errorf("BatteryLevel = %d, want %d", got.State.BatteryLevel, DefaultBatteryLevel)
	}
	if got.LastUpdate != nil {
		t.Errorf("LastUpdate = %v, want nil", got.LastUpdate)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, testEntity("nodeID_5", 1)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, testEntity("nodeID_5", 1))
	if !errors.Is(err, ErrEntityExists) {
		t.Errorf("Create() duplicate error = %v, want ErrEntityExists", err)
	}
}

func TestSQLiteRepository_CreateInvalid(t *testing.T) {
	repo := setupTestRepo(t)

	tests := []struct {
		name   string
		entity *Entity
	}{
		{"missing device id", testEntity("", 1)},
		{"zero unit", testEntity("nodeID_5", 0)},
		{"missing name", &Entity{Key: Key{DeviceID: "nodeID_5", Unit: 1}, Category: Category{Name: "Switch"}}},
		{"missing type", &Entity{Key: Key{DeviceID: "nodeID_5", Unit: 1}, Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(context.Background(), tt.entity)
			if !errors.Is(err, ErrInvalidEntity) {
				t.Errorf("Create() error = %v, want ErrInvalidEntity", err)
			}
		})
	}
}

func TestSQLiteRepository_GetNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), Key{DeviceID: "nodeID_9", Unit: 1})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Get() error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_List(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, k := range []Key{{"nodeID_7", 1}, {"nodeID_5", 2}, {"nodeID_5", 1}} {
		if err := repo.Create(ctx, testEntity(k.DeviceID, k.Unit)); err != nil {
			t.Fatalf("Create(%s) error = %v", k, err)
		}
	}

	entities, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []Key{{"nodeID_5", 1}, {"nodeID_5", 2}, {"nodeID_7", 1}}
	if len(entities) != len(want) {
		t.Fatalf("List() returned %d entities, want %d", len(entities), len(want))
	}
	for i, k := range want {
		if entities[i].Key != k {
			t.Errorf("entities[%d] = %s, want %s", i, entities[i].Key, k)
		}
	}
}

func TestSQLiteRepository_UpdateState(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	key := Key{DeviceID: "nodeID_5", Unit: 1}

	if err := repo.Create(ctx, testEntity(key.DeviceID, key.Unit)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := State{NValue: 2, SValue: "55", LastLevel: 55, BatteryLevel: 80}
	if err := repo.UpdateState(ctx, key, state, at, true); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != state {
		t.Errorf("State = %+v, want %+v", got.State, state)
	}
	if got.LastUpdate == nil || !got.LastUpdate.Equal(at) {
		t.Errorf("LastUpdate = %v, want %v", got.LastUpdate, at)
	}

	entries, err := repo.ListLog(ctx, key, 0)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(entries) != 1 || entries[0].NValue != 2 || entries[0].SValue != "55" {
		t.Errorf("ListLog() = %+v, want one entry 2/55", entries)
	}
}

func TestSQLiteRepository_UpdateStateWithoutLog(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	key := Key{DeviceID: "nodeID_5", Unit: 1}

	if err := repo.Create(ctx, testEntity(key.DeviceID, key.Unit)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateState(ctx, key, State{NValue: 0, SValue: "21.5"}, time.Now(), false); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	entries, err := repo.ListLog(ctx, key, 0)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListLog() returned %d entries, want 0", len(entries))
	}
}

func TestSQLiteRepository_UpdateStateZeroTimeKeepsLastUpdate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	key := Key{DeviceID: "nodeID_5", Unit: 1}

	if err := repo.Create(ctx, testEntity(key.DeviceID, key.Unit)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateState(ctx, key, State{BatteryLevel: 90}, time.Time{}, false); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastUpdate != nil {
		t.Errorf("LastUpdate = %v, want nil", got.LastUpdate)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.UpdateState(ctx, key, State{NValue: 1}, at, false); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if err := repo.UpdateState(ctx, key, State{NValue: 1, BatteryLevel: 40}, time.Time{}, false); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	got, err = repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastUpdate == nil || !got.LastUpdate.Equal(at) {
		t.Errorf("LastUpdate = %v, want %v", got.LastUpdate, at)
	}
	if got.State.BatteryLevel != 40 {
		t.Errorf("BatteryLevel = %d, want 40", got.State.BatteryLevel)
	}
}

func TestSQLiteRepository_UpdateStateNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	err := repo.UpdateState(context.Background(), Key{DeviceID: "nodeID_9", Unit: 1}, State{}, time.Now(), true)
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("UpdateState() error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_Touch(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	key := Key{DeviceID: "nodeID_5", Unit: 1}

	if err := repo.Create(ctx, testEntity(key.DeviceID, key.Unit)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if err := repo.Touch(ctx, key, at); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastUpdate == nil || !got.LastUpdate.Equal(at) {
		t.Errorf("LastUpdate = %v, want %v", got.LastUpdate, at)
	}
	if got.State.NValue != 0 || got.State.SValue != "" {
		t.Errorf("Touch() changed state: %+v", got.State)
	}

	if err := repo.Touch(ctx, Key{DeviceID: "nodeID_9", Unit: 1}, at); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Touch() missing entity error = %v, want ErrEntityNotFound", err)
	}
}

func TestSQLiteRepository_ListLogOrderAndLimit(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	key := Key{DeviceID: "nodeID_5", Unit: 1}

	if err := repo.Create(ctx, testEntity(key.DeviceID, key.Unit)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		// Sub-second spacing exercises the fixed-width timestamp ordering.
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := repo.UpdateState(ctx, key, State{NValue: i}, at, true); err != nil {
			t.Fatalf("UpdateState(%d) error = %v", i, err)
		}
	}

	entries, err := repo.ListLog(ctx, key, 3)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ListLog() returned %d entries, want 3", len(entries))
	}
	for i, want := range []int{4, 3, 2} {
		if entries[i].NValue != want {
			t.Errorf("entries[%d].NValue = %d, want %d", i, entries[i].NValue, want)
		}
	}
}

func TestClampLogLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultLogLimit},
		{-3, defaultLogLimit},
		{10, 10},
		{200, 200},
		{500, maxLogLimit},
	}
	for _, tt := range tests {
		if got := clampLogLimit(tt.in); got != tt.want {
			t.Errorf("clampLogLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
