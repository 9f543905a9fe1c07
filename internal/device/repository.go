package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// Repository defines the persistence operations for entities.
type Repository interface {
	// Get retrieves one entity.
	Get(ctx context.Context, key Key) (*Entity, error)

	// List retrieves every entity ordered by device and unit.
	List(ctx context.Context) ([]Entity, error)

	// Create inserts a new entity. Returns ErrEntityExists if the key is taken.
	Create(ctx context.Context, e *Entity) error

	// UpdateState writes a new state and last-update time; a zero at keeps
	// the stored last-update time. When logChange is set the new value is
	// appended to the change log in the same transaction.
	UpdateState(ctx context.Context, key Key, state State, at time.Time, logChange bool) error

	// Touch refreshes the last-update time only.
	Touch(ctx context.Context, key Key, at time.Time) error

	// ListLog returns change-log rows for one entity, newest first.
	ListLog(ctx context.Context, key Key, limit int) ([]LogEntry, error)
}

// SQLiteRepository implements Repository over the entities and entity_log
// tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntity = `
	SELECT device_id, unit, name, description, type_name, type_code, sub_type, switch_type,
		n_value, s_value, last_level, battery_level, last_update, created_at, updated_at
	FROM entities`

// Get retrieves an entity by key.
func (r *SQLiteRepository) Get(ctx context.Context, key Key) (*Entity, error) {
	row := r.db.QueryRowContext(ctx, selectEntity+` WHERE device_id = ? AND unit = ?`, key.DeviceID, key.Unit)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity %s: %w", key, err)
	}
	return e, nil
}

// List retrieves all entities.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, selectEntity+` ORDER BY device_id, unit`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// Create inserts a new entity. CreatedAt and UpdatedAt are set on e.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entity) error {
	if e.DeviceID == "" || e.Unit <= 0 || e.Name == "" || e.Category.Name == "" {
		return fmt.Errorf("%w: device id, positive unit, name and type are required", ErrInvalidEntity)
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (device_id, unit, name, description, type_name, type_code, sub_type, switch_type,
			n_value, s_value, last_level, battery_level, last_update, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DeviceID, e.Unit, e.Name, e.Description,
		e.Category.Name, e.Category.Type, nullableInt(e.Category.SubType), nullableInt(e.Category.SwitchType),
		e.State.NValue, e.State.SValue, e.State.LastLevel, e.State.BatteryLevel,
		nullableTime(e.LastUpdate), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrEntityExists
		}
		return fmt.Errorf("inserting entity %s: %w", e.Key, err)
	}
	return nil
}

// UpdateState writes state and optionally logs the change.
func (r *SQLiteRepository) UpdateState(ctx context.Context, key Key, state State, at time.Time, logChange bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var lastUpdate sql.NullString
	written := time.Now()
	if !at.IsZero() {
		lastUpdate = sql.NullString{String: formatTime(at), Valid: true}
		written = at
	}
	ts := formatTime(written)
	result, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET n_value = ?, s_value = ?, last_level = ?, battery_level = ?,
		    last_update = COALESCE(?, last_update), updated_at = ?
		WHERE device_id = ? AND unit = ?`,
		state.NValue, state.SValue, state.LastLevel, state.BatteryLevel, lastUpdate, ts,
		key.DeviceID, key.Unit,
	)
	if err != nil {
		return fmt.Errorf("updating entity %s: %w", key, err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	if logChange {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_log (device_id, unit, n_value, s_value, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			key.DeviceID, key.Unit, state.NValue, state.SValue, ts,
		); err != nil {
			return fmt.Errorf("logging change for %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entity update: %w", err)
	}
	return nil
}

// Touch sets last_update without changing the value.
func (r *SQLiteRepository) Touch(ctx context.Context, key Key, at time.Time) error {
	ts := formatTime(at)
	result, err := r.db.ExecContext(ctx,
		`UPDATE entities SET last_update = ?, updated_at = ? WHERE device_id = ? AND unit = ?`,
		ts, ts, key.DeviceID, key.Unit,
	)
	if err != nil {
		return fmt.Errorf("touching entity %s: %w", key, err)
	}
	return requireRow(result)
}

// ListLog returns the change log for an entity (default 50, max 200 rows).
func (r *SQLiteRepository) ListLog(ctx context.Context, key Key, limit int) ([]LogEntry, error) {
	limit = clampLogLimit(limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, unit, n_value, s_value, created_at
		FROM entity_log
		WHERE device_id = ? AND unit = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		key.DeviceID, key.Unit, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entity log: %w", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, limit)
	for rows.Next() {
		var entry LogEntry
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Unit, &entry.NValue, &entry.SValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entity log: %w", err)
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity log: %w", err)
	}
	return entries, nil
}

func clampLogLimit(limit int) int {
	if limit <= 0 {
		return defaultLogLimit
	}
	return min(limit, maxLogLimit)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(scanner rowScanner) (*Entity, error) {
	var e Entity
	var subType, switchType sql.NullInt64
	var lastUpdate sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&e.DeviceID, &e.Unit, &e.Name, &e.Description,
		&e.Category.Name, &e.Category.Type, &subType, &switchType,
		&e.State.NValue, &e.State.SValue, &e.State.LastLevel, &e.State.BatteryLevel,
		&lastUpdate, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if subType.Valid {
		v := int(subType.Int64)
		e.Category.SubType = &v
	}
	if switchType.Valid {
		v := int(switchType.Int64)
		e.Category.SwitchType = &v
	}
	if lastUpdate.Valid {
		t, err := parseTime(lastUpdate.String)
		if err != nil {
			return nil, err
		}
		e.LastUpdate = &t
	}

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullableInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
