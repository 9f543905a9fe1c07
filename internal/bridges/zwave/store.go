package zwave

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists the mapping table in the zwave_endpoints and
// zwave_attributes tables. SaveTable rewrites both in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// LoadTable reads the whole table and rebuilds the topic index.
func (s *SQLiteStore) LoadTable(ctx context.Context) (*Table, error) {
	devices := make(map[string]*Device)
	device := func(id string) *Device {
		d, ok := devices[id]
		if !ok {
			d = newDevice(id)
			devices[id] = d
		}
		return d
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, unit, mapped_type, reported_type, topics,
			payload_on, payload_off, on_command_type, brightness_scale
		FROM zwave_endpoints
		ORDER BY device_id, unit`)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			deviceID, topics      string
			payloadOn, payloadOff sql.NullString
			onCommandType         sql.NullString
			brightnessScale       sql.NullInt64
			ep                    Endpoint
		)
		if err := rows.Scan(&deviceID, &ep.Unit, &ep.MappedType, &ep.ReportedType, &topics,
			&payloadOn, &payloadOff, &onCommandType, &brightnessScale); err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &ep.Topics); err != nil {
			return nil, fmt.Errorf("decoding topics for %s/%d: %w", deviceID, ep.Unit, err)
		}
		if payloadOn.Valid {
			ep.PayloadOn = NewValue([]byte(payloadOn.String))
		}
		if payloadOff.Valid {
			ep.PayloadOff = NewValue([]byte(payloadOff.String))
		}
		ep.OnCommandType = onCommandType.String
		ep.BrightnessScale = int(brightnessScale.Int64)
		device(deviceID).Endpoints[ep.Unit] = &ep
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoints: %w", err)
	}

	attrRows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, reported_type, topics
		FROM zwave_attributes
		ORDER BY device_id, name`)
	if err != nil {
		return nil, fmt.Errorf("querying attributes: %w", err)
	}
	defer attrRows.Close()

	for attrRows.Next() {
		var (
			deviceID, topics string
			attr             Attribute
		)
		if err := attrRows.Scan(&deviceID, &attr.Name, &attr.ReportedType, &topics); err != nil {
			return nil, fmt.Errorf("scanning attribute: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &attr.Topics); err != nil {
			return nil, fmt.Errorf("decoding topics for %s/%s: %w", deviceID, attr.Name, err)
		}
		device(deviceID).Attributes[attr.Name] = &attr
	}
	if err := attrRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attributes: %w", err)
	}

	table := NewTable()
	for _, d := range devices {
		table.AddDevice(d)
	}
	return table, nil
}

// SaveTable replaces the persisted table with table.
func (s *SQLiteStore) SaveTable(ctx context.Context, table *Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM zwave_endpoints`); err != nil {
		return fmt.Errorf("clearing endpoints: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zwave_attributes`); err != nil {
		return fmt.Errorf("clearing attributes: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, d := range table.Devices() {
		for _, u := range d.Units() {
			ep := d.Endpoints[u]
			topics, err := json.Marshal(ep.Topics)
			if err != nil {
				return fmt.Errorf("encoding topics for %s/%d: %w", d.ID, u, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO zwave_endpoints (device_id, unit, mapped_type, reported_type, topics,
					payload_on, payload_off, on_command_type, brightness_scale, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, u, ep.MappedType, ep.ReportedType, string(topics),
				nullValue(ep.PayloadOn), nullValue(ep.PayloadOff),
				nullString(ep.OnCommandType), nullInt(ep.BrightnessScale), now,
			); err != nil {
				return fmt.Errorf("inserting endpoint %s/%d: %w", d.ID, u, err)
			}
		}
		for name, attr := range d.Attributes {
			topics, err := json.Marshal(attr.Topics)
			if err != nil {
				return fmt.Errorf("encoding topics for %s/%s: %w", d.ID, name, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO zwave_attributes (device_id, name, reported_type, topics, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				d.ID, name, attr.ReportedType, string(topics), now,
			); err != nil {
				return fmt.Errorf("inserting attribute %s/%s: %w", d.ID, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing configuration: %w", err)
	}
	return nil
}

func nullValue(v Value) sql.NullString {
	if !v.IsSet() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(v.Raw()), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
