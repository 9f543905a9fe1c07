// Package audit records the commands sent to the Z-Wave gateway and
// provides paginated access to that history.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions and sources recorded in the audit trail.
const (
	ActionCommand = "command"

	SourceAPI = "api"
	SourceBus = "bus"
)

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity,omitempty"`  // "device_id/unit"
	Subject   string         `json:"subject,omitempty"` // Token subject, empty for bus commands
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action string // optional
	Entity string // optional: "device_id/unit"
	Source string // optional: api, bus
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of audit entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit trail storage.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Source == "" {
		return fmt.Errorf("audit entry requires action and source")
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details *string
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity, subject, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullableString(e.Entity), nullableString(e.Subject),
		e.Source, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Entity != "" {
		conditions = append(conditions, "entity = ?")
		args = append(args, filter.Entity)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, action, entity, subject, source, details, created_at FROM audit_logs " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var entity, subject, details sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Action, &entity, &subject, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Entity = entity.String
		e.Subject = subject.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
