// Package journal records every dispatched command in the command_journal
// table and serves it back, newest first, for diagnostics.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeFormat sorts lexically in created order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidEntry is returned when an entry is missing a required field.
var ErrInvalidEntry = errors.New("journal: invalid entry")

// Entry is one dispatched command.
type Entry struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Command     string    `json:"command"`
	Result      string    `json:"result"`
	StateBefore string    `json:"state_before"`
	StateAfter  string    `json:"state_after"`
	Payload     string    `json:"payload,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Result string // optional: applied, parse_error, unknown_command, actuator_error
	Limit  int    // default 50, max 200
}

// ListResult is one page of journal entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
}

// Repository is the journal store.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores journal entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Topic == "" || e.Result == "" || e.StateBefore == "" || e.StateAfter == "" {
		return fmt.Errorf("%w: topic, result and states are required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_journal (id, topic, command, result, state_before, state_after, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Topic, e.Command, e.Result, e.StateBefore, e.StateAfter,
		nullableString(e.Payload),
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Prune deletes entries older than olderThan and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM command_journal WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting journal entries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}

	where := ""
	var args []any
	if filter.Result != "" {
		where = "WHERE result = ?"
		args = append(args, filter.Result)
	}

	countQuery := "SELECT COUNT(*) FROM command_journal " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, topic, command, result, state_before, state_after, payload, created_at FROM command_journal " +
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, filter.Limit)
	for rows.Next() {
		var e Entry
		var payload sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Topic, &e.Command, &e.Result,
			&e.StateBefore, &e.StateAfter, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if payload.Valid {
			e.Payload = payload.String
		}

		t, err := time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit}, nil
}
