// Package sqlite stores the reconciliation log in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog"

	// pure-Go driver, no CGO
	_ "modernc.org/sqlite"
)

// Schema is append-only: each row is an immutable event of an attempt.
const Schema = `
CREATE TABLE IF NOT EXISTS reconciliation_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    attempt_id      TEXT NOT NULL,
    reference       TEXT NOT NULL,
    status          TEXT NOT NULL,
    step            TEXT NOT NULL DEFAULT '',
    payload         TEXT,
    error_messages  TEXT NOT NULL DEFAULT '[]',
    trace_id        TEXT NOT NULL DEFAULT '',
    span_id         TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reconciliation_logs_reference ON reconciliation_logs(reference, id);
CREATE INDEX IF NOT EXISTS idx_reconciliation_logs_trace_id ON reconciliation_logs(trace_id);
`

type Repository struct {
	db *sql.DB
}

var _ reconlog.Repository = (*Repository)(nil)

// Open opens (or creates) the database at path with WAL enabled and applies
// the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	repo, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// New applies the schema on an already opened database, so the log can share
// a file with the cart and order tables.
func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sqlite: apply reconciliation log schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save appends entry. Entries are never updated.
func (r *Repository) Save(ctx context.Context, entry *reconlog.Entry) error {
	const q = `
		INSERT INTO reconciliation_logs
			(attempt_id, reference, status, step, payload, error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.AttemptID,
		entry.Reference,
		string(entry.Status),
		entry.Step,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save reconciliation log for %q: %w", entry.Reference, err)
	}
	return nil
}

// History returns every entry recorded for reference, oldest first.
func (r *Repository) History(ctx context.Context, reference string) ([]reconlog.Entry, error) {
	const q = `
		SELECT attempt_id, reference, status, step, COALESCE(payload,''), error_messages,
		       trace_id, span_id, updated_at
		FROM   reconciliation_logs
		WHERE  reference = ?
		ORDER  BY id`

	rows, err := r.db.QueryContext(ctx, q, reference)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history for %q: %w", reference, err)
	}
	defer rows.Close()

	var out []reconlog.Entry
	for rows.Next() {
		var e reconlog.Entry
		var updatedAt string
		if err := rows.Scan(&e.AttemptID, &e.Reference, &e.Status, &e.Step, &e.Payload,
			&e.ErrorMessages, &e.TraceID, &e.SpanID, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan reconciliation log: %w", err)
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history for %q: %w", reference, err)
	}
	return out, nil
}

// nullableString stores NULL instead of '' for rows without a payload.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
