// Package requestlog persists an audit trail of gateway requests. The
// gateway publishes request events asynchronously; a Writer records them in
// SQLite or Postgres so operators can inspect traffic after the fact.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is one persisted request audit record.
type Entry struct {
	TraceID      string
	Username     string
	Page         int
	PerPage      int
	CacheStatus  string // hit, miss, or bypass
	Status       int    // HTTP status served to the client
	GistCount    int
	DurationMs   int64
	ErrorMessage string
	CreatedAt    time.Time
}

// Writer persists request audit records.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// Query filters and pages a List call.
type Query struct {
	Limit       int
	Offset      int
	Username    string
	CacheStatus string
}

// Result is one page of audit records plus the unpaged total.
type Result struct {
	Total int
	Data  []Entry
}

// MaintenanceQuery selects records for deletion. A nil Before deletes
// everything.
type MaintenanceQuery struct {
	Before *time.Time
}

// SQLWriter persists entries to SQLite/Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "gistgw-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log writer: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log writer: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	username TEXT NOT NULL,
	page INTEGER NOT NULL,
	per_page INTEGER NOT NULL,
	cache_status TEXT NOT NULL,
	status INTEGER NOT NULL,
	gist_count INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS request_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	username TEXT NOT NULL,
	page INTEGER NOT NULL,
	per_page INTEGER NOT NULL,
	cache_status TEXT NOT NULL,
	status INTEGER NOT NULL,
	gist_count INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// placeholder returns the dialect's parameter marker for argument n (1-based).
func (w *SQLWriter) placeholder(n int) string {
	if w.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO request_logs(trace_id, username, page, per_page, cache_status, status, gist_count, duration_ms, error_message, created_at)
	VALUES(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		w.placeholder(1), w.placeholder(2), w.placeholder(3), w.placeholder(4), w.placeholder(5),
		w.placeholder(6), w.placeholder(7), w.placeholder(8), w.placeholder(9), w.placeholder(10))

	_, err := w.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Username,
		entry.Page,
		entry.PerPage,
		entry.CacheStatus,
		entry.Status,
		entry.GistCount,
		entry.DurationMs,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

// List returns audit records newest first, with the unpaged total for the
// same filters. Limit defaults to 50.
func (w *SQLWriter) List(ctx context.Context, q Query) (*Result, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		conds []string
		args  []interface{}
	)
	if q.Username != "" {
		args = append(args, q.Username)
		conds = append(conds, "username = "+w.placeholder(len(args)))
	}
	if q.CacheStatus != "" {
		args = append(args, q.CacheStatus)
		conds = append(conds, "cache_status = "+w.placeholder(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count request logs: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	query := fmt.Sprintf(`SELECT trace_id, username, page, per_page, cache_status, status, gist_count, duration_ms, error_message, created_at
	FROM request_logs%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		where, w.placeholder(len(args)-1), w.placeholder(len(args)))

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	result := &Result{Total: total}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.Username, &e.Page, &e.PerPage, &e.CacheStatus,
			&e.Status, &e.GistCount, &e.DurationMs, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request log row: %w", err)
		}
		result.Data = append(result.Data, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request logs: %w", err)
	}
	return result, nil
}

// Delete removes audit records matching q and returns how many went away.
func (w *SQLWriter) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	query := "DELETE FROM request_logs"
	var args []interface{}
	if q.Before != nil {
		args = append(args, q.Before.UTC())
		query += " WHERE created_at < " + w.placeholder(1)
	}

	res, err := w.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted request logs: %w", err)
	}
	return n, nil
}

func (w *SQLWriter) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
