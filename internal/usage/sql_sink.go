package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/pam/internal/storage"
)

// SQLSink persists usage records to the tool_usage table.
type SQLSink struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewSQLSink creates a sink over an existing pool.
func NewSQLSink(db *sql.DB, dialect storage.Dialect) *SQLSink {
	return &SQLSink{db: db, dialect: dialect}
}

// Migrate creates the tool_usage table when it does not exist.
func (s *SQLSink) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tool_usage (
		request_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		execution_time_ms BIGINT NOT NULL,
		success BOOLEAN NOT NULL,
		parameter_count INTEGER NOT NULL,
		data_size INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '')`)
	if err != nil {
		return fmt.Errorf("migrate tool_usage: %w", err)
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`INSERT INTO tool_usage
			(request_id, tool_name, user_id, created_at, execution_time_ms, success, parameter_count, data_size, error, error_kind)
			VALUES (?,?,?,?,?,?,?,?,?,?)`),
		r.RequestID,
		r.ToolName,
		r.UserID,
		r.Timestamp.UTC(),
		r.ExecutionTimeMs,
		r.Success,
		r.ParameterCount,
		r.DataSize,
		r.Error,
		r.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Prune deletes records created before cutoff and returns how many were removed.
func (s *SQLSink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind("DELETE FROM tool_usage WHERE created_at < ?"), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune usage rows: %w", err)
	}
	return n, nil
}
