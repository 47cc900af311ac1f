package syncqueue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"constructionpro/internal/common"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const timeLayout = time.RFC3339Nano

// Store persists pending operations in a local SQLite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the queue database at path and
// applies pending migrations. Use ":memory:" in tests.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// ":memory:" databases live per connection.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	dir, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, dir)
	if err != nil {
		return fmt.Errorf("init queue migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate queue database: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists op and sets its Seq.
func (s *Store) Insert(ctx context.Context, op *Operation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations (id, operation, resource_type, resource_id, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Kind), string(op.ResourceType), nullString(op.ResourceID),
		[]byte(op.Payload), op.CreatedAt.UTC().Format(timeLayout), op.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	if op.Seq, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// All returns every stored operation in enqueue order.
func (s *Store) All(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, operation, resource_type, resource_id, payload, created_at,
		       retry_count, last_attempt_at, last_error
		FROM pending_operations ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var (
			op                     Operation
			kind, rtype, createdAt string
			resourceID, lastError  sql.NullString
			lastAttempt            sql.NullString
			payload                []byte
		)
		if err := rows.Scan(&op.Seq, &op.ID, &kind, &rtype, &resourceID, &payload, &createdAt,
			&op.RetryCount, &lastAttempt, &lastError); err != nil {
			return nil, err
		}
		op.Kind, op.ResourceType = Kind(kind), ResourceType(rtype)
		op.ResourceID, op.LastError = resourceID.String, lastError.String
		if len(payload) > 0 {
			op.Payload = payload
		}
		if op.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("operation %s: bad created_at: %w", op.ID, err)
		}
		if lastAttempt.Valid {
			at, err := time.Parse(timeLayout, lastAttempt.String)
			if err != nil {
				return nil, fmt.Errorf("operation %s: bad last_attempt_at: %w", op.ID, err)
			}
			op.LastAttemptAt = &at
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Delete removes an operation.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	return affectedOne(res, err, id)
}

// RecordFailure bumps the retry count and stores when and why the attempt failed.
func (s *Store) RecordFailure(ctx context.Context, id string, at time.Time, cause string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET retry_count = retry_count + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?`, at.UTC().Format(timeLayout), cause, id)
	return affectedOne(res, err, id)
}

// ResetRetries clears the failure history so the next pass replays id again.
func (s *Store) ResetRetries(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET retry_count = 0, last_attempt_at = NULL, last_error = NULL
		WHERE id = ?`, id)
	return affectedOne(res, err, id)
}

// DeleteExhausted drops every operation at the retry limit.
func (s *Store) DeleteExhausted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE retry_count >= ?`, MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("delete exhausted operations: %w", err)
	}
	return res.RowsAffected()
}

func affectedOne(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("operation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("operation %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
