package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	_ "modernc.org/sqlite"

	"vimani/internal/model"
	"vimani/internal/repository"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunSQLite is a SQLite implementation of repository.RunRepository.
type RunSQLite struct {
	db *sql.DB
}

var _ repository.RunRepository = (*RunSQLite)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*RunSQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := otelsql.Open("sqlite", path, otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)

	r := &RunSQLite{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *RunSQLite) migrate(ctx context.Context) error {
	schema, err := migrationFS.ReadFile("migrations/0001_runs.sql")
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (r *RunSQLite) Close() error { return r.db.Close() }

func (r *RunSQLite) Save(ctx context.Context, rec *model.ArchiveRecord) error {
	const q = `
		INSERT INTO runs (archive_ref, run_id, tool_key, status, stored_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (archive_ref) DO UPDATE SET
			run_id = excluded.run_id,
			tool_key = excluded.tool_key,
			status = excluded.status,
			stored_at = excluded.stored_at,
			payload = excluded.payload
	`
	payload, err := repository.EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, rec.ArchiveRef, rec.RunID, rec.ToolKey, string(rec.Status), rec.StoredAt, payload)
	return err
}

func (r *RunSQLite) FindByRef(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	var payload string
	if err := r.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE archive_ref = ?`, ref).Scan(&payload); err != nil {
		return nil, err
	}
	return repository.DecodeRecord([]byte(payload))
}

func (r *RunSQLite) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.ArchiveRecord], error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM runs ORDER BY stored_at DESC, archive_ref DESC LIMIT ? OFFSET ?`,
		pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.ArchiveRecord, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := repository.DecodeRecord([]byte(payload))
		if err != nil {
			return nil, err
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &repository.PageResult[model.ArchiveRecord]{Items: items, Total: total}, nil
}

func (r *RunSQLite) Delete(ctx context.Context, ref string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE archive_ref = ?`, ref)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *RunSQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
