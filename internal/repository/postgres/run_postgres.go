package postgres

import (
	"context"
	"database/sql"

	"vimani/internal/model"
	"vimani/internal/repository"
)

// RunPostgres is a PostgreSQL implementation of repository.RunRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type RunPostgres struct {
	db *sql.DB
}

// NewRunPostgres creates a new RunPostgres repository.
func NewRunPostgres(db *sql.DB) *RunPostgres {
	return &RunPostgres{db: db}
}

var _ repository.RunRepository = (*RunPostgres)(nil)

// Save upserts a run row keyed by archive_ref.
func (r *RunPostgres) Save(ctx context.Context, rec *model.ArchiveRecord) error {
	const q = `
		INSERT INTO runs (archive_ref, run_id, tool_key, status, stored_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (archive_ref) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			tool_key = EXCLUDED.tool_key,
			status = EXCLUDED.status,
			stored_at = EXCLUDED.stored_at,
			payload = EXCLUDED.payload
	`
	payload, err := repository.EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		rec.ArchiveRef,
		rec.RunID,
		rec.ToolKey,
		string(rec.Status),
		repository.StoredTime(rec.StoredAt),
		payload,
	)
	return err
}

// FindByRef fetches a single run by its archive ref.
func (r *RunPostgres) FindByRef(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	const q = `SELECT payload FROM runs WHERE archive_ref = $1`
	var payload []byte
	if err := r.db.QueryRowContext(ctx, q, ref).Scan(&payload); err != nil {
		return nil, err
	}
	return repository.DecodeRecord(payload)
}

// List returns runs using LIMIT/OFFSET pagination and a total count.
func (r *RunPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.ArchiveRecord], error) {
	const qCount = `SELECT COUNT(*) FROM runs`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT payload
		FROM runs
		ORDER BY stored_at DESC, archive_ref DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.ArchiveRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := repository.DecodeRecord(payload)
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

// Delete removes a run by archive ref.
func (r *RunPostgres) Delete(ctx context.Context, ref string) error {
	const q = `DELETE FROM runs WHERE archive_ref = $1`
	res, err := r.db.ExecContext(ctx, q, ref)
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

func (r *RunPostgres) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
