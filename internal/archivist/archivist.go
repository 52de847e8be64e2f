// Package archivist persists finished runs so they can be inspected later.
package archivist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vimani/internal/config"
	"vimani/internal/database"
	"vimani/internal/database/migration"
	"vimani/internal/model"
	"vimani/internal/repository/postgres"
	"vimani/internal/repository/sqlite"
	"vimani/internal/storage"
)

// ErrNotFound is returned when no run is archived under a ref.
var ErrNotFound = errors.New("archived run not found")

// ListResult is a page of archived runs.
type ListResult struct {
	Items []model.ArchiveRecord `json:"data"`
	Total int                   `json:"total"`
}

// Archivist stores and retrieves archived runs.
type Archivist interface {
	// StoreRun persists rec and returns its archive ref.
	StoreRun(ctx context.Context, rec model.ArchiveRecord) (string, error)
	FetchRun(ctx context.Context, ref string) (*model.ArchiveRecord, error)
	// ListRuns pages through archived runs, newest first.
	ListRuns(ctx context.Context, limit, offset int) (*ListResult, error)
	DeleteRun(ctx context.Context, ref string) error
	Ping(ctx context.Context) error
	Close() error
}

// stamp assigns the archive ref (the run id, or a fresh uuid) and stored_at.
func stamp(rec *model.ArchiveRecord, now time.Time) string {
	ref := rec.RunID
	if ref == "" {
		ref = uuid.NewString()
	}
	rec.ArchiveRef = ref
	rec.StoredAt = model.Timestamp(now)
	return ref
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// New builds the archivist selected by cfg.Archivist.Backend.
func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (Archivist, error) {
	log = log.With().Str("component", "archivist").Str("backend", cfg.Archivist.Backend).Logger()

	switch cfg.Archivist.Backend {
	case "", "jsonl":
		log.Info().Str("path", cfg.Archivist.Path).Msg("archiving runs to jsonl")
		return NewJSONL(cfg.Archivist.Path), nil

	case "sqlite":
		repo, err := sqlite.Open(cfg.Archivist.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite archive: %w", err)
		}
		log.Info().Str("path", cfg.Archivist.SQLitePath).Msg("archiving runs to sqlite")
		return NewRepo(repo, repo.Close), nil

	case "postgres":
		db, err := database.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres archive: %w", err)
		}
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info().Str("db_host", cfg.Database.Host).Msg("archiving runs to postgres")
		return NewRepo(postgres.NewRunPostgres(db), db.Close), nil

	case "s3":
		store, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect object archive: %w", err)
		}
		log.Info().Str("bucket", cfg.MinIO.Bucket).Msg("archiving runs to object storage")
		return NewObject(store, cfg.Archivist.ObjectPrefix), nil

	default:
		return nil, fmt.Errorf("unknown archivist backend %q", cfg.Archivist.Backend)
	}
}
