package archivist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vimani/internal/model"
	"vimani/internal/repository"
)

// Repo archives runs through a SQL repository (postgres or sqlite).
type Repo struct {
	repo  repository.RunRepository
	close func() error
	now   func() time.Time
}

// NewRepo wraps repo. closeFn releases the underlying connection and may be nil.
func NewRepo(repo repository.RunRepository, closeFn func() error) *Repo {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &Repo{repo: repo, close: closeFn, now: time.Now}
}

func (a *Repo) StoreRun(ctx context.Context, rec model.ArchiveRecord) (string, error) {
	ref := stamp(&rec, a.now())
	if err := a.repo.Save(ctx, &rec); err != nil {
		return "", fmt.Errorf("save run %s: %w", ref, err)
	}
	return ref, nil
}

func (a *Repo) FetchRun(ctx context.Context, ref string) (*model.ArchiveRecord, error) {
	rec, err := a.repo.FindByRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (a *Repo) ListRuns(ctx context.Context, limit, offset int) (*ListResult, error) {
	res, err := a.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: res.Items, Total: res.Total}, nil
}

func (a *Repo) DeleteRun(ctx context.Context, ref string) error {
	err := a.repo.Delete(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (a *Repo) Ping(ctx context.Context) error { return a.repo.Ping(ctx) }

func (a *Repo) Close() error { return a.close() }
