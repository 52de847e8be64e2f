package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/model"
	"vimani/internal/repository"
)

func openTemp(t *testing.T) *RunSQLite {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRunSQLiteRoundTrip(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()

	rec := &model.ArchiveRecord{
		RunID:      "run-1",
		ArchiveRef: "run-1",
		ToolKey:    "clickup",
		Intent:     "set up",
		Status:     model.RunStatusPartial,
		StoredAt:   100,
		Plan:       &model.Plan{PlanID: "p", ToolKey: "clickup", Steps: []model.PlanStep{{StepID: "S1", OpID: "x"}}},
	}
	require.NoError(t, r.Save(ctx, rec))

	got, err := r.FindByRef(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, got.Status)
	require.NotNil(t, got.Plan)
	assert.Equal(t, "S1", got.Plan.Steps[0].StepID)

	rec.Status = model.RunStatusSuccess
	require.NoError(t, r.Save(ctx, rec))
	got, err = r.FindByRef(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status, "save upserts")

	_, err = r.FindByRef(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, r.Ping(ctx))
}

func TestRunSQLiteListAndDelete(t *testing.T) {
	r := openTemp(t)
	ctx := context.Background()

	for i, ref := range []string{"a", "b", "c"} {
		require.NoError(t, r.Save(ctx, &model.ArchiveRecord{RunID: ref, ArchiveRef: ref, ToolKey: "clickup", StoredAt: float64(i)}))
	}

	page, err := r.List(ctx, repository.PageQuery{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].ArchiveRef)
	assert.Equal(t, "b", page.Items[1].ArchiveRef)

	require.NoError(t, r.Delete(ctx, "b"))
	assert.ErrorIs(t, r.Delete(ctx, "b"), sql.ErrNoRows)

	page, err = r.List(ctx, repository.PageQuery{Limit: 10, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ArchiveRef)
}
