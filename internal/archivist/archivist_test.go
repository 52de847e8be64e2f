package archivist

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/config"
	"vimani/internal/model"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("jsonl", func(t *testing.T) {
		cfg := config.Default()
		cfg.Archivist.Backend = "jsonl"
		cfg.Archivist.Path = filepath.Join(dir, "runs.jsonl")

		a, err := New(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.IsType(t, &JSONL{}, a)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.Archivist.Backend = "sqlite"
		cfg.Archivist.SQLitePath = filepath.Join(dir, "runs.db")

		a, err := New(ctx, cfg, zerolog.Nop())
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &Repo{}, a)

		ref, err := a.StoreRun(ctx, record("run-sql", model.RunStatusSuccess))
		require.NoError(t, err)
		got, err := a.FetchRun(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "run-sql", got.RunID)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.Archivist.Backend = "tape"

		_, err := New(ctx, cfg, zerolog.Nop())
		assert.EqualError(t, err, `unknown archivist backend "tape"`)
	})
}
