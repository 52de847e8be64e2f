package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/config"
)

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	w := &watcher{appDir: dir, regDir: filepath.Join(dir, "registries")}

	tests := []struct {
		name string
		ev   fsnotify.Event
		want change
	}{
		{"env write", fsnotify.Event{Name: filepath.Join(dir, ".env"), Op: fsnotify.Write}, changeConfig},
		{"env chmod", fsnotify.Event{Name: filepath.Join(dir, ".env"), Op: fsnotify.Chmod}, changeNone},
		{"registry dir created", fsnotify.Event{Name: filepath.Join(dir, "registries"), Op: fsnotify.Create}, changeConfig},
		{"registry json", fsnotify.Event{Name: filepath.Join(dir, "registries", "notion.json"), Op: fsnotify.Create}, changeRegistry},
		{"registry yaml removed", fsnotify.Event{Name: filepath.Join(dir, "registries", "notion.YAML"), Op: fsnotify.Remove}, changeRegistry},
		{"registry swap file", fsnotify.Event{Name: filepath.Join(dir, "registries", "notion.json.swp"), Op: fsnotify.Write}, changeNone},
		{"archive append", fsnotify.Event{Name: filepath.Join(dir, "runs.jsonl"), Op: fsnotify.Write}, changeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.classify(tt.ev))
		})
	}
}

func TestWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "registries"), 0o755))

	w, err := newWatcher(dir, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "registries", "notion.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=warn\n"), 0o644))

	select {
	case c := <-w.Changes():
		// a config change wins over a registry change in the same batch
		assert.Equal(t, changeConfig, c)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case c := <-w.Changes():
		t.Fatalf("unexpected second change %v", c)
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "registries", "notion.json"), []byte(`{"tool_key":"notion"}`), 0o644))
	select {
	case c := <-w.Changes():
		assert.Equal(t, changeRegistry, c)
	case <-time.After(2 * time.Second):
		t.Fatal("no registry change reported")
	}
}

func TestRunRebuildsOnEnvChange(t *testing.T) {
	base := testConfig(t)
	base.Host = "127.0.0.1"
	base.Reload = true

	var loads atomic.Int32
	load := func() (*config.AppConfig, error) {
		loads.Add(1)
		cfg := *base
		return &cfg, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, load, zerolog.Nop()) }()

	require.Eventually(t, func() bool { return loads.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	// let the watcher register before touching the dir
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(base.AppDir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o644))

	require.Eventually(t, func() bool { return loads.Load() == 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunWithoutReloadReturnsLoadError(t *testing.T) {
	err := Run(context.Background(), func() (*config.AppConfig, error) {
		return nil, assert.AnError
	}, zerolog.Nop())
	assert.ErrorIs(t, err, assert.AnError)
}
