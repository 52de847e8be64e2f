package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"vimani/internal/config"
)

const reloadDebounce = 300 * time.Millisecond

// change is what a batch of file events asks for.
type change int

const (
	changeNone change = iota
	// registry files changed; dropping the registry cache is enough
	changeRegistry
	// .env changed; the whole application is rebuilt
	changeConfig
)

// LoadFunc produces the configuration for each (re)build.
type LoadFunc func() (*config.AppConfig, error)

// Run builds and serves the application until ctx is done. When the loaded
// configuration has Reload set, changes under the app dir are applied without
// restarting the process.
func Run(ctx context.Context, load LoadFunc, log zerolog.Logger) error {
	for {
		cfg, err := load()
		if err != nil {
			return err
		}
		srv, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}

		if !cfg.Reload {
			err := srv.Listen(ctx)
			_ = srv.Close()
			return err
		}

		rebuild, err := srv.serveWatching(ctx)
		_ = srv.Close()
		if err != nil || !rebuild {
			return err
		}
		log.Info().Str("event", "server_reload").Str("app_dir", cfg.AppDir).Msg("configuration changed, rebuilding")
	}
}

// serveWatching serves until ctx is done or a config change requires a
// rebuild, which it reports.
func (s *Server) serveWatching(ctx context.Context) (bool, error) {
	w, err := newWatcher(s.cfg.AppDir, reloadDebounce, s.log)
	if err != nil {
		return false, err
	}
	defer w.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Listen(runCtx)
	}()

	for {
		select {
		case err := <-errCh:
			return false, err
		case c := <-w.Changes():
			switch c {
			case changeRegistry:
				s.svc.Registry().Reload()
				s.log.Info().Str("event", "registry_reload").Msg("registries reloaded")
			case changeConfig:
				stop()
				if err := <-errCh; err != nil {
					return false, err
				}
				return ctx.Err() == nil, nil
			}
		}
	}
}

// watcher turns fsnotify events under an app dir into debounced changes.
type watcher struct {
	fs      *fsnotify.Watcher
	appDir  string
	regDir  string
	changes chan change
	done    chan struct{}
	log     zerolog.Logger
}

func newWatcher(appDir string, debounce time.Duration, log zerolog.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &watcher{
		fs:      fw,
		appDir:  filepath.Clean(appDir),
		regDir:  filepath.Join(filepath.Clean(appDir), "registries"),
		changes: make(chan change),
		done:    make(chan struct{}),
		log:     log,
	}
	if err := fw.Add(w.appDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", w.appDir, err)
	}
	if err := fw.Add(w.regDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.log.Warn().Err(err).Str("dir", w.regDir).Msg("registry dir not watched")
	}

	go w.loop(debounce)
	return w, nil
}

func (w *watcher) Changes() <-chan change { return w.changes }

func (w *watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *watcher) loop(debounce time.Duration) {
	var (
		pending change
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			c := w.classify(ev)
			if c == changeNone {
				continue
			}
			pending = max(pending, c)
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-fire:
			fire = nil
			c := pending
			pending = changeNone
			select {
			case w.changes <- c:
			case <-w.done:
				return
			}
		}
	}
}

func (w *watcher) classify(ev fsnotify.Event) change {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return changeNone
	}
	path := filepath.Clean(ev.Name)
	dir := filepath.Dir(path)

	switch {
	case dir == w.appDir && filepath.Base(path) == ".env":
		return changeConfig
	case dir == w.appDir && filepath.Base(path) == "registries":
		// registry dir created after start; rebuild so it gets watched
		return changeConfig
	case dir == w.regDir:
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
			return changeRegistry
		}
	}
	return changeNone
}
