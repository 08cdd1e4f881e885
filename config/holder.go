// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DebounceInterval is how long the file watcher waits for further events
// before reloading.
const DebounceInterval = 100 * time.Millisecond

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	onReload []func(error)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	return h, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Path returns the absolute path of the watched file.
func (h *Holder) Path() string {
	return h.path
}

// Reload reads the file again. On failure the current configuration is kept
// and the error is returned.
func (h *Holder) Reload() error {
	newCfg, err := Load(h.path)
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		h.notifyReload(err)
		return err
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	onChange := append(([]func(*Config))(nil), h.onChange...)
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)

	for _, fn := range onChange {
		fn(newCfg)
	}
	h.notifyReload(nil)

	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// OnChange registers a callback to be called when config changes.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload registers a callback invoked after every reload attempt with its
// outcome.
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

func (h *Holder) notifyReload(err error) {
	h.mu.RLock()
	fns := append(([]func(error))(nil), h.onReload...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

// WatchFile reloads when the config file is written or replaced.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Atomic saves replace the file, so watch its directory.
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop is called.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.reloadFrom("signal")
			case <-h.stopCh:
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals. It is safe to call more
// than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

// watchLoop reloads once per burst of events on the config file. Editors
// often truncate and write in separate events.
func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("config file changed")

			if timer == nil {
				timer = time.NewTimer(DebounceInterval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DebounceInterval)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			h.reloadFrom("file")

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) reloadFrom(source string) {
	if err := h.Reload(); err != nil {
		h.logger.Error().Err(err).Str("source", source).Msg("config reload failed")
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}
	if old.Logging.Format != new.Logging.Format {
		h.logger.Info().
			Str("old", old.Logging.Format).
			Str("new", new.Logging.Format).
			Msg("log format changed")
	}

	for _, field := range ChangedNonReloadable(old, new) {
		h.logger.Warn().
			Str("field", field).
			Msg("config change requires restart to take effect")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
		"logging.format",
	}
}

// ChangedNonReloadable lists the restart-only fields that differ between old
// and new. Modules are never reloaded, so every app.* field is among them.
func ChangedNonReloadable(old, new *Config) []string {
	var changed []string
	check := func(field string, differs bool) {
		if differs {
			changed = append(changed, field)
		}
	}

	check("server.host", old.Server.Host != new.Server.Host)
	check("server.port", old.Server.Port != new.Server.Port)
	check("app.root", old.App.Root != new.App.Root)
	check("app.name", old.App.Name != new.App.Name)
	check("app.suffix", old.App.Suffix != new.App.Suffix)
	check("app.exclude_marker", old.App.ExcludeMarker != new.App.ExcludeMarker)
	check("app.strip_segments", strings.Join(old.App.StripSegments, ",") != strings.Join(new.App.StripSegments, ","))
	check("admin", old.Admin != new.Admin)
	check("database.dsn", old.Database.DSN != new.Database.DSN)
	check("cookies", old.Cookies != new.Cookies)
	check("metrics.enabled", old.Metrics.Enabled != new.Metrics.Enabled)
	check("openapi", old.OpenAPI != new.OpenAPI)

	return changed
}
