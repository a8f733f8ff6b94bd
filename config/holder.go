package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDebounce coalesces the bursts of events editors produce on save.
const ReloadDebounce = 100 * time.Millisecond

// Change is one setting that differs between two configurations.
type Change struct {
	Field string
	Old   string
	New   string
	// Restart is set for settings that only take effect on the next start.
	Restart bool
}

// liveFields are applied by a running server.
var liveFields = map[string]bool{
	"logging.level": true,
}

// Diff lists the settings that differ between old and new, in field
// order. Secrets are masked.
func Diff(old, new *Config) []Change {
	var out []Change
	add := func(field string, a, b any) {
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		if as != bs {
			out = append(out, Change{Field: field, Old: as, New: bs, Restart: !liveFields[field]})
		}
	}

	add("server.host", old.Server.Host, new.Server.Host)
	add("server.port", old.Server.Port, new.Server.Port)
	add("server.request_timeout", old.Server.RequestTimeout, new.Server.RequestTimeout)
	add("logging.level", old.Logging.Level, new.Logging.Level)
	add("logging.format", old.Logging.Format, new.Logging.Format)
	add("metrics.enabled", old.Metrics.Enabled, new.Metrics.Enabled)
	add("metrics.path", old.Metrics.Path, new.Metrics.Path)
	add("session.driver", old.Session.Driver, new.Session.Driver)
	add("session.cookie_name", old.Session.CookieName, new.Session.CookieName)
	add("session.ttl", old.Session.TTL, new.Session.TTL)
	add("session.dsn", old.Session.DSN, new.Session.DSN)
	add("session.redis.addr", old.Session.Redis.Addr, new.Session.Redis.Addr)
	if old.Auth.JWTSecret != new.Auth.JWTSecret {
		out = append(out, Change{Field: "auth.jwt_secret", Old: mask(old.Auth.JWTSecret), New: mask(new.Auth.JWTSecret), Restart: true})
	}
	add("auth.token_ttl", old.Auth.TokenTTL, new.Auth.TokenTTL)
	oldKeys, newKeys := keyNames(old.Auth.Keys), keyNames(new.Auth.Keys)
	if oldKeys != newKeys || keyHashes(old.Auth.Keys) != keyHashes(new.Auth.Keys) {
		out = append(out, Change{Field: "auth.keys", Old: oldKeys, New: newKeys, Restart: true})
	}
	add("auth.permissions", old.Auth.Permissions, new.Auth.Permissions)
	add("release.id", old.Release.ID, new.Release.ID)
	add("render.cache", old.Render.Cache, new.Render.Cache)
	add("errors", old.Errors, new.Errors)
	for _, name := range moduleNames(old.Modules, new.Modules) {
		add("modules."+name, old.Modules[name], new.Modules[name])
	}

	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func keyNames(keys []KeyConfig) string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.Name+"("+k.Role+")")
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func keyHashes(keys []KeyConfig) string {
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		hashes = append(hashes, k.Name+"="+k.Hash)
	}
	sort.Strings(hashes)
	return strings.Join(hashes, ",")
}

func moduleNames(a, b map[string]ModuleConfig) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for name := range a {
		seen[name] = true
	}
	for name := range b {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReloadObserver records reload attempts.
type ReloadObserver interface {
	ObserveReload(err error)
}

// Holder owns the live configuration of a running server and swaps it
// on file changes or SIGHUP. A failed reload keeps the current config.
type Holder struct {
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config, []Change)
	observer  ReloadObserver

	reloadMu sync.Mutex
	watcher  *fsnotify.Watcher
	timerMu  sync.Mutex
	pending  *time.Timer
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:   abs,
		logger: logger.With().Str("config", abs).Logger(),
		config: cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// SetObserver installs a reload observer.
func (h *Holder) SetObserver(o ReloadObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// OnChange registers fn to run after every reload that changed something.
func (h *Holder) OnChange(fn func(*Config, []Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload reads the file again. It returns the changes applied, which are
// empty when the file is unchanged.
func (h *Holder) Reload() ([]Change, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	next, err := Load(h.path)

	h.mu.RLock()
	current, observer := h.config, h.observer
	h.mu.RUnlock()
	if observer != nil {
		observer.ObserveReload(err)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping current config")
		return nil, fmt.Errorf("reload config: %w", err)
	}

	changes := Diff(current, next)
	if len(changes) == 0 {
		h.logger.Debug().Msg("config unchanged")
		return nil, nil
	}

	h.mu.Lock()
	h.config = next
	listeners := append(([]func(*Config, []Change))(nil), h.listeners...)
	h.mu.Unlock()

	for _, c := range changes {
		ev := h.logger.Info()
		if c.Restart {
			ev = h.logger.Warn().Bool("restart_required", true)
		}
		ev.Str("field", c.Field).Str("old", c.Old).Str("new", c.New).Msg("config changed")
	}
	for _, fn := range listeners {
		fn(next, changes)
	}
	return changes, nil
}

// WatchFile reloads after the file is written or replaced. The directory
// is watched so atomic saves are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = watcher

	go h.watch(watcher)
	h.logger.Info().Msg("watching config file")
	return nil
}

func (h *Holder) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != h.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			h.schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher")
		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) schedule() {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()

	if h.pending != nil {
		h.pending.Stop()
	}
	h.pending = time.AfterFunc(ReloadDebounce, func() {
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.Reload()
	})
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.logger.Info().Msg("SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)

		h.timerMu.Lock()
		if h.pending != nil {
			h.pending.Stop()
		}
		h.timerMu.Unlock()

		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}
