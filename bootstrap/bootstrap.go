// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/artpar/modhost/adapters/auth"
	"github.com/artpar/modhost/adapters/metrics"
	"github.com/artpar/modhost/adapters/release"
	"github.com/artpar/modhost/adapters/render"
	"github.com/artpar/modhost/adapters/session"
	"github.com/artpar/modhost/config"
	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/cache"
	httpchan "github.com/artpar/modhost/core/channel/http"
	"github.com/artpar/modhost/core/module"
	"github.com/artpar/modhost/core/respond"
	"github.com/artpar/modhost/core/runtime"
	"github.com/artpar/modhost/modules/health"
	"github.com/artpar/modhost/modules/notes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// DefaultConfigPath is read when no config path is given.
const DefaultConfigPath = "modhost.yaml"

// Options configures application initialization.
type Options struct {
	// ConfigPath is the YAML config file. A missing file falls back to
	// environment configuration.
	ConfigPath string

	// Config is used instead of loading one when set.
	Config *config.Config

	// Version is reported by the health module.
	Version string

	// Modules are extra definition chains, registered after the built-in
	// modules.
	Modules [][]module.Definition

	// Watch enables config hot reload through fsnotify and SIGHUP.
	Watch bool
}

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Holder   *config.Holder
	Runtime  *runtime.Runtime
	Channel  *httpchan.Channel
	Metrics  *metrics.Collector
	Errors   *respond.Normalizer
	Cache    *cache.Controller
	Release  *release.Resolver
	Sessions *session.Manager

	// Built-in modules
	Health *health.Health
	Notes  *notes.Notes

	chains  [][]module.Definition
	closers []io.Closer
}

// New creates and wires the application. Modules are not booted until
// Boot is called.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		path := opts.ConfigPath
		if path == "" {
			path = DefaultConfigPath
		}
		loaded, err := config.LoadWithFallback(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing modhost")

	a := &App{Logger: logger, Config: cfg}

	reg := prometheus.NewRegistry()
	a.Metrics = metrics.NewWithRegistry(reg)

	if opts.Watch && opts.ConfigPath != "" {
		if err := a.initHolder(opts.ConfigPath); err != nil {
			logger.Warn().Err(err).Msg("config hot reload disabled")
		}
	}

	a.Errors = respond.NewNormalizer(apierr.DefaultKinds().With(cfg.Errors), respond.ZerologLogger{L: logger})
	a.Errors.SetObserver(a.Metrics)

	a.Release = release.New(cfg.Release.ID)
	a.Cache = cache.New(a.Release, logger)

	wrapper := respond.NewWrapper(a.Errors, render.New(logger, cfg.Render.Cache))
	a.Runtime = runtime.New(runtime.Config{
		Logger:  logger,
		Wrapper: wrapper,
		Tasks:   a.Metrics,
	})
	a.Runtime.Events().SetObserver(a.Metrics)

	store, err := a.initSessionStore()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init session store: %w", err)
	}
	a.Sessions = session.NewManager(store, session.Options{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Session.Secure,
	}, logger)

	authenticator, perms, err := a.initAuth()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}

	a.Health = health.New(opts.Version)
	a.Notes = notes.New(notes.Deps{
		Cache:       a.Cache,
		Permissions: perms,
		Errors:      a.Errors,
		Logger:      logger.With().Str("module", notes.Name).Logger(),
	})

	chains := [][]module.Definition{
		{a.Health.Definition()},
		{a.Notes.Definition()},
	}
	chains = append(chains, opts.Modules...)
	if a.chains, err = applyOverrides(chains, cfg.Modules); err != nil {
		a.Close()
		return nil, err
	}

	chanCfg := httpchan.Config{
		Addr:           cfg.Server.Addr(),
		Logger:         logger,
		Errors:         a.Errors,
		RequestTimeout: cfg.Server.RequestTimeout,
		Middleware: []func(http.Handler) http.Handler{
			a.Metrics.Middleware,
			a.Sessions.Middleware,
			authenticator.Middleware,
		},
	}
	if cfg.Metrics.Enabled {
		chanCfg.MetricsPath = cfg.Metrics.Path
		chanCfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}
	a.Channel = httpchan.New(chanCfg)

	return a, nil
}

func (a *App) initHolder(path string) error {
	h, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}
	h.SetObserver(a.Metrics)
	h.OnChange(func(cfg *config.Config, changes []config.Change) {
		for _, c := range changes {
			if c.Field != "logging.level" {
				continue
			}
			if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
				zerolog.SetGlobalLevel(level)
			}
		}
	})
	if err := h.WatchFile(); err != nil {
		h.Stop()
		return err
	}
	h.WatchSignals()
	a.Holder = h
	return nil
}

func (a *App) initSessionStore() (session.Store, error) {
	cfg := a.Config.Session
	switch cfg.Driver {
	case "sqlite":
		store, err := session.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		a.Logger.Info().Str("dsn", cfg.DSN).Msg("sqlite session store")
		return store, nil
	case "redis":
		client, err := session.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis session store")
		return session.NewRedisStore(client, ""), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// DefaultPermissions are used when the config grants none.
func DefaultPermissions() map[string][]string {
	return map[string][]string{
		auth.AnonymousRole: {notes.ActionView},
		"editor":           {"notes:*"},
		"admin":            {"*"},
	}
}

func (a *App) initAuth() (*auth.Authenticator, *auth.Permissions, error) {
	cfg := a.Config.Auth

	if cfg.JWTSecret == "" {
		a.Logger.Warn().Msg("auth.jwt_secret not set, bearer tokens will not survive a restart")
	}
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	var keys *auth.KeyStore
	if len(cfg.Keys) > 0 {
		apiKeys := make([]auth.APIKey, 0, len(cfg.Keys))
		for _, k := range cfg.Keys {
			apiKeys = append(apiKeys, auth.APIKey{Name: k.Name, Role: k.Role, Hash: k.Hash})
		}
		var err error
		if keys, err = auth.NewKeyStore(apiKeys); err != nil {
			return nil, nil, err
		}
	}

	grants := cfg.Permissions
	if len(grants) == 0 {
		grants = DefaultPermissions()
	}

	return auth.NewAuthenticator(tokens, keys, a.Errors, a.Logger), auth.NewPermissions(grants), nil
}

// applyOverrides appends the configured override of each module as the
// most specific layer of its chain.
func applyOverrides(chains [][]module.Definition, overrides map[string]config.ModuleConfig) ([][]module.Definition, error) {
	seen := make(map[string]bool, len(overrides))
	out := make([][]module.Definition, 0, len(chains))

	for _, chain := range chains {
		name := chainName(chain)
		if o, ok := overrides[name]; ok && name != "" {
			seen[name] = true
			chain = append(append([]module.Definition(nil), chain...), module.Definition{
				Name:         name,
				Layer:        "config",
				Alias:        o.Alias,
				ActionPrefix: o.ActionPrefix,
				Options:      o.Options,
			})
		}
		out = append(out, chain)
	}

	var unknown []string
	for name := range overrides {
		if !seen[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, apierr.Configf(unknown[0], "config overrides a module that does not exist")
	}
	return out, nil
}

func chainName(chain []module.Definition) string {
	name := ""
	for _, d := range chain {
		if d.Name != "" {
			name = d.Name
		}
	}
	return name
}

// Boot takes the modules through their lifecycle and mounts the compiled
// routes. When command names a task the outcome says whether the process
// must exit instead of serving.
func (a *App) Boot(ctx context.Context, command string, args []string) (runtime.Outcome, error) {
	outcome, err := a.Runtime.Boot(ctx, a.chains, command, args)
	if err != nil {
		return outcome, fmt.Errorf("boot modules: %w", err)
	}
	if outcome.Exit {
		return outcome, nil
	}

	if err := a.Channel.Mount(a.Runtime.Table()); err != nil {
		return outcome, fmt.Errorf("mount routes: %w", err)
	}
	return outcome, nil
}

// Run boots the modules, serves HTTP and blocks until ctx is done or the
// process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context, command string, args []string) error {
	outcome, err := a.Boot(ctx, command, args)
	if err != nil {
		return err
	}
	if outcome.Exit {
		a.Logger.Info().Str("task", outcome.Task).Msg("task complete, exiting")
		return a.Close()
	}

	if err := a.Channel.Start(ctx); err != nil {
		return fmt.Errorf("start http channel: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("context cancelled, shutting down")
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Channel != nil {
		if err := a.Channel.Stop(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http channel stop error")
		}
	}

	err := a.Close()
	a.Logger.Info().Msg("shutdown complete")
	return err
}

// Close releases stores and watchers. It is safe to call more than once.
func (a *App) Close() error {
	if a.Holder != nil {
		a.Holder.Stop()
	}

	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("close error")
			if first == nil {
				first = err
			}
		}
	}
	a.closers = nil
	return first
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
