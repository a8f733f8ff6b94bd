// Package http serves the compiled route table over HTTP.
// It mounts every compiled route on a chi router behind the ambient
// middleware stack and answers unmatched paths with a normalized error.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/respond"
	"github.com/artpar/modhost/core/routing"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config configures the HTTP channel.
type Config struct {
	// Addr to listen on. Empty means the channel is only used as a handler.
	Addr string

	Logger zerolog.Logger

	// Errors normalizes framework-level errors such as unmatched paths.
	Errors *respond.Normalizer

	// Middleware runs for every request after the built-in stack, in order.
	Middleware []func(http.Handler) http.Handler

	// MetricsPath and MetricsHandler expose metrics when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	// RequestTimeout sets a deadline on the request context. Handlers that
	// honor the context stop early; nothing is written on their behalf, so a
	// late handler still sends the only response. Zero disables it.
	RequestTimeout time.Duration
}

// Channel implements the HTTP channel for compiled routes.
type Channel struct {
	router  chi.Router
	addr    string
	server  *http.Server
	logger  zerolog.Logger
	errors  *respond.Normalizer
	mounted int
}

// New creates a new HTTP channel.
func New(cfg Config) *Channel {
	c := &Channel{
		router: chi.NewRouter(),
		addr:   cfg.Addr,
		logger: cfg.Logger,
		errors: cfg.Errors,
	}

	c.router.Use(middleware.RequestID)
	c.router.Use(middleware.RealIP)
	c.router.Use(NewLoggingMiddleware(cfg.Logger, cfg.MetricsPath))
	c.router.Use(c.recoverer)
	if cfg.RequestTimeout > 0 {
		c.router.Use(deadline(cfg.RequestTimeout))
	}
	for _, mw := range cfg.Middleware {
		c.router.Use(mw)
	}

	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		c.router.Handle(cfg.MetricsPath, cfg.MetricsHandler)
	}

	c.router.NotFound(c.handleNotFound)

	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// Mount registers every route of table, in table order. A URL the router
// rejects is a ConfigurationError.
func (c *Channel) Mount(table *routing.Table) error {
	for _, r := range table.Routes() {
		if err := c.mountRoute(r); err != nil {
			return err
		}
		c.mounted++
	}

	c.logger.Info().Int("routes", table.Len()).Msg("routes mounted")
	return nil
}

// chi panics on patterns it cannot parse
func (c *Channel) mountRoute(r routing.CompiledRoute) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apierr.Configf(r.Module, "mount %s: %v", r, rec)
		}
	}()

	c.router.Method(r.Method, routing.Pattern(r.URL), r.Handler)
	c.logger.Debug().
		Str("method", r.Method).
		Str("url", r.URL).
		Str("module", r.Module).
		Str("kind", r.Kind.String()).
		Msg("route mounted")
	return nil
}

// Start starts the HTTP server.
func (c *Channel) Start(ctx context.Context) error {
	// Only start if addr is set (standalone mode)
	if c.addr == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:              c.addr,
		Handler:           c.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		c.logger.Info().Str("addr", c.addr).Int("routes", c.mounted).Msg("http server listening")
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()

	return nil
}

// Stop stops the HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	return nil
}

func (c *Channel) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := apierr.NotFound("Not found").WithData(map[string]any{"path": r.URL.Path})
	if c.errors == nil {
		http.NotFound(w, r)
		return
	}
	c.errors.Send(w, r, err)
}

// recoverer turns a panic below it into a normalized 500. Wrapped routes
// recover on their own; this catches plain routes and middleware.
func (c *Channel) recoverer(next http.Handler) http.Handler {
	if c.errors == nil {
		return middleware.Recoverer(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			c.errors.Send(w, r, fmt.Errorf("panic: %w", err))
		}()
		next.ServeHTTP(w, r)
	})
}

func deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewLoggingMiddleware creates request logging middleware. Requests to
// skipPath are not logged.
func NewLoggingMiddleware(logger zerolog.Logger, skipPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if skipPath != "" && strings.HasPrefix(r.URL.Path, skipPath) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
