package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/artpar/modhost/core/module"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCookieName is used when Options.CookieName is empty.
const DefaultCookieName = "modhost.sid"

// Options configures the session manager.
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager attaches sessions to requests.
type Manager struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

// NewManager creates a session manager backed by store.
func NewManager(store Store, opts Options, logger zerolog.Logger) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &Manager{store: store, opts: opts, logger: logger}
}

// Middleware loads the request's session, or starts a new one, and makes
// it available through module.SessionFrom. A session is only saved, and
// its cookie only issued, when the handler modified it.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.load(r)

		sw := &sessionWriter{ResponseWriter: w, manager: m, sess: sess, ctx: r.Context()}
		next.ServeHTTP(sw, r.WithContext(module.WithSession(r.Context(), sess)))

		// only reached with open headers if the handler wrote nothing
		sw.commit()
	})
}

// Destroy deletes the request's session from the store and expires its
// cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	sess := module.SessionFrom(r.Context())
	if sess == nil {
		return nil
	}
	if err := m.store.Delete(r.Context(), sess.ID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) load(r *http.Request) *module.Session {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return module.NewSession(uuid.NewString())
	}

	values, err := m.store.Load(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Error().Err(err).Msg("load session")
		}
		return module.NewSession(uuid.NewString())
	}

	if values == nil {
		values = map[string]any{}
	}
	sess := &module.Session{ID: cookie.Value, Values: values}
	if _, ok := sess.Values[module.SessionCookieKey]; !ok {
		sess.Values[module.SessionCookieKey] = map[string]any{}
	}
	sess.MarkLoaded()
	return sess
}

func (m *Manager) save(ctx context.Context, w http.ResponseWriter, sess *module.Session) {
	if err := m.store.Save(ctx, sess.ID, sess.Values, m.opts.TTL); err != nil {
		m.logger.Error().Err(err).Str("session", sess.ID).Msg("save session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionWriter saves a modified session right before the response
// headers are sent.
type sessionWriter struct {
	http.ResponseWriter
	manager *Manager
	sess    *module.Session
	ctx     context.Context
	once    sync.Once
}

func (w *sessionWriter) commit() {
	w.once.Do(func() {
		if w.sess.Modified() {
			w.manager.save(w.ctx, w.ResponseWriter, w.sess)
		}
	})
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
