package module

import (
	"context"
	"net/http"

	"github.com/artpar/modhost/core/events"
	"github.com/go-chi/chi/v5"
)

// Host is the process-wide context a module is attached to.
type Host interface {
	// Lookup finds a module by name or alias.
	Lookup(nameOrAlias string) (*Module, bool)

	// Emit publishes an event on the bus.
	Emit(ctx context.Context, event events.Name, source string, data map[string]any) error

	// Helper returns a helper registered by a module.
	Helper(module, name string) (any, bool)

	// Modules lists modules in registration order.
	Modules() []*Module
}

// User is an authenticated principal.
type User struct {
	ID   string
	Name string
	Role string
}

// SessionCookieKey is the session's own bookkeeping entry.
const SessionCookieKey = "cookie"

// Session holds per-visitor state between requests.
type Session struct {
	ID     string
	Values map[string]any

	isNew    bool
	modified bool
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	return &Session{
		ID:     id,
		Values: map[string]any{SessionCookieKey: map[string]any{}},
		isNew:  true,
	}
}

// Get returns a session value.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a session value.
func (s *Session) Set(key string, v any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = v
	s.modified = true
}

// Delete removes a session value.
func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.modified = true
	}
}

// IsNew reports whether the session was created for this request.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Modified reports whether the session changed during this request.
func (s *Session) Modified() bool {
	return s.modified
}

// MarkLoaded clears the new and modified flags after a store load.
func (s *Session) MarkLoaded() {
	s.isNew = false
	s.modified = false
}

type ctxKey int

const (
	userKey ctxKey = iota
	sessionKey
)

// WithUser attaches an authenticated user to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the authenticated user, or nil.
func UserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// WithSession attaches a session to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFrom returns the request session, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey).(*Session)
	return s
}

// Request is the context handed to render and API handlers.
type Request struct {
	*http.Request

	// Module owns the route being served.
	Module *Module

	// Route is the declared route name.
	Route string

	header http.Header
	status int
}

// NewRequest wraps r for a route of m. Response headers set through the
// request are written by the response wrapper.
func NewRequest(w http.ResponseWriter, r *http.Request, m *Module, route string) *Request {
	return &Request{
		Request: r,
		Module:  m,
		Route:   route,
		header:  w.Header(),
	}
}

// User returns the authenticated user, or nil.
func (r *Request) User() *User {
	return UserFrom(r.Context())
}

// Authenticated reports whether a user is logged in.
func (r *Request) Authenticated() bool {
	return r.User() != nil
}

// Session returns the request session, or nil.
func (r *Request) Session() *Session {
	return SessionFrom(r.Context())
}

// Param returns a URL parameter.
func (r *Request) Param(name string) string {
	return chi.URLParam(r.Request, name)
}

// ResponseHeader returns the pending response headers.
func (r *Request) ResponseHeader() http.Header {
	return r.header
}

// SetStatus sets the pending response status.
func (r *Request) SetStatus(code int) {
	r.status = code
}

// Status returns the pending response status, 200 if none was set.
func (r *Request) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Host returns the host of the owning module.
func (r *Request) Host() Host {
	if r.Module == nil {
		return nil
	}
	return r.Module.Host()
}
