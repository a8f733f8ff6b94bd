// Package module defines module descriptors and the request context handed
// to module handlers.
//
// A module is described by a definition chain: an ordered list of
// Definition layers from the most general (a base shared by many modules)
// to the most specific (a project override). Build merges the chain once,
// at boot, into an immutable Module.
package module

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/artpar/modhost/core/events"
)

// Kind is the route section a declaration belongs to.
type Kind int

const (
	// KindPlain routes are developer-declared raw HTTP handlers.
	KindPlain Kind = iota

	// KindRender routes produce data that is rendered to markup.
	KindRender

	// KindAPI routes produce a JSON value.
	KindAPI
)

// String returns the section name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "routes"
	case KindRender:
		return "renderRoutes"
	case KindAPI:
		return "apiRoutes"
	default:
		return "unknown"
	}
}

// Scene selects which pages receive a module's browser data.
type Scene string

const (
	SceneNone   Scene = "none"
	SceneApos   Scene = "apos"
	ScenePublic Scene = "public"
)

// Handler is the terminal handler of a render or API route.
type Handler func(req *Request) (any, error)

// IDHandler is the terminal handler of a REST shorthand route that
// addresses a single document.
type IDHandler func(req *Request, id string) (any, error)

// Middleware wraps the rest of a route's chain.
type Middleware func(http.Handler) http.Handler

// Route declares one route in a section.
type Route struct {
	// Method is GET, POST, PUT, PATCH or DELETE.
	Method string

	// Name derives the URL. See the routing package.
	Name string

	// Middleware runs before the terminal handler, outermost first.
	Middleware []Middleware

	// Handler is the terminal for render and API sections.
	Handler Handler

	// HTTP is the terminal for the plain routes section.
	HTTP http.HandlerFunc

	// Before names a route of the same module and method that this
	// route must precede.
	Before string
}

// Endpoint is a REST shorthand endpoint on the collection.
type Endpoint struct {
	Middleware []Middleware
	Handler    Handler
}

// IDEndpoint is a REST shorthand endpoint on a single document.
type IDEndpoint struct {
	Middleware []Middleware
	Handler    IDHandler
}

// REST is the shorthand CRUD declaration. The route compiler expands it
// into API routes.
type REST struct {
	GetAll *Endpoint
	GetOne *IDEndpoint
	Post   *Endpoint
	Put    *IDEndpoint
	Patch  *IDEndpoint
	Delete *IDEndpoint
}

// On declares an event handler.
type On struct {
	Event   events.Name
	Name    string
	Handler events.Handler
}

// Task is a one-shot command run at boot instead of, or before, serving.
type Task struct {
	Usage string

	// Run executes the task with the remaining command-line arguments.
	Run func(ctx context.Context, m *Module, args []string) error

	// KeepRunning lets the process continue to serve after the task.
	KeepRunning bool
}

// InitFunc runs once per layer after the module is registered.
type InitFunc func(ctx context.Context, m *Module) error

// Definition is one layer of a module's definition chain.
type Definition struct {
	// Name is the module name. Base layers may leave it empty.
	Name string

	// Layer labels the layer in logs, e.g. "base/pieces".
	Layer string

	Alias        string
	ActionPrefix string
	Options      map[string]any

	BrowserData     Scene
	BrowserDataFunc func(req *Request) map[string]any

	Routes       []Route
	RenderRoutes []Route
	APIRoutes    []Route
	REST         REST

	Handlers []On
	Helpers  map[string]any
	Tasks    map[string]Task
	Init     InitFunc

	// Templates holds this layer's templates, named "<template>.html".
	Templates fs.FS
}
