// Package routing compiles the route declarations of every registered
// module into one ordered dispatch table.
//
// Sections are compiled in a fixed order: plain routes, then render
// routes, then API routes. Within a section modules appear in
// registration order and routes in declaration order. API routes include
// the REST shorthand, whose ":_id" routes would otherwise shadow named
// routes declared by any module.
package routing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
	"github.com/artpar/modhost/core/respond"
	"github.com/rs/zerolog"
)

// CompiledRoute is one entry of the dispatch table.
type CompiledRoute struct {
	Method   string
	URL      string
	Name     string
	Module   string
	Kind     module.Kind
	Position int

	// Handler is the middleware chain wrapped around the terminal.
	Handler http.Handler
}

// Table is the immutable, ordered dispatch table.
type Table struct {
	routes []CompiledRoute
}

// Routes returns the compiled routes in dispatch order.
func (t *Table) Routes() []CompiledRoute {
	if t == nil {
		return nil
	}
	return append([]CompiledRoute(nil), t.routes...)
}

// Len returns the number of compiled routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Find returns the route compiled for method and url.
func (t *Table) Find(method, url string) (CompiledRoute, bool) {
	if t == nil {
		return CompiledRoute{}, false
	}
	for _, r := range t.routes {
		if r.Method == method && r.URL == url {
			return r, true
		}
	}
	return CompiledRoute{}, false
}

// Compiler builds dispatch tables.
type Compiler struct {
	wrapper *respond.Wrapper
	logger  zerolog.Logger
}

// NewCompiler creates a compiler that wraps render and API terminals with
// wrapper.
func NewCompiler(wrapper *respond.Wrapper, logger zerolog.Logger) *Compiler {
	return &Compiler{wrapper: wrapper, logger: logger}
}

var sections = []module.Kind{module.KindPlain, module.KindRender, module.KindAPI}

var methods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Compile builds the table for modules, given in registration order. Any
// malformed declaration, unknown before target or duplicate route is a
// *apierr.ConfigurationError.
func (c *Compiler) Compile(modules []*module.Module) (*Table, error) {
	var (
		routes []CompiledRoute
		seen   = make(map[string]CompiledRoute)
	)

	for _, kind := range sections {
		for _, m := range modules {
			decls := m.Section(kind)
			if kind == module.KindAPI {
				decls = append(decls, ExpandREST(m.REST())...)
			}

			compiled := make([]CompiledRoute, 0, len(decls))
			for _, d := range decls {
				cr, err := c.compileRoute(m, kind, d)
				if err != nil {
					return nil, err
				}
				compiled = append(compiled, cr)
			}

			ordered, err := applyBefore(m, compiled, decls)
			if err != nil {
				return nil, err
			}

			for _, cr := range ordered {
				key := cr.Method + " " + shape(cr.URL)
				if prev, dup := seen[key]; dup {
					return nil, apierr.Configf(cr.Module, "duplicate route %s %s (%s), already declared by module %q as %s %s",
						cr.Method, cr.URL, kind, prev.Module, prev.Method, prev.URL)
				}
				cr.Position = len(routes)
				seen[key] = cr
				routes = append(routes, cr)
			}
		}
	}

	c.logger.Info().
		Int("routes", len(routes)).
		Int("modules", len(modules)).
		Msg("routes compiled")

	return &Table{routes: routes}, nil
}

func (c *Compiler) compileRoute(m *module.Module, kind module.Kind, d module.Route) (CompiledRoute, error) {
	method := strings.ToUpper(d.Method)
	if !methods[method] {
		return CompiledRoute{}, apierr.Configf(m.Name, "%s route %q: unsupported method %q", kind, d.Name, d.Method)
	}

	url := URL(m.ActionPrefix, d.Name)
	if i := strings.Index(url, "*"); i >= 0 && i != len(url)-1 {
		return CompiledRoute{}, apierr.Configf(m.Name, "%s route %q: wildcard must be the last character of %s", kind, d.Name, url)
	}

	var h http.Handler
	switch kind {
	case module.KindPlain:
		if d.HTTP == nil || d.Handler != nil {
			return CompiledRoute{}, apierr.Configf(m.Name, "%s route %s %q: needs an HTTP terminal handler", kind, method, d.Name)
		}
		h = d.HTTP
	case module.KindRender, module.KindAPI:
		if d.Handler == nil || d.HTTP != nil {
			return CompiledRoute{}, apierr.Configf(m.Name, "%s route %s %q: needs a terminal handler", kind, method, d.Name)
		}
		if c.wrapper == nil {
			return CompiledRoute{}, apierr.Configf(m.Name, "%s route %s %q: no response wrapper configured", kind, method, d.Name)
		}
		if kind == module.KindRender {
			h = c.wrapper.Render(m, d.Name, d.Handler)
		} else {
			h = c.wrapper.API(m, d.Name, d.Handler)
		}
	}

	for i := len(d.Middleware) - 1; i >= 0; i-- {
		mw := d.Middleware[i]
		if mw == nil {
			return CompiledRoute{}, apierr.Configf(m.Name, "%s route %s %q: middleware %d is nil", kind, method, d.Name, i)
		}
		h = mw(h)
	}

	return CompiledRoute{
		Method:  method,
		URL:     url,
		Name:    d.Name,
		Module:  m.Name,
		Kind:    kind,
		Handler: h,
	}, nil
}

// applyBefore moves each route with a before hint immediately ahead of
// its target, the route of the same module, section and method with that
// name. decls and compiled are parallel.
func applyBefore(m *module.Module, compiled []CompiledRoute, decls []module.Route) ([]CompiledRoute, error) {
	out := append([]CompiledRoute(nil), compiled...)

	for i, d := range decls {
		if d.Before == "" {
			continue
		}
		cr := compiled[i]

		from := indexOf(out, cr.Method, cr.Name)
		out = append(out[:from], out[from+1:]...)

		to := indexOf(out, cr.Method, d.Before)
		if to < 0 {
			return nil, apierr.Configf(m.Name, "route %s %q: before target %q not found", cr.Method, cr.Name, d.Before)
		}
		out = append(out[:to], append([]CompiledRoute{cr}, out[to:]...)...)
	}
	return out, nil
}

func indexOf(routes []CompiledRoute, method, name string) int {
	for i, r := range routes {
		if r.Method == method && r.Name == name {
			return i
		}
	}
	return -1
}

// ExpandREST translates the REST shorthand into API route declarations.
// Document routes take the ":_id" parameter and pass it to the handler.
func ExpandREST(rest module.REST) []module.Route {
	var out []module.Route
	if rest.GetAll != nil {
		out = append(out, module.Route{Method: http.MethodGet, Name: "", Middleware: rest.GetAll.Middleware, Handler: rest.GetAll.Handler})
	}
	if rest.GetOne != nil {
		out = append(out, idRoute(http.MethodGet, rest.GetOne))
	}
	if rest.Post != nil {
		out = append(out, module.Route{Method: http.MethodPost, Name: "", Middleware: rest.Post.Middleware, Handler: rest.Post.Handler})
	}
	if rest.Put != nil {
		out = append(out, idRoute(http.MethodPut, rest.Put))
	}
	if rest.Patch != nil {
		out = append(out, idRoute(http.MethodPatch, rest.Patch))
	}
	if rest.Delete != nil {
		out = append(out, idRoute(http.MethodDelete, rest.Delete))
	}
	return out
}

// IDParam is the URL parameter of REST document routes.
const IDParam = "_id"

func idRoute(method string, ep *module.IDEndpoint) module.Route {
	r := module.Route{
		Method:     method,
		Name:       ":" + IDParam,
		Middleware: ep.Middleware,
	}
	if h := ep.Handler; h != nil {
		r.Handler = func(req *module.Request) (any, error) {
			return h(req, req.Param(IDParam))
		}
	}
	return r
}

// String formats the route as "METHOD URL".
func (r CompiledRoute) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}
