package module

import (
	"io/fs"
	"sort"
	"strings"

	"github.com/artpar/modhost/core/apierr"
)

// DefaultPrefixRoot is the root of derived action prefixes.
const DefaultPrefixRoot = "/api/v1/"

// Module is a merged, immutable module.
type Module struct {
	Name         string
	Alias        string
	ActionPrefix string
	BrowserData  Scene

	options         map[string]any
	chain           []Definition
	routes          []Route
	renderRoutes    []Route
	apiRoutes       []Route
	rest            REST
	handlers        []On
	helpers         map[string]any
	tasks           map[string]Task
	inits           []InitFunc
	templates       []fs.FS
	browserDataFunc func(req *Request) map[string]any
	host            Host
}

// Build merges a definition chain, general first, into a Module.
func Build(chain ...Definition) (*Module, error) {
	if len(chain) == 0 {
		return nil, apierr.Configf("", "empty definition chain")
	}

	m := &Module{
		options: make(map[string]any),
		helpers: make(map[string]any),
		tasks:   make(map[string]Task),
		chain:   append([]Definition(nil), chain...),
	}

	for _, def := range chain {
		if def.Name != "" {
			m.Name = def.Name
		}
		if def.Alias != "" {
			m.Alias = def.Alias
		}
		if def.ActionPrefix != "" {
			m.ActionPrefix = def.ActionPrefix
		}
		if def.BrowserData != "" {
			m.BrowserData = def.BrowserData
		}
		if def.BrowserDataFunc != nil {
			m.browserDataFunc = def.BrowserDataFunc
		}
		for k, v := range def.Options {
			m.options[k] = v
		}
		m.routes = mergeRoutes(m.routes, def.Routes)
		m.renderRoutes = mergeRoutes(m.renderRoutes, def.RenderRoutes)
		m.apiRoutes = mergeRoutes(m.apiRoutes, def.APIRoutes)
		m.rest = mergeREST(m.rest, def.REST)
		m.handlers = mergeHandlers(m.handlers, def.Handlers)
		for k, v := range def.Helpers {
			m.helpers[k] = v
		}
		for k, v := range def.Tasks {
			m.tasks[k] = v
		}
		if def.Init != nil {
			m.inits = append(m.inits, def.Init)
		}
		if def.Templates != nil {
			// most specific first
			m.templates = append([]fs.FS{def.Templates}, m.templates...)
		}
	}

	if m.Name == "" {
		return nil, apierr.Configf("", "definition chain has no module name")
	}
	if strings.ContainsAny(m.Name, "/: ") {
		return nil, apierr.Configf(m.Name, "module name must not contain '/', ':' or spaces")
	}
	if m.ActionPrefix == "" {
		m.ActionPrefix = DefaultPrefixRoot + m.Name
	}
	m.ActionPrefix = "/" + strings.Trim(m.ActionPrefix, "/")
	if m.BrowserData == "" {
		m.BrowserData = SceneNone
	}
	switch m.BrowserData {
	case SceneNone, SceneApos, ScenePublic:
	default:
		return nil, apierr.Configf(m.Name, "unknown browser data scene %q", m.BrowserData)
	}

	return m, nil
}

func mergeRoutes(into, layer []Route) []Route {
	for _, r := range layer {
		replaced := false
		for i := range into {
			if strings.EqualFold(into[i].Method, r.Method) && into[i].Name == r.Name {
				into[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			into = append(into, r)
		}
	}
	return into
}

func mergeREST(into, layer REST) REST {
	if layer.GetAll != nil {
		into.GetAll = layer.GetAll
	}
	if layer.GetOne != nil {
		into.GetOne = layer.GetOne
	}
	if layer.Post != nil {
		into.Post = layer.Post
	}
	if layer.Put != nil {
		into.Put = layer.Put
	}
	if layer.Patch != nil {
		into.Patch = layer.Patch
	}
	if layer.Delete != nil {
		into.Delete = layer.Delete
	}
	return into
}

func mergeHandlers(into, layer []On) []On {
	for _, h := range layer {
		replaced := false
		if h.Name != "" {
			for i := range into {
				if into[i].Event == h.Event && into[i].Name == h.Name {
					into[i] = h
					replaced = true
					break
				}
			}
		}
		if !replaced {
			into = append(into, h)
		}
	}
	return into
}

// Option returns a merged option.
func (m *Module) Option(key string) (any, bool) {
	v, ok := m.options[key]
	return v, ok
}

// OptionString returns a string option or def.
func (m *Module) OptionString(key, def string) string {
	if s, ok := m.options[key].(string); ok {
		return s
	}
	return def
}

// Options returns a copy of the merged options.
func (m *Module) Options() map[string]any {
	out := make(map[string]any, len(m.options))
	for k, v := range m.options {
		out[k] = v
	}
	return out
}

// Chain returns the definition chain, general first.
func (m *Module) Chain() []Definition {
	return append([]Definition(nil), m.chain...)
}

// Section returns the declared routes of a section in merged order.
func (m *Module) Section(kind Kind) []Route {
	var src []Route
	switch kind {
	case KindPlain:
		src = m.routes
	case KindRender:
		src = m.renderRoutes
	case KindAPI:
		src = m.apiRoutes
	}
	return append([]Route(nil), src...)
}

// REST returns the merged REST shorthand.
func (m *Module) REST() REST {
	return m.rest
}

// Handlers returns the merged event handlers.
func (m *Module) Handlers() []On {
	return append([]On(nil), m.handlers...)
}

// Helpers returns the merged helpers.
func (m *Module) Helpers() map[string]any {
	out := make(map[string]any, len(m.helpers))
	for k, v := range m.helpers {
		out[k] = v
	}
	return out
}

// Task looks up a task by name.
func (m *Module) Task(name string) (Task, bool) {
	t, ok := m.tasks[name]
	return t, ok
}

// TaskNames lists the module's tasks.
func (m *Module) TaskNames() []string {
	names := make([]string, 0, len(m.tasks))
	for name := range m.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inits returns the init hooks in chain order.
func (m *Module) Inits() []InitFunc {
	return append([]InitFunc(nil), m.inits...)
}

// Templates returns the template layers, most specific first.
func (m *Module) Templates() []fs.FS {
	return append([]fs.FS(nil), m.templates...)
}

// BrowserDataFor returns the module's browser data for req, or nil.
func (m *Module) BrowserDataFor(req *Request) map[string]any {
	if m.browserDataFunc == nil {
		return nil
	}
	return m.browserDataFunc(req)
}

// Attach binds the module to its host. The runtime calls it once during
// registration.
func (m *Module) Attach(h Host) {
	m.host = h
}

// Host returns the host the module is attached to.
func (m *Module) Host() Host {
	return m.host
}
