// Package render provides the html/template renderer for render routes.
//
// A template named "page" is looked up as "page.html" in the module's
// template layers, most specific first, so a project layer can override
// any template of a base layer. Function-valued helpers of the owning
// module are available as template functions.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"reflect"
	"sync"

	"github.com/artpar/modhost/core/module"
	"github.com/rs/zerolog"
)

// Ext is the template file extension.
const Ext = ".html"

// Renderer renders module templates.
type Renderer struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*template.Template
	reuse bool
}

// New creates a renderer. With cache set, parsed templates are kept for
// the life of the process.
func New(logger zerolog.Logger, cache bool) *Renderer {
	return &Renderer{
		logger: logger,
		cache:  make(map[string]*template.Template),
		reuse:  cache,
	}
}

// Render executes the named template of m.
func (r *Renderer) Render(ctx context.Context, req *module.Request, name string, data map[string]any, m *module.Module) ([]byte, error) {
	tmpl, err := r.template(m, name)
	if err != nil {
		return nil, err
	}

	view := map[string]any{
		"data":        data,
		"module":      moduleView(m),
		"route":       name,
		"user":        req.User(),
		"browserData": BrowserData(req),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("render %s/%s: %w", m.Name, name, err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) template(m *module.Module, name string) (*template.Template, error) {
	key := m.Name + "/" + name
	if r.reuse {
		r.mu.RLock()
		tmpl, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return tmpl, nil
		}
	}

	src, layer, err := resolve(m, name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Funcs(funcs(m)).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", key, err)
	}
	r.logger.Debug().
		Str("module", m.Name).
		Str("template", name).
		Int("layer", layer).
		Msg("template parsed")

	if r.reuse {
		r.mu.Lock()
		r.cache[key] = tmpl
		r.mu.Unlock()
	}
	return tmpl, nil
}

// resolve returns the source of the most specific layer defining name
// and that layer's index, 0 being the most specific.
func resolve(m *module.Module, name string) ([]byte, int, error) {
	for i, layer := range m.Templates() {
		src, err := fs.ReadFile(layer, name+Ext)
		if err == nil {
			return src, i, nil
		}
		if !isNotExist(err) {
			return nil, i, fmt.Errorf("read template %s/%s: %w", m.Name, name, err)
		}
	}
	return nil, -1, fmt.Errorf("template %q not found for module %q", name, m.Name)
}

func isNotExist(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid))
}

func funcs(m *module.Module) template.FuncMap {
	out := template.FuncMap{}
	for name, h := range m.Helpers() {
		if !validFuncName(name) {
			continue
		}
		if reflect.ValueOf(h).Kind() == reflect.Func {
			out[name] = h
		}
	}
	return out
}

func validFuncName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func moduleView(m *module.Module) map[string]any {
	return map[string]any{
		"name":    m.Name,
		"alias":   m.Alias,
		"action":  m.ActionPrefix,
		"options": m.Options(),
	}
}

// BrowserData collects the browser data of every module whose scene
// applies to req: public modules always, apos modules only for logged in
// users. Entries are keyed by module name.
func BrowserData(req *module.Request) map[string]any {
	out := map[string]any{}
	host := req.Host()
	if host == nil {
		return out
	}

	for _, m := range host.Modules() {
		switch m.BrowserData {
		case module.ScenePublic:
		case module.SceneApos:
			if !req.Authenticated() {
				continue
			}
		default:
			continue
		}

		entry := map[string]any{"action": m.ActionPrefix}
		for k, v := range m.BrowserDataFor(req) {
			entry[k] = v
		}
		out[m.Name] = entry
	}
	return out
}
