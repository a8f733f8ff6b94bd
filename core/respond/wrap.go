package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/artpar/modhost/core/module"
)

// Renderer turns render-route data into markup.
type Renderer interface {
	Render(ctx context.Context, req *module.Request, template string, data map[string]any, m *module.Module) ([]byte, error)
}

// Wrapper builds the terminal http.Handler of compiled routes.
type Wrapper struct {
	errors   *Normalizer
	renderer Renderer
}

// NewWrapper creates a wrapper. renderer may be nil if no render routes
// are declared.
func NewWrapper(n *Normalizer, renderer Renderer) *Wrapper {
	return &Wrapper{errors: n, renderer: renderer}
}

// Normalizer returns the error normalizer used by the wrapper.
func (wr *Wrapper) Normalizer() *Normalizer {
	return wr.errors
}

// API wraps an API handler. The handler's value is sent as JSON.
func (wr *Wrapper) API(m *module.Module, route string, h module.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := module.NewRequest(w, r, m, route)

		result, err := wr.invoke(h, req)
		if err != nil {
			wr.errors.Send(w, r, err)
			return
		}

		// authenticated GET results are never cached
		if r.Method == http.MethodGet && req.Authenticated() {
			w.Header().Set("Cache-Control", "no-store")
		}

		status := req.Status()
		if !bodyAllowed(status) {
			w.WriteHeader(status)
			return
		}

		body, err := json.Marshal(result)
		if err != nil {
			wr.errors.Send(w, r, fmt.Errorf("encode %s result: %w", route, err))
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		w.Write(body)
	})
}

// Render wraps a render handler. The handler's value is passed to the
// renderer with the route name as template name.
func (wr *Wrapper) Render(m *module.Module, route string, h module.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := module.NewRequest(w, r, m, route)

		result, err := wr.invoke(h, req)
		if err != nil {
			wr.errors.Send(w, r, err)
			return
		}

		status := req.Status()
		if !bodyAllowed(status) {
			w.WriteHeader(status)
			return
		}

		if wr.renderer == nil {
			wr.errors.Send(w, r, fmt.Errorf("render %s: no renderer configured", route))
			return
		}

		markup, err := wr.renderer.Render(r.Context(), req, route, asData(result), m)
		if err != nil {
			wr.errors.Send(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		w.Write(markup)
	})
}

// invoke runs h, turning a panic into an error.
func (wr *Wrapper) invoke(h module.Handler, req *module.Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", req.Route, rec)
		}
	}()
	return h(req)
}

func asData(v any) map[string]any {
	switch d := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return d
	default:
		return map[string]any{"data": d}
	}
}

func bodyAllowed(status int) bool {
	return status != http.StatusNoContent && status != http.StatusNotModified
}
