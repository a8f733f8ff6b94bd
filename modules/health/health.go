// Package health is a built-in module reporting liveness and readiness.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/artpar/modhost/core/events"
	"github.com/artpar/modhost/core/module"
)

// Name is the module name.
const Name = "health"

// Health tracks process readiness.
type Health struct {
	started time.Time
	version string
	ready   atomic.Bool
	now     func() time.Time
}

// New creates the module. version is reported by the status route.
func New(version string) *Health {
	return &Health{started: time.Now(), version: version, now: time.Now}
}

// Ready reports whether every module finished booting.
func (h *Health) Ready() bool {
	return h.ready.Load()
}

// Definition returns the module's definition layer.
func (h *Health) Definition() module.Definition {
	return module.Definition{
		Name:  Name,
		Layer: "modules/health",
		Routes: []module.Route{
			{Method: http.MethodGet, Name: "/healthz", HTTP: h.liveness},
			{Method: http.MethodGet, Name: "/readyz", HTTP: h.readiness},
		},
		APIRoutes: []module.Route{
			{Method: http.MethodGet, Name: "", Handler: h.status},
		},
		Handlers: []module.On{
			{Event: events.ModulesReady, Name: "markReady", Handler: func(ctx context.Context, e events.Event) error {
				h.ready.Store(true)
				return nil
			}},
		},
	}
}

func (h *Health) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

func (h *Health) readiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !h.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
		return
	}
	w.Write([]byte("ready"))
}

func (h *Health) status(req *module.Request) (any, error) {
	var modules []string
	if host := req.Host(); host != nil {
		for _, m := range host.Modules() {
			modules = append(modules, m.Name)
		}
	}

	return map[string]any{
		"status":  "ok",
		"ready":   h.Ready(),
		"version": h.version,
		"uptime":  h.now().Sub(h.started).Round(time.Second).String(),
		"modules": modules,
	}, nil
}
