// Package notes is a built-in module that keeps short text notes.
//
// It exposes the collection through the REST shorthand, renders a page
// listing the latest notes, answers conditional GETs with ETags and
// publishes a "notes:created" event for every new note.
package notes

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/artpar/modhost/adapters/auth"
	"github.com/artpar/modhost/core/cache"
	"github.com/artpar/modhost/core/events"
	"github.com/artpar/modhost/core/module"
	"github.com/rs/zerolog"
)

// Name is the module name.
const Name = "notes"

// Created is emitted after a note is created.
const Created events.Name = "notes:created"

// Permission actions.
const (
	ActionView = "notes:view"
	ActionEdit = "notes:edit"
)

//go:embed templates/*.html
var templates embed.FS

// Deps are the collaborators of the module.
type Deps struct {
	Cache       *cache.Controller
	Permissions *auth.Permissions
	Errors      auth.ErrorSender
	Logger      zerolog.Logger
}

// Notes is the notes module.
type Notes struct {
	store   *Store
	cache   *cache.Controller
	perms   *auth.Permissions
	errors  auth.ErrorSender
	logger  zerolog.Logger
	created atomic.Int64
}

// New creates the module with an empty store.
func New(deps Deps) *Notes {
	return &Notes{
		store:  NewStore(),
		cache:  deps.Cache,
		perms:  deps.Permissions,
		errors: deps.Errors,
		logger: deps.Logger,
	}
}

// Store returns the module's store.
func (n *Notes) Store() *Store {
	return n.store
}

// Created returns how many notes were created since boot.
func (n *Notes) Created() int64 {
	return n.created.Load()
}

// Definition returns the module's definition layer.
func (n *Notes) Definition() module.Definition {
	view := []module.Middleware{n.perms.Require(ActionView, n.errors)}
	edit := []module.Middleware{n.perms.Require(ActionEdit, n.errors)}

	tmpl, _ := fs.Sub(templates, "templates")

	return module.Definition{
		Name:  Name,
		Layer: "modules/notes",
		Alias: "note",
		Options: map[string]any{
			"title":    "Notes",
			"pageSize": 20,
			"maxAge":   60,
		},
		BrowserData: module.ScenePublic,
		BrowserDataFunc: func(req *module.Request) map[string]any {
			return map[string]any{"count": n.store.Len()}
		},
		Routes: []module.Route{
			{Method: http.MethodGet, Name: "export", HTTP: n.export},
		},
		RenderRoutes: []module.Route{
			{Method: http.MethodGet, Name: "page", Middleware: view, Handler: n.page},
		},
		APIRoutes: []module.Route{
			{Method: http.MethodGet, Name: "recent", Middleware: view, Handler: n.recent, Before: ":_id"},
		},
		REST: module.REST{
			GetAll: &module.Endpoint{Middleware: view, Handler: n.getAll},
			GetOne: &module.IDEndpoint{Middleware: view, Handler: n.getOne},
			Post:   &module.Endpoint{Middleware: edit, Handler: n.post},
			Put:    &module.IDEndpoint{Middleware: edit, Handler: n.put},
			Patch:  &module.IDEndpoint{Middleware: edit, Handler: n.patch},
			Delete: &module.IDEndpoint{Middleware: edit, Handler: n.delete},
		},
		Handlers: []module.On{
			{Event: Created, Name: "count", Handler: n.countCreated},
		},
		Helpers: map[string]any{
			"excerpt": Excerpt,
			"count":   n.store.Len,
		},
		Tasks: map[string]module.Task{
			"purge": {
				Usage: "remove every note",
				Run:   n.purge,
			},
			"seed": {
				Usage:       "create one note per argument, then serve",
				Run:         n.seed,
				KeepRunning: true,
			},
		},
		Init:      n.init,
		Templates: tmpl,
	}
}

// init seeds notes listed in the "seed" option.
func (n *Notes) init(ctx context.Context, m *module.Module) error {
	v, ok := m.Option("seed")
	if !ok {
		return nil
	}
	titles, ok := v.([]any)
	if !ok {
		return fmt.Errorf("notes: option seed must be a list, got %T", v)
	}
	for _, t := range titles {
		n.store.Create(fmt.Sprint(t), "")
	}
	n.logger.Debug().Int("count", len(titles)).Msg("seeded notes")
	return nil
}

func (n *Notes) countCreated(ctx context.Context, e events.Event) error {
	total := n.created.Add(1)
	n.logger.Info().
		Str("id", fmt.Sprint(e.Data["id"])).
		Int64("created", total).
		Msg("note created")
	return nil
}

func (n *Notes) purge(ctx context.Context, m *module.Module, args []string) error {
	removed := n.store.Purge()
	n.logger.Info().Int("removed", removed).Msg("notes purged")
	return nil
}

func (n *Notes) seed(ctx context.Context, m *module.Module, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: notes:seed <title>...")
	}
	for _, title := range args {
		n.store.Create(title, "")
	}
	return nil
}

// Excerpt shortens s to at most max runes, marking the cut with "...".
func Excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}
