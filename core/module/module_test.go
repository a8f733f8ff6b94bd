package module

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/events"
)

func okHandler(label string) Handler {
	return func(req *Request) (any, error) {
		return label, nil
	}
}

func TestBuild_DefaultPrefix(t *testing.T) {
	m, err := Build(Definition{Name: "notes"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ActionPrefix != "/api/v1/notes" {
		t.Errorf("ActionPrefix = %q, want %q", m.ActionPrefix, "/api/v1/notes")
	}
	if m.BrowserData != SceneNone {
		t.Errorf("BrowserData = %q, want %q", m.BrowserData, SceneNone)
	}
}

func TestBuild_PrefixOverride(t *testing.T) {
	m, err := Build(Definition{Name: "notes"}, Definition{ActionPrefix: "api/v2/memo/"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ActionPrefix != "/api/v2/memo" {
		t.Errorf("ActionPrefix = %q, want %q", m.ActionPrefix, "/api/v2/memo")
	}
}

func TestBuild_NoName(t *testing.T) {
	_, err := Build(Definition{Layer: "base"})
	var cerr *apierr.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestBuild_EmptyChain(t *testing.T) {
	if _, err := Build(); err == nil {
		t.Error("Build() with no layers should fail")
	}
}

func TestBuild_BadScene(t *testing.T) {
	if _, err := Build(Definition{Name: "x", BrowserData: "everyone"}); err == nil {
		t.Error("unknown scene should fail")
	}
}

func TestBuild_OptionsMostSpecificWins(t *testing.T) {
	m, err := Build(
		Definition{Layer: "base", Options: map[string]any{"label": "Base", "perPage": 10}},
		Definition{Name: "notes", Options: map[string]any{"label": "Notes"}},
		Definition{Layer: "project", Options: map[string]any{"perPage": 25}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := m.OptionString("label", ""); got != "Notes" {
		t.Errorf("label = %q, want %q", got, "Notes")
	}
	if got, _ := m.Option("perPage"); got != 25 {
		t.Errorf("perPage = %v, want 25", got)
	}
	if got := m.OptionString("missing", "dflt"); got != "dflt" {
		t.Errorf("missing = %q, want dflt", got)
	}
}

func TestBuild_RouteOverrideKeepsPosition(t *testing.T) {
	m, err := Build(
		Definition{Name: "notes", APIRoutes: []Route{
			{Method: "GET", Name: "first", Handler: okHandler("base-first")},
			{Method: "GET", Name: "second", Handler: okHandler("base-second")},
		}},
		Definition{APIRoutes: []Route{
			{Method: "GET", Name: "first", Handler: okHandler("override-first")},
			{Method: "POST", Name: "first", Handler: okHandler("post-first")},
		}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	routes := m.Section(KindAPI)
	if len(routes) != 3 {
		t.Fatalf("routes = %d, want 3", len(routes))
	}

	want := []string{"override-first", "base-second", "post-first"}
	for i, r := range routes {
		got, _ := r.Handler(nil)
		if got != want[i] {
			t.Errorf("routes[%d] = %v, want %v", i, got, want[i])
		}
	}
}

func TestBuild_RESTPerVerb(t *testing.T) {
	baseOne := &IDEndpoint{Handler: func(req *Request, id string) (any, error) { return "base", nil }}
	overrideOne := &IDEndpoint{Handler: func(req *Request, id string) (any, error) { return "override", nil }}
	all := &Endpoint{Handler: okHandler("all")}

	m, err := Build(
		Definition{Name: "notes", REST: REST{GetAll: all, GetOne: baseOne}},
		Definition{REST: REST{GetOne: overrideOne}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rest := m.REST()
	if rest.GetAll != all {
		t.Error("GetAll should be inherited from base")
	}
	if got, _ := rest.GetOne.Handler(nil, "x"); got != "override" {
		t.Errorf("GetOne = %v, want override", got)
	}
}

func TestBuild_HandlersOverrideByName(t *testing.T) {
	noop := func(ctx context.Context, e events.Event) error { return nil }
	m, err := Build(
		Definition{Name: "notes", Handlers: []On{
			{Event: "a", Name: "log", Handler: noop},
			{Event: "a", Name: "index", Handler: noop},
		}},
		Definition{Handlers: []On{
			{Event: "a", Name: "log", Handler: noop},
			{Event: "b", Name: "log", Handler: noop},
		}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hs := m.Handlers()
	if len(hs) != 3 {
		t.Fatalf("handlers = %d, want 3", len(hs))
	}
	if hs[0].Name != "log" || hs[0].Event != "a" {
		t.Errorf("handlers[0] = %+v, want a/log", hs[0])
	}
	if hs[2].Event != "b" {
		t.Errorf("handlers[2].Event = %q, want b", hs[2].Event)
	}
}

func TestBuild_InitsAndTemplates(t *testing.T) {
	var order []string
	base := fstest.MapFS{"page.html": {Data: []byte("base")}}
	project := fstest.MapFS{"page.html": {Data: []byte("project")}}

	m, err := Build(
		Definition{Layer: "base", Templates: base, Init: func(ctx context.Context, m *Module) error {
			order = append(order, "base")
			return nil
		}},
		Definition{Name: "pages", Templates: project, Init: func(ctx context.Context, m *Module) error {
			order = append(order, "pages")
			return nil
		}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, fn := range m.Inits() {
		fn(context.Background(), m)
	}
	if len(order) != 2 || order[0] != "base" || order[1] != "pages" {
		t.Errorf("init order = %v, want [base pages]", order)
	}

	tpls := m.Templates()
	if len(tpls) != 2 {
		t.Fatalf("templates = %d, want 2", len(tpls))
	}
	data, err := fs.ReadFile(tpls[0], "page.html")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "project" {
		t.Errorf("first template layer = %q, want project", data)
	}
}

func TestBuild_TasksAndHelpers(t *testing.T) {
	m, err := Build(
		Definition{Layer: "base", Tasks: map[string]Task{"reset": {Usage: "base"}}, Helpers: map[string]any{"upper": "base"}},
		Definition{Name: "notes", Tasks: map[string]Task{"reset": {Usage: "notes"}, "purge": {}}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	task, ok := m.Task("reset")
	if !ok || task.Usage != "notes" {
		t.Errorf("reset task = %+v, want usage notes", task)
	}
	names := m.TaskNames()
	if len(names) != 2 || names[0] != "purge" || names[1] != "reset" {
		t.Errorf("TaskNames = %v, want [purge reset]", names)
	}
	if m.Helpers()["upper"] != "base" {
		t.Error("helper should be inherited")
	}
}

func TestSession_Flags(t *testing.T) {
	s := NewSession("abc")
	if !s.IsNew() {
		t.Error("new session should be new")
	}
	if s.Modified() {
		t.Error("new session should not be modified")
	}
	s.Set("flash", "hi")
	if !s.Modified() {
		t.Error("Set should mark modified")
	}
	s.MarkLoaded()
	if s.IsNew() || s.Modified() {
		t.Error("MarkLoaded should clear flags")
	}
	s.Delete("missing")
	if s.Modified() {
		t.Error("deleting a missing key should not mark modified")
	}
}

func TestRequest_Context(t *testing.T) {
	m, _ := Build(Definition{Name: "notes"})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/notes", nil)
	ctx := WithUser(r.Context(), &User{ID: "u1", Role: "admin"})
	ctx = WithSession(ctx, NewSession("s1"))
	r = r.WithContext(ctx)
	w := httptest.NewRecorder()

	req := NewRequest(w, r, m, "list")

	if !req.Authenticated() {
		t.Error("request should be authenticated")
	}
	if req.Session().ID != "s1" {
		t.Errorf("session id = %q, want s1", req.Session().ID)
	}
	if req.Status() != http.StatusOK {
		t.Errorf("Status() = %d, want 200", req.Status())
	}
	req.SetStatus(http.StatusCreated)
	if req.Status() != http.StatusCreated {
		t.Errorf("Status() = %d, want 201", req.Status())
	}
	req.ResponseHeader().Set("X-Test", "1")
	if w.Header().Get("X-Test") != "1" {
		t.Error("ResponseHeader should write through to the response")
	}
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{KindPlain: "routes", KindRender: "renderRoutes", KindAPI: "apiRoutes", Kind(9): "unknown"}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}
