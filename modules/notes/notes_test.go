package notes_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/modhost/adapters/auth"
	"github.com/artpar/modhost/adapters/release"
	"github.com/artpar/modhost/adapters/render"
	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/cache"
	httpchan "github.com/artpar/modhost/core/channel/http"
	"github.com/artpar/modhost/core/module"
	"github.com/artpar/modhost/core/respond"
	"github.com/artpar/modhost/core/runtime"
	"github.com/artpar/modhost/modules/notes"
	"github.com/rs/zerolog"
)

// roleHeader lets tests pick the requester's role.
const roleHeader = "X-Test-Role"

func withRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role := r.Header.Get(roleHeader); role != "" {
			r = r.WithContext(module.WithUser(r.Context(), &module.User{ID: "u1", Name: role, Role: role}))
		}
		next.ServeHTTP(w, r)
	})
}

func setup(t *testing.T, overrides ...module.Definition) (*httptest.Server, *notes.Notes) {
	t.Helper()

	normalizer := respond.NewNormalizer(apierr.DefaultKinds(), nil)
	wrapper := respond.NewWrapper(normalizer, render.New(zerolog.Nop(), false))
	perms := auth.NewPermissions(map[string][]string{
		auth.AnonymousRole: {notes.ActionView},
		"editor":           {"notes:*"},
	})

	n := notes.New(notes.Deps{
		Cache:       cache.New(release.New("r1"), zerolog.Nop()),
		Permissions: perms,
		Errors:      normalizer,
		Logger:      zerolog.Nop(),
	})

	rt := runtime.New(runtime.Config{Logger: zerolog.Nop(), Wrapper: wrapper})
	chain := append([]module.Definition{n.Definition()}, overrides...)
	if _, err := rt.Boot(context.Background(), [][]module.Definition{chain}, "", nil); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}

	ch := httpchan.New(httpchan.Config{
		Logger:     zerolog.Nop(),
		Errors:     normalizer,
		Middleware: []func(http.Handler) http.Handler{withRole},
	})
	if err := ch.Mount(rt.Table()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	srv := httptest.NewServer(ch.Handler())
	t.Cleanup(srv.Close)
	return srv, n
}

func do(t *testing.T, srv *httptest.Server, method, path, role, body string, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, srv.URL+path, rd)
	if role != "" {
		req.Header.Set(roleHeader, role)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestNotes_CRUD(t *testing.T) {
	srv, n := setup(t)

	resp := do(t, srv, "POST", "/api/v1/notes", "editor", `{"title":" First ","body":"hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	var created notes.Note
	decode(t, resp, &created)
	if created.ID == "" || created.Title != "First" {
		t.Errorf("created = %+v", created)
	}
	if n.Created() != 1 {
		t.Errorf("Created() = %d, want 1", n.Created())
	}

	resp = do(t, srv, "GET", "/api/v1/notes/"+created.ID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "max-age=60" {
		t.Errorf("Cache-Control = %q, want max-age=60", got)
	}
	etag := resp.Header.Get("ETag")
	if !strings.HasPrefix(etag, "r1:") {
		t.Errorf("ETag = %q, want r1: prefix", etag)
	}

	resp = do(t, srv, "GET", "/api/v1/notes/"+created.ID, "", "", "If-None-Match", etag)
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional GET status = %d, want 304", resp.StatusCode)
	}
	if b, _ := io.ReadAll(resp.Body); len(b) != 0 {
		t.Errorf("304 body = %q, want empty", b)
	}

	resp = do(t, srv, "PATCH", "/api/v1/notes/"+created.ID, "editor", `{"body":"changed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d, want 200", resp.StatusCode)
	}
	var patched notes.Note
	decode(t, resp, &patched)
	if patched.Title != "First" || patched.Body != "changed" {
		t.Errorf("patched = %+v", patched)
	}

	resp = do(t, srv, "PUT", "/api/v1/notes/"+created.ID, "editor", `{"title":"Second"}`)
	var put notes.Note
	decode(t, resp, &put)
	if put.Title != "Second" || put.Body != "" {
		t.Errorf("put = %+v", put)
	}

	resp = do(t, srv, "DELETE", "/api/v1/notes/"+created.ID, "editor", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp = do(t, srv, "GET", "/api/v1/notes/"+created.ID, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", resp.StatusCode)
	}
	var body respond.Body
	decode(t, resp, &body)
	if body.Name != "notfound" || body.Data["_id"] != created.ID {
		t.Errorf("body = %+v", body)
	}
}

func TestNotes_AuthenticatedNotCached(t *testing.T) {
	srv, n := setup(t)
	note := n.Store().Create("a", "")

	resp := do(t, srv, "GET", "/api/v1/notes/"+note.ID, "editor", "")
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		t.Errorf("ETag = %q, want none", etag)
	}
}

func TestNotes_Forbidden(t *testing.T) {
	srv, _ := setup(t)

	resp := do(t, srv, "POST", "/api/v1/notes", "", `{"title":"x"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var body respond.Body
	decode(t, resp, &body)
	if body.Name != "forbidden" || body.Data["action"] != notes.ActionEdit {
		t.Errorf("body = %+v", body)
	}
}

func TestNotes_Validation(t *testing.T) {
	srv, _ := setup(t)

	tests := []struct {
		name  string
		body  string
		names []string
	}{
		{"missing title", `{}`, []string{"required"}},
		{"blank title", `{"title":"   "}`, []string{"required"}},
		{"long title and nul body", `{"title":"` + strings.Repeat("x", notes.MaxTitle+1) + `","body":"a\u0000b"}`, []string{"max", "invalid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, srv, "POST", "/api/v1/notes", "editor", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}

			var body struct {
				Name string `json:"name"`
				Data struct {
					Errors []respond.Entry `json:"errors"`
				} `json:"data"`
			}
			decode(t, resp, &body)
			if body.Name != "invalid" {
				t.Errorf("name = %s, want invalid", body.Name)
			}
			if len(body.Data.Errors) != len(tt.names) {
				t.Fatalf("errors = %+v, want %v", body.Data.Errors, tt.names)
			}
			for i, name := range tt.names {
				if body.Data.Errors[i].Name != name {
					t.Errorf("errors[%d].name = %s, want %s", i, body.Data.Errors[i].Name, name)
				}
			}
		})
	}
}

func TestNotes_BadJSON(t *testing.T) {
	srv, _ := setup(t)

	resp := do(t, srv, "POST", "/api/v1/notes", "editor", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNotes_Paging(t *testing.T) {
	srv, n := setup(t, module.Definition{Name: notes.Name, Options: map[string]any{"pageSize": 2}})
	for _, title := range []string{"a", "b", "c"} {
		n.Store().Create(title, "")
	}

	var page struct {
		Results []notes.Note `json:"results"`
		Page    int          `json:"page"`
		Pages   int          `json:"pages"`
	}
	decode(t, do(t, srv, "GET", "/api/v1/notes?page=2", "", ""), &page)

	if page.Page != 2 || page.Pages != 2 {
		t.Errorf("page = %d/%d, want 2/2", page.Page, page.Pages)
	}
	if len(page.Results) != 1 || page.Results[0].Title != "a" {
		t.Errorf("results = %+v, want [a]", page.Results)
	}

	for _, bad := range []string{"zero", "0", "-1", "500000000000000000"} {
		resp := do(t, srv, "GET", "/api/v1/notes?page="+bad, "", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("page=%s status = %d, want 400", bad, resp.StatusCode)
		}
	}

	resp := do(t, srv, "GET", "/api/v1/notes?page=9", "", "")
	decode(t, resp, &page)
	if len(page.Results) != 0 {
		t.Errorf("page 9 results = %+v, want none", page.Results)
	}
}

func TestNotes_RecentBeforeID(t *testing.T) {
	srv, n := setup(t)
	n.Store().Create("only", "")

	resp := do(t, srv, "GET", "/api/v1/notes/recent", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var recent []notes.Note
	decode(t, resp, &recent)
	if len(recent) != 1 || recent[0].Title != "only" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestNotes_Page(t *testing.T) {
	srv, n := setup(t)
	n.Store().Create("Shopping", "milk, eggs, a very long list of other things that goes on and on past the excerpt limit")

	resp := do(t, srv, "GET", "/api/v1/notes/page", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	b, _ := io.ReadAll(resp.Body)
	html := string(b)

	for _, want := range []string{"<title>Notes</title>", "Shopping", "...", "1 notes", `"notes"`} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q:\n%s", want, html)
		}
	}
}

func TestNotes_Export(t *testing.T) {
	srv, n := setup(t)
	note := n.Store().Create("exported", "")

	resp := do(t, srv, "GET", "/api/v1/notes/export", "", "")
	b, _ := io.ReadAll(resp.Body)
	if string(b) != note.ID+"\texported\n" {
		t.Errorf("export = %q", b)
	}
}

func TestNotes_Tasks(t *testing.T) {
	n := notes.New(notes.Deps{Permissions: auth.NewPermissions(nil), Logger: zerolog.Nop()})
	rt := runtime.New(runtime.Config{Logger: zerolog.Nop()})

	out, err := rt.Boot(context.Background(), [][]module.Definition{{n.Definition()}}, "note:seed", []string{"x", "y"})
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if out.Exit {
		t.Error("seed should keep the process running")
	}
	if n.Store().Len() != 2 {
		t.Errorf("Len() = %d, want 2", n.Store().Len())
	}

	n2 := notes.New(notes.Deps{Permissions: auth.NewPermissions(nil), Logger: zerolog.Nop()})
	n2.Store().Create("gone", "")
	rt2 := runtime.New(runtime.Config{Logger: zerolog.Nop()})
	out, err = rt2.Boot(context.Background(), [][]module.Definition{{n2.Definition()}}, "notes:purge", nil)
	if err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if !out.Exit || out.Task != "notes:purge" {
		t.Errorf("outcome = %+v", out)
	}
	if n2.Store().Len() != 0 {
		t.Errorf("Len() = %d, want 0", n2.Store().Len())
	}
}

func TestNotes_SeedOption(t *testing.T) {
	n := notes.New(notes.Deps{Permissions: auth.NewPermissions(nil), Logger: zerolog.Nop()})
	rt := runtime.New(runtime.Config{Logger: zerolog.Nop()})

	chain := []module.Definition{n.Definition(), {Name: notes.Name, Options: map[string]any{"seed": []any{"one", "two"}}}}
	if _, err := rt.Boot(context.Background(), [][]module.Definition{chain}, "", nil); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if n.Store().Len() != 2 {
		t.Errorf("Len() = %d, want 2", n.Store().Len())
	}

	bad := notes.New(notes.Deps{Permissions: auth.NewPermissions(nil), Logger: zerolog.Nop()})
	chain = []module.Definition{bad.Definition(), {Name: notes.Name, Options: map[string]any{"seed": "one"}}}
	if _, err := runtime.New(runtime.Config{Logger: zerolog.Nop()}).Boot(context.Background(), [][]module.Definition{chain}, "", nil); err == nil {
		t.Error("non-list seed should fail the boot")
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"  padded  ", 10, "padded"},
		{"hello world", 5, "hello..."},
		{"hello world", 6, "hello..."},
		{"héllo wörld", 4, "héll..."},
		{"anything", 0, "anything"},
	}

	for _, tt := range tests {
		if got := notes.Excerpt(tt.in, tt.max); got != tt.want {
			t.Errorf("Excerpt(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestStore_ListOffsets(t *testing.T) {
	s := notes.NewStore()
	s.Create("a", "")
	s.Create("b", "")

	tests := []struct {
		offset, limit int
		want          []string
	}{
		{0, 0, []string{"b", "a"}},
		{-5, 1, []string{"b"}},
		{1, 5, []string{"a"}},
		{2, 1, nil},
	}
	for _, tt := range tests {
		got := s.List(tt.offset, tt.limit)
		var titles []string
		for _, n := range got {
			titles = append(titles, n.Title)
		}
		if strings.Join(titles, ",") != strings.Join(tt.want, ",") {
			t.Errorf("List(%d, %d) = %v, want %v", tt.offset, tt.limit, titles, tt.want)
		}
	}
}
