package bootstrap_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/modhost/adapters/auth"
	"github.com/artpar/modhost/bootstrap"
	"github.com/artpar/modhost/config"
	"github.com/artpar/modhost/core/apierr"
	"github.com/artpar/modhost/core/module"
	"golang.org/x/crypto/bcrypt"
)

func loadConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modhost.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: error\n"+content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, opts bootstrap.Options) (*bootstrap.App, *httptest.Server) {
	t.Helper()

	app, err := bootstrap.New(opts)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	t.Cleanup(func() { app.Close() })

	if _, err := app.Boot(context.Background(), "", nil); err != nil {
		t.Fatalf("boot: %v", err)
	}

	srv := httptest.NewServer(app.Channel.Handler())
	t.Cleanup(srv.Close)
	return app, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestApp_ServesBuiltInModules(t *testing.T) {
	key, hash, err := auth.GenerateKey("ci", bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(t, `
metrics:
  enabled: true
auth:
  jwt_secret: test
  keys:
    - name: ci
      role: editor
      hash: "`+hash+`"
`)
	app, srv := newApp(t, bootstrap.Options{Config: cfg, Version: "test"})

	if resp, body := get(t, srv.URL+"/healthz"); resp.StatusCode != 200 || body != "ok" {
		t.Errorf("/healthz = %d %q", resp.StatusCode, body)
	}

	resp, body := get(t, srv.URL+"/api/v1/health")
	if resp.StatusCode != 200 {
		t.Fatalf("/api/v1/health = %d", resp.StatusCode)
	}
	var status map[string]any
	json.Unmarshal([]byte(body), &status)
	if status["ready"] != true || status["version"] != "test" {
		t.Errorf("status = %v", status)
	}

	resp, body = get(t, srv.URL+"/nope")
	if resp.StatusCode != 404 || !strings.Contains(body, `"notfound"`) {
		t.Errorf("/nope = %d %s", resp.StatusCode, body)
	}

	req, _ := http.NewRequest("POST", srv.URL+"/api/v1/notes", strings.NewReader(`{"title":"t"}`))
	anon, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	anon.Body.Close()
	if anon.StatusCode != http.StatusForbidden {
		t.Errorf("anonymous POST = %d, want 403", anon.StatusCode)
	}

	req, _ = http.NewRequest("POST", srv.URL+"/api/v1/notes", strings.NewReader(`{"title":"t"}`))
	req.Header.Set(auth.APIKeyHeader, key)
	keyed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	keyed.Body.Close()
	if keyed.StatusCode != http.StatusCreated {
		t.Errorf("keyed POST = %d, want 201", keyed.StatusCode)
	}
	if app.Notes.Store().Len() != 1 {
		t.Errorf("notes = %d, want 1", app.Notes.Store().Len())
	}

	_, body = get(t, srv.URL+"/metrics")
	for _, want := range []string{"modhost_requests_total", "modhost_api_errors_total", "modhost_event_emissions_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}
}

func TestApp_MetricsDisabled(t *testing.T) {
	_, srv := newApp(t, bootstrap.Options{Config: loadConfig(t, "")})

	if resp, _ := get(t, srv.URL+"/metrics"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("/metrics = %d, want 404", resp.StatusCode)
	}
}

func TestApp_ModuleOverrides(t *testing.T) {
	cfg := loadConfig(t, `
modules:
  notes:
    alias: memo
    action_prefix: /notes
    options:
      title: Memos
`)
	app, srv := newApp(t, bootstrap.Options{Config: cfg})

	m, ok := app.Runtime.Lookup("memo")
	if !ok || m.Name != "notes" {
		t.Fatalf("Lookup(memo) = %v, %v", m, ok)
	}

	resp, body := get(t, srv.URL+"/notes/page")
	if resp.StatusCode != 200 {
		t.Fatalf("/notes/page = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "<title>Memos</title>") {
		t.Errorf("page did not use the configured title:\n%s", body)
	}
}

func TestApp_UnknownOverride(t *testing.T) {
	cfg := loadConfig(t, "modules:\n  missing:\n    alias: x\n")

	_, err := bootstrap.New(bootstrap.Options{Config: cfg})
	var cfgErr *apierr.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestApp_ExtraModules(t *testing.T) {
	echo := module.Definition{
		Name: "echo",
		APIRoutes: []module.Route{
			{Method: "GET", Name: "ping", Handler: func(req *module.Request) (any, error) {
				return map[string]any{"pong": true}, nil
			}},
		},
	}
	_, srv := newApp(t, bootstrap.Options{Config: loadConfig(t, ""), Modules: [][]module.Definition{{echo}}})

	if resp, body := get(t, srv.URL+"/api/v1/echo/ping"); resp.StatusCode != 200 || body != `{"pong":true}` {
		t.Errorf("/api/v1/echo/ping = %d %s", resp.StatusCode, body)
	}
}

func TestApp_CustomErrorKinds(t *testing.T) {
	app, err := bootstrap.New(bootstrap.Options{Config: loadConfig(t, "errors:\n  teapot: 418\n")})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if got := app.Errors.Normalize(apierr.New("teapot", "short and stout")); got.Code != 418 {
		t.Errorf("teapot status = %d, want 418", got.Code)
	}
}

func TestApp_TaskExits(t *testing.T) {
	app, err := bootstrap.New(bootstrap.Options{Config: loadConfig(t, "")})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	out, err := app.Boot(context.Background(), "notes:purge", nil)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if !out.Exit || out.SpanID == "" {
		t.Errorf("outcome = %+v", out)
	}

	srv := httptest.NewServer(app.Channel.Handler())
	defer srv.Close()
	if resp, _ := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("routes should not be mounted after an exiting task, /healthz = %d", resp.StatusCode)
	}
}

func TestApp_UnknownTask(t *testing.T) {
	app, err := bootstrap.New(bootstrap.Options{Config: loadConfig(t, "")})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	if _, err := app.Boot(context.Background(), "notes:nothing", nil); err == nil {
		t.Error("unknown task should fail the boot")
	}
}

func TestApp_SQLiteSessions(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "sessions.db")
	app, err := bootstrap.New(bootstrap.Options{Config: loadConfig(t, "session:\n  driver: sqlite\n  dsn: "+dsn+"\n")})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if err := app.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Errorf("session database not created: %v", err)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := loadConfig(t, "server:\n  host: 127.0.0.1\n  port: 38089\n")
	app, err := bootstrap.New(bootstrap.Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := app.Run(ctx, "", nil); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestDefaultPermissions(t *testing.T) {
	p := auth.NewPermissions(bootstrap.DefaultPermissions())

	if !p.Allowed(nil, "notes:view") {
		t.Error("anonymous should view notes")
	}
	if p.Allowed(nil, "notes:edit") {
		t.Error("anonymous should not edit notes")
	}
	if !p.Allowed(&module.User{Role: "admin"}, "anything:at-all") {
		t.Error("admin should be allowed everything")
	}
}
