package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/dishdex/internal/api"
	"github.com/kalambet/dishdex/internal/catalog"
	"github.com/kalambet/dishdex/internal/config"
	"github.com/kalambet/dishdex/internal/storage"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"dish not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// install points the CLI commands at ts for the duration of the test.
func (ts *testServer) install(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	}()
	return rootCmd.Execute()
}

// resetFlags undoes flag values left over from a previous Execute.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

var ctx = context.Background()

func TestDishesAdd_UploadsMultipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /dishes": `{"id":7,"name":"Prato sem nome","description":"Analisando o prato...","has_image":true}`,
	})
	ts.install(t)

	img := filepath.Join(t.TempDir(), "moqueca.png")
	if err := os.WriteFile(img, []byte("\x89PNG\r\n\x1a\nfake"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := runCLI(t, "dishes", "add", "--image", img, "--owner", "3", "--favorite", "--notes", "praia"); err != nil {
		t.Fatalf("dishes add: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/dishes" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q", r.ContentType)
	}
	for _, want := range []string{`name="owner_id"`, `name="favorite"`, `name="user_notes"`, `filename="moqueca.png"`, "praia"} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
}

func TestDishesAdd_MissingArgs(t *testing.T) {
	err := runCLI(t, "dishes", "add")
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestSearchCommand_QueryEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /dishes": `[{"id":1,"name":"Pão de queijo","description":"Queijo minas"}]`,
	})
	ts.install(t)

	if err := runCLI(t, "search", "pão", "de", "queijo", "--favorites", "--owner", "2", "--limit", "5"); err != nil {
		t.Fatalf("search: %v", err)
	}
	path := ts.requests[0].Path
	for _, want := range []string{"search=p%C3%A3o+de+queijo", "favorites=true", "owner_id=2", "limit=5"} {
		if !strings.Contains(path, want) {
			t.Errorf("path %q missing %q", path, want)
		}
	}
}

func TestDishesShow_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.install(t)

	err := runCLI(t, "dishes", "show", "99")
	if err == nil || !strings.Contains(err.Error(), "dish not found") {
		t.Fatalf("err = %v, want server message", err)
	}
}

func TestDishesShow_InvalidID(t *testing.T) {
	if err := runCLI(t, "dishes", "show", "abc"); err == nil {
		t.Fatal("expected error for invalid id")
	}
}

func TestProfilesRefresh(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /profiles/refresh": `{"job_id":"j-1","status":"queued"}`,
	})
	ts.install(t)

	if err := runCLI(t, "profiles", "refresh", "--owner", "4"); err != nil {
		t.Fatalf("profiles refresh: %v", err)
	}
	var body map[string]int64
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil || body["owner_id"] != 4 {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
}

func TestDishesList_WritesToCommandOutput(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /dishes": `[{"id":2,"name":"Acarajé","description":"Bolinho de feijão","favorite":true},{"id":1,"name":"Vatapá","description":"Creme"}]`,
	})
	ts.install(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	if err := runCLI(t, "dishes", "list", "--no-color", "--limit", "2"); err != nil {
		t.Fatalf("dishes list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "Acarajé") || !strings.Contains(lines[1], "Vatapá") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(ts.requests[0].Path, "limit=2") {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestReindexAndOwners(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /search/rebuild": `{"indexed":12}`,
		"POST /owners":         `{"id":1,"name":"Ana"}`,
	})
	ts.install(t)

	if err := runCLI(t, "reindex"); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if err := runCLI(t, "owners", "add", "Ana", "Souza", "--email", "ana@example.com"); err != nil {
		t.Fatalf("owners add: %v", err)
	}
	var body map[string]string
	json.Unmarshal([]byte(ts.requests[1].Body), &body)
	if body["name"] != "Ana Souza" || body["email"] != "ana@example.com" {
		t.Errorf("owner body = %v", body)
	}
}

func TestStatusCommand_Running(t *testing.T) {
	t.Setenv("DISHDEX_CONFIG_FILE", filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv("DISHDEX_STORAGE_DATA_DIR", t.TempDir())
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
		"GET /stats":  `{"dishes":4,"indexed_rows":4,"jobs":{"pending":1,"completed":3}}`,
	})
	ts.install(t)

	oldOut, oldColor := stderr, noColor
	defer func() { stderr, noColor = oldOut, oldColor }()
	var buf bytes.Buffer
	stderr, noColor = &buf, true

	if err := runCLI(t, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"running on " + ts.server.URL, "Dishes: 4 (4 indexed)", "Jobs: 1 pending, 3 completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want none", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
	resp, err := client.get(ctx, "/dishes")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bearer token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestPrintDish(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	printDish(&buf, api.DishView{
		ID:          3,
		Name:        "Moqueca",
		Description: "Ensopado de peixe",
		DishType:    "prato principal",
		Pairings: []storage.Pairing{
			{Type: "drink", Name: "Caipirinha", Description: "Cítrica"},
			{Type: "music", Name: "Dorival Caymmi", EasterEgg: true},
		},
		UserNotes: "receita da tia",
	})
	out := buf.String()
	for _, want := range []string{"Moqueca #3", "prato principal", "[drink] Caipirinha: Cítrica", "Dorival Caymmi (easter egg)", "receita da tia"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printDishLine(&buf, api.DishView{ID: 1, Name: "Bolo", Favorite: true, Description: strings.Repeat("a", 100)})
	if !strings.Contains(buf.String(), "★") || !strings.Contains(buf.String(), "...") {
		t.Errorf("line = %q", buf.String())
	}
}

func TestPlural(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 dishes"},
		{1, "1 dish"},
		{12, "12 dishes"},
	}
	for _, tt := range tests {
		if got := plural(tt.n, "dish", "dishes"); got != tt.want {
			t.Errorf("plural(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestStatusOutput(t *testing.T) {
	oldOut, oldColor := stderr, noColor
	defer func() { stderr, noColor = oldOut, oldColor }()

	var buf bytes.Buffer
	stderr, noColor = &buf, true
	printSuccess("Indexed %s", plural(3, "dish", "dishes"))
	printStatus("Locale", "%s", "pt-BR")
	if got := buf.String(); got != "✓ Indexed 3 dishes\n  Locale: pt-BR\n" {
		t.Errorf("output = %q", got)
	}
}

func TestJobSummary(t *testing.T) {
	if got := jobSummary(nil); got != "none" {
		t.Errorf("jobSummary(nil) = %q", got)
	}
	got := jobSummary(map[string]int{"failed": 1, "pending": 3})
	if got != "3 pending, 1 failed" {
		t.Errorf("jobSummary = %q", got)
	}
}

func TestLogLevel(t *testing.T) {
	if logLevel("DEBUG").String() != "DEBUG" || logLevel("warn").String() != "WARN" || logLevel("").String() != "INFO" {
		t.Error("logLevel mapping wrong")
	}
}

func TestAcquireDataDirLock_SingleInstance(t *testing.T) {
	dir := t.TempDir()
	lock, err := acquireDataDirLock(dir)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer lock.Unlock()

	if err := writePIDFile(pidFilePath(dir)); err != nil {
		t.Fatal(err)
	}
	_, err = acquireDataDirLock(dir)
	if err == nil {
		t.Fatal("second lock succeeded")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("err = %v", err)
	}
}

func TestBuildApp_WiresComponents(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{Locale: "pt-BR"}
	cfg.Storage.DataDir = dir
	cfg.Analysis.APIKey = "sk-ant-test"
	cfg.Analysis.BaseURL = "http://127.0.0.1:1"
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Enrichment.Workers = 1
	cfg.Enrichment.PollInterval = 10 * time.Millisecond
	cfg.Enrichment.StaleAfter = time.Minute
	cfg.Profiles.Schedule = "@every 1h"
	cfg.Profiles.BatchSize = 10

	a, err := buildApp(cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.store.Close()

	d, err := a.catalog.CreateDish(ctx, catalogDish("Arroz doce"))
	if err != nil {
		t.Fatalf("CreateDish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images")); err != nil {
		t.Errorf("image dir not created: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := a.pool.Run(runCtx); err != nil {
		t.Fatalf("pool.Run: %v", err)
	}
	if got, _ := a.catalog.GetDish(d.ID); got.Name != "Arroz doce" {
		t.Errorf("dish = %+v", got)
	}
}

func catalogDish(name string) catalog.NewDish {
	return catalog.NewDish{Name: name}
}
