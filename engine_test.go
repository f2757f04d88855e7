package hookrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/hookrelay/config"
)

func newTestEngine(t *testing.T) (*Engine, http.Handler) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(logger, Options{
		Address:    "127.0.0.1:0",
		ConfigPath: filepath.Join(t.TempDir(), "webhook_config.json"),
	})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("engine Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := engine.Stop(ctx); err != nil {
			t.Errorf("engine Stop failed: %v", err)
		}
	})

	handler, err := engine.Handler()
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return engine, handler
}

func doRequest(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestEngine_WebhookDelivery(t *testing.T) {
	var received map[string]any
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	_, handler := newTestEngine(t)

	rec := doRequest(t, handler, http.MethodPost, "/targets", map[string]any{
		"id": "t1", "name": "hook", "url": target.URL,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add target failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/webhook", map[string]any{
		"event_type": "status", "description": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook failed: %d %s", rec.Code, rec.Body.String())
	}

	body := decodeJSON(t, rec)
	results, _ := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected one delivery result, got %v", body)
	}
	if results[0].(map[string]any)["success"] != true {
		t.Errorf("expected successful delivery, got %v", results[0])
	}
	if received["description"] != "hello" {
		t.Errorf("unexpected forwarded payload: %v", received)
	}
	if _, ok := received["_route"]; !ok {
		t.Error("forwarded payload must carry the _route block")
	}
}

func TestEngine_RouteLifecycle(t *testing.T) {
	var hits int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	_, handler := newTestEngine(t)

	doRequest(t, handler, http.MethodPost, "/targets", map[string]any{
		"id": "t1", "name": "hook", "url": target.URL,
	})

	// A freshly added route is live without a restart.
	rec := doRequest(t, handler, http.MethodPost, "/routes", map[string]any{
		"path": "/hooks/tv", "target_ids": []string{"t1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add route failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/hooks/tv", map[string]any{"event_type": "status"})
	if rec.Code != http.StatusOK {
		t.Fatalf("new route not reachable: %d", rec.Code)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected one delivery, got %d", got)
	}

	// Deleting it takes effect immediately as well.
	rec = doRequest(t, handler, http.MethodDelete, "/routes/hooks/tv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete route failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, handler, http.MethodPost, "/hooks/tv", map[string]any{"event_type": "status"})
	if rec.Code == http.StatusOK {
		t.Errorf("deleted route must stop matching, got %d", rec.Code)
	}
}

func TestEngine_HistoryEndpoint(t *testing.T) {
	_, handler := newTestEngine(t)

	doRequest(t, handler, http.MethodPost, "/webhook", map[string]any{"event_type": "status", "n": 1})
	doRequest(t, handler, http.MethodPost, "/webhook", map[string]any{"event_type": "status", "n": 2})

	rec := doRequest(t, handler, http.MethodGet, "/history?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history failed: %d", rec.Code)
	}
	history, _ := decodeJSON(t, rec)["history"].([]any)
	if len(history) != 1 {
		t.Fatalf("expected limited history, got %v", history)
	}
	entry := history[0].(map[string]any)
	message, _ := entry["message"].(map[string]any)
	if message["n"] != float64(2) {
		t.Errorf("expected newest entry first, got %v", message)
	}
}

func TestEngine_MetricsEndpoint(t *testing.T) {
	_, handler := newTestEngine(t)

	doRequest(t, handler, http.MethodPost, "/webhook", map[string]any{"event_type": "status"})

	rec := doRequest(t, handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics failed: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "hookrelay_http_requests_total") {
		t.Error("expected request counter in exposition")
	}
	if !strings.Contains(body, "hookrelay_messages_received_total") {
		t.Error("expected message counter in exposition")
	}
}

func TestEngine_Healthz(t *testing.T) {
	_, handler := newTestEngine(t)

	rec := doRequest(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz failed: %d", rec.Code)
	}
	if decodeJSON(t, rec)["status"] != "ok" {
		t.Errorf("unexpected health body: %s", rec.Body.String())
	}
}

func TestEngine_RequestIDEcho(t *testing.T) {
	_, handler := newTestEngine(t)

	rec := doRequest(t, handler, http.MethodGet, "/healthz", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("expected caller id echoed, got %q", got)
	}
}

func TestEngine_CORSHeaders(t *testing.T) {
	_, handler := newTestEngine(t)

	req := httptest.NewRequest(http.MethodOptions, "/targets", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight failed: %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example" {
		t.Errorf("unexpected allow-origin: %q", got)
	}
}

func TestEngine_CreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook_config.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	New(logger, Options{Address: "127.0.0.1:0", ConfigPath: path})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected default config written: %v", err)
	}
	var doc config.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("default config is not valid JSON: %v", err)
	}
	if _, ok := doc.Routes["/webhook"]; !ok {
		t.Errorf("expected default /webhook route, got %v", doc.Routes)
	}
	if len(doc.Templates) == 0 {
		t.Error("expected stock templates")
	}
}

func TestEngine_ConfigChangeRebindsRoutes(t *testing.T) {
	engine, handler := newTestEngine(t)

	previous := engine.Store().Snapshot()
	if err := engine.Store().Mutate(func(doc *config.Document) error {
		doc.Routes["/reloaded"] = &config.Route{}
		doc.MaxHistorySize = 2
		return nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	engine.onConfigChange(config.ChangeEvent{
		Path:     engine.Store().Path(),
		Previous: previous,
		Document: engine.Store().Snapshot(),
	})

	rec := doRequest(t, handler, http.MethodPost, "/reloaded", map[string]any{"event_type": "status"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected reloaded route bound, got %d", rec.Code)
	}

	for i := 0; i < 5; i++ {
		doRequest(t, handler, http.MethodPost, "/webhook", map[string]any{"event_type": "status"})
	}
	if got := engine.history.Len(); got != 2 {
		t.Errorf("expected resized history capacity applied, got %d entries", got)
	}
}

func TestEngine_ConfigChangeWithoutDiff(t *testing.T) {
	engine, _ := newTestEngine(t)

	before := engine.router.DynamicRoutes()
	doc := engine.Store().Snapshot()
	engine.onConfigChange(config.ChangeEvent{
		Path:     engine.Store().Path(),
		Previous: doc,
		Document: doc.Clone(),
	})
	after := engine.router.DynamicRoutes()
	if len(before) != len(after) {
		t.Errorf("no-op reload must not change bindings: %d != %d", len(before), len(after))
	}
}
