package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/parleyhq/parley/internal/adapters/events"
	"github.com/parleyhq/parley/internal/config"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	broadcaster := events.NewBroadcaster([]string{"*"})
	t.Cleanup(broadcaster.Close)
	return newRouter(config.DefaultConfig(), &fakeFabric{}, &fakeAgents{}, broadcaster)
}

func TestRouter_ServesIndex(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "Parley voice gateway") {
		t.Error("expected the selector page body")
	}
}

func TestRouter_TokenThroughMiddleware(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/token?room=kitchen", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
		t.Errorf("expected origin echoed, got %q", origin)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("OPTIONS", "/api/dispatch-agent", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected allow-origin header on preflight")
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") {
		t.Errorf("expected POST allowed, got %q", methods)
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("expected scrape output")
	}
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.CORSOrigins = []string{"https://app.example.com"}

	handler := cors(cfg.Gateway.CORSOrigins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/token", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no allow-origin header for unknown origin")
	}

	req = httptest.NewRequest("GET", "/api/token", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://app.example.com" {
		t.Errorf("expected allowed origin echoed, got %q", origin)
	}
}

func TestNewServer_Addr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 9900

	srv := newServer(cfg, newTestRouter(t))

	if srv.Addr != "127.0.0.1:9900" {
		t.Errorf("unexpected addr %q", srv.Addr)
	}
	if srv.ReadTimeout != readTimeout {
		t.Errorf("unexpected read timeout %v", srv.ReadTimeout)
	}
}
