package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/pkg/protocol"
)

func TestAgentProxy_ForwardsRequest(t *testing.T) {
	var got struct {
		method string
		path   string
		query  string
		auth   string
		conn   string
		body   string
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.auth = r.Header.Get("Authorization")
		got.conn = r.Header.Get("Connection")
		b, _ := io.ReadAll(r.Body)
		got.body = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer upstream.Close()

	sink := &captureSink{}
	proxy := newAgentProxy(upstream.URL, sink)

	req := httptest.NewRequest("POST", "/api/v1/agents/ag-1/messages?stream=true", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Authorization", "Bearer token-1")
	req.Header.Set("Connection", "keep-alive")
	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.method != "POST" || got.path != "/v1/agents/ag-1/messages" {
		t.Errorf("unexpected upstream request: %s %s", got.method, got.path)
	}
	if got.query != "stream=true" {
		t.Errorf("expected query string preserved, got %q", got.query)
	}
	if got.auth != "Bearer token-1" {
		t.Errorf("expected Authorization forwarded, got %q", got.auth)
	}
	if got.conn != "" {
		t.Errorf("expected hop-by-hop Connection header dropped, got %q", got.conn)
	}
	if got.body != `{"text":"hi"}` {
		t.Errorf("expected request body forwarded, got %q", got.body)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected upstream content type, got %q", ct)
	}
	if rr.Body.String() != `{"id":"msg-1"}` {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if len(sink.envs) != 0 {
		t.Errorf("expected no events on success, got %d", len(sink.envs))
	}
}

func TestAgentProxy_PreservesUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	proxy := newAgentProxy(upstream.URL, &captureSink{})

	req := httptest.NewRequest("GET", "/api/v1/agents/missing", nil)
	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 passed through, got %d", rr.Code)
	}
}

func TestAgentProxy_StreamsAndFlushes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: one\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		w.Write([]byte("data: two\n\n"))
	}))
	defer upstream.Close()

	proxy := newAgentProxy(upstream.URL, &captureSink{})

	req := httptest.NewRequest("GET", "/api/v1/agents/ag-1/stream", nil)
	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", ct)
	}
	if rr.Body.String() != "data: one\n\ndata: two\n\n" {
		t.Errorf("unexpected stream body %q", rr.Body.String())
	}
	if !rr.Flushed {
		t.Error("expected response to be flushed as chunks arrive")
	}
}

func TestAgentProxy_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close()

	sink := &captureSink{}
	proxy := newAgentProxy(upstream.URL, sink)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rr.Code)
	}
	errs := sink.byType(protocol.TypeProxyError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 ProxyError event, got %d", len(errs))
	}
	body, err := protocol.DecodeBody[protocol.ProxyError](errs[0])
	if err != nil {
		t.Fatalf("failed to decode event body: %v", err)
	}
	if body.Path != "/api/v1/health" || body.Status != http.StatusBadGateway {
		t.Errorf("unexpected event body: %+v", body)
	}
}
