package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/protocol"
)

type mintCall struct {
	room     string
	identity string
	name     string
	ttl      time.Duration
}

type dispatchCall struct {
	room      string
	agentName string
}

type fakeFabric struct {
	mu          sync.Mutex
	mints       []mintCall
	dispatches  []dispatchCall
	tokenErr    error
	cleanErr    error
	dispatchErr error
	existed     bool
	pingErr     error
}

func (f *fakeFabric) URL() string { return "ws://fabric.test" }

func (f *fakeFabric) ParticipantToken(room, identity, name string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	f.mints = append(f.mints, mintCall{room: room, identity: identity, name: name, ttl: ttl})
	return "tok-xyz", nil
}

func (f *fakeFabric) EnsureCleanRoom(ctx context.Context, roomName string) (bool, error) {
	if f.cleanErr != nil {
		return false, f.cleanErr
	}
	return f.existed, nil
}

func (f *fakeFabric) CreateDispatch(ctx context.Context, roomName, agentName string) (*livekit.AgentDispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	f.dispatches = append(f.dispatches, dispatchCall{room: roomName, agentName: agentName})
	return &livekit.AgentDispatch{Id: "AD_test", Room: roomName, AgentName: agentName}, nil
}

func (f *fakeFabric) Ping(ctx context.Context) (time.Duration, error) {
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	return 3 * time.Millisecond, nil
}

type fakeAgents struct {
	err error
}

func (f *fakeAgents) Healthy(ctx context.Context) error { return f.err }

type captureSink struct {
	mu   sync.Mutex
	envs []*protocol.Envelope
}

func (s *captureSink) Publish(env *protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *captureSink) byType(t protocol.MessageType) []*protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range s.envs {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func newTestHandlers(fab *fakeFabric, agents *fakeAgents) (*handlers, *captureSink) {
	sink := &captureSink{}
	return &handlers{
		cfg:    config.DefaultConfig(),
		fab:    fab,
		agents: agents,
		events: sink,
	}, sink
}

func TestToken_Defaults(t *testing.T) {
	fab := &fakeFabric{}
	h, sink := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("GET", "/api/token", nil)
	rr := httptest.NewRecorder()
	h.token(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Token    string `json:"token"`
		URL      string `json:"url"`
		Room     string `json:"room"`
		TTLHours int    `json:"ttl_hours"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token != "tok-xyz" {
		t.Errorf("expected token 'tok-xyz', got %q", resp.Token)
	}
	if resp.URL != "ws://fabric.test" {
		t.Errorf("expected fabric url in response, got %q", resp.URL)
	}
	if resp.Room != "test-room" {
		t.Errorf("expected default room 'test-room', got %q", resp.Room)
	}
	if resp.TTLHours != 24 {
		t.Errorf("expected default ttl 24, got %d", resp.TTLHours)
	}

	if len(fab.mints) != 1 {
		t.Fatalf("expected 1 mint, got %d", len(fab.mints))
	}
	mint := fab.mints[0]
	if mint.room != "test-room" || mint.identity != "user1" {
		t.Errorf("unexpected mint defaults: %+v", mint)
	}
	if mint.ttl != 24*time.Hour {
		t.Errorf("expected 24h ttl, got %v", mint.ttl)
	}

	if len(sink.byType(protocol.TypeTokenIssued)) != 1 {
		t.Error("expected a TokenIssued event")
	}
}

func TestToken_CustomParams(t *testing.T) {
	fab := &fakeFabric{}
	h, _ := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("GET", "/api/token?room=kitchen&identity=alice&ttl=48", nil)
	rr := httptest.NewRecorder()
	h.token(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(fab.mints) != 1 {
		t.Fatalf("expected 1 mint, got %d", len(fab.mints))
	}
	mint := fab.mints[0]
	if mint.room != "kitchen" || mint.identity != "alice" || mint.ttl != 48*time.Hour {
		t.Errorf("unexpected mint: %+v", mint)
	}
}

func TestToken_TTLValidation(t *testing.T) {
	cases := []struct {
		name string
		ttl  string
	}{
		{"zero", "0"},
		{"negative", "-5"},
		{"over max", "169"},
		{"not a number", "tomorrow"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fab := &fakeFabric{}
			h, _ := newTestHandlers(fab, &fakeAgents{})

			req := httptest.NewRequest("GET", "/api/token?ttl="+tc.ttl, nil)
			rr := httptest.NewRecorder()
			h.token(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
			if len(fab.mints) != 0 {
				t.Error("expected no token minted")
			}
		})
	}
}

func TestToken_MintFailure(t *testing.T) {
	fab := &fakeFabric{tokenErr: errors.New("bad key")}
	h, sink := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("GET", "/api/token", nil)
	rr := httptest.NewRecorder()
	h.token(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
	if len(sink.byType(protocol.TypeTokenIssued)) != 0 {
		t.Error("expected no TokenIssued event on failure")
	}
}

func TestDispatchAgent(t *testing.T) {
	fab := &fakeFabric{existed: true}
	h, sink := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("POST", "/api/dispatch-agent", strings.NewReader(`{"room":"kitchen"}`))
	rr := httptest.NewRecorder()
	h.dispatchAgent(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Success     bool   `json:"success"`
		Room        string `json:"room"`
		DispatchID  string `json:"dispatch_id"`
		RoomExisted bool   `json:"room_existed"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Room != "kitchen" || resp.DispatchID != "AD_test" || !resp.RoomExisted {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(fab.dispatches) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(fab.dispatches))
	}
	if fab.dispatches[0].agentName != config.DefaultAgentName {
		t.Errorf("expected dispatch to %q, got %q", config.DefaultAgentName, fab.dispatches[0].agentName)
	}

	if len(sink.byType(protocol.TypeDispatchRequested)) != 1 {
		t.Error("expected a DispatchRequested event")
	}
	results := sink.byType(protocol.TypeDispatchResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 DispatchResult event, got %d", len(results))
	}
	body, err := protocol.DecodeBody[protocol.DispatchResult](results[0])
	if err != nil {
		t.Fatalf("failed to decode result body: %v", err)
	}
	if !body.Success || body.DispatchID != "AD_test" || !body.RoomExisted {
		t.Errorf("unexpected result event: %+v", body)
	}
}

func TestDispatchAgent_MissingRoom(t *testing.T) {
	for _, payload := range []string{`{}`, `{"room":""}`, `not json`} {
		fab := &fakeFabric{}
		h, _ := newTestHandlers(fab, &fakeAgents{})

		req := httptest.NewRequest("POST", "/api/dispatch-agent", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		h.dispatchAgent(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %q: expected status 400, got %d", payload, rr.Code)
		}
		if len(fab.dispatches) != 0 {
			t.Errorf("payload %q: expected no dispatch", payload)
		}
	}
}

func TestDispatchAgent_CleanupFailure(t *testing.T) {
	fab := &fakeFabric{cleanErr: errors.New("fabric down")}
	h, sink := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("POST", "/api/dispatch-agent", strings.NewReader(`{"room":"kitchen"}`))
	rr := httptest.NewRecorder()
	h.dispatchAgent(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rr.Code)
	}
	if len(fab.dispatches) != 0 {
		t.Error("expected no dispatch after cleanup failure")
	}

	results := sink.byType(protocol.TypeDispatchResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 DispatchResult event, got %d", len(results))
	}
	body, err := protocol.DecodeBody[protocol.DispatchResult](results[0])
	if err != nil {
		t.Fatalf("failed to decode result body: %v", err)
	}
	if body.Success || body.Error == "" {
		t.Errorf("expected failed result with error, got %+v", body)
	}
}

func TestDispatchAgent_DispatchFailure(t *testing.T) {
	fab := &fakeFabric{dispatchErr: errors.New("no workers")}
	h, sink := newTestHandlers(fab, &fakeAgents{})

	req := httptest.NewRequest("POST", "/api/dispatch-agent", strings.NewReader(`{"room":"kitchen"}`))
	rr := httptest.NewRecorder()
	h.dispatchAgent(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rr.Code)
	}
	results := sink.byType(protocol.TypeDispatchResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 DispatchResult event, got %d", len(results))
	}
	body, err := protocol.DecodeBody[protocol.DispatchResult](results[0])
	if err != nil {
		t.Fatalf("failed to decode result body: %v", err)
	}
	if body.Success {
		t.Error("expected failed result")
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandlers(&fakeFabric{}, &fakeAgents{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	h.healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
}

func TestHealthz_AgentDown(t *testing.T) {
	h, _ := newTestHandlers(&fakeFabric{}, &fakeAgents{err: errors.New("connection refused")})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	h.healthz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Agent  struct {
			Healthy bool   `json:"healthy"`
			Error   string `json:"error"`
		} `json:"agent_service"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %q", resp.Status)
	}
	if resp.Agent.Healthy || resp.Agent.Error == "" {
		t.Errorf("expected unhealthy agent service with error, got %+v", resp.Agent)
	}
}

func TestHealthz_FabricDown(t *testing.T) {
	h, _ := newTestHandlers(&fakeFabric{pingErr: errors.New("dial tcp: refused")}, &fakeAgents{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	h.healthz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}
