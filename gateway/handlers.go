package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/protocol"
)

const (
	defaultRoom     = "test-room"
	defaultIdentity = "user1"
	defaultTTLHours = 24
	maxTTLHours     = 168
)

//go:embed index.html
var indexHTML []byte

// fabricService is the slice of the fabric client the gateway handlers use.
// *fabric.Client satisfies it.
type fabricService interface {
	URL() string
	ParticipantToken(roomName, identity, name string, ttl time.Duration) (string, error)
	EnsureCleanRoom(ctx context.Context, roomName string) (existed bool, err error)
	CreateDispatch(ctx context.Context, roomName, agentName string) (*livekit.AgentDispatch, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// agentService is the health slice of the stateful agent client.
// *letta.Client satisfies it.
type agentService interface {
	Healthy(ctx context.Context) error
}

// eventSink receives ops-feed envelopes. *events.Broadcaster satisfies it.
type eventSink interface {
	Publish(env *protocol.Envelope)
}

type handlers struct {
	cfg    *config.Config
	fab    fabricService
	agents agentService
	events eventSink
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// token mints a room credential for the browser. Defaults suit local
// development; TTL is capped at a week.
func (h *handlers) token(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = defaultRoom
	}
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		identity = defaultIdentity
	}

	ttlHours := defaultTTLHours
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, "ttl must be an integer number of hours", http.StatusBadRequest)
			return
		}
		ttlHours = parsed
	}
	if ttlHours <= 0 || ttlHours > maxTTLHours {
		respondError(w, "ttl must be between 1 and 168 hours", http.StatusBadRequest)
		return
	}

	token, err := h.fab.ParticipantToken(room, identity, identity, time.Duration(ttlHours)*time.Hour)
	if err != nil {
		slog.Error("token mint failed", "room", room, "identity", identity, "error", err)
		respondError(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	h.events.Publish(protocol.NewEnvelope(room, protocol.TypeTokenIssued, protocol.TokenIssued{
		Room:     room,
		Identity: identity,
		TTLHours: ttlHours,
	}))

	respondJSON(w, map[string]any{
		"token":     token,
		"url":       h.fab.URL(),
		"room":      room,
		"ttl_hours": ttlHours,
	}, http.StatusOK)
}

// dispatchAgent clears stale assistants out of the room and asks the fabric
// to send the agent in.
func (h *handlers) dispatchAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room string `json:"room"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Room == "" {
		respondError(w, "room is required", http.StatusBadRequest)
		return
	}

	h.events.Publish(protocol.NewEnvelope(req.Room, protocol.TypeDispatchRequested, protocol.DispatchRequested{
		Room:   req.Room,
		Source: "api",
	}))

	existed, err := h.fab.EnsureCleanRoom(r.Context(), req.Room)
	if err != nil {
		h.dispatchFailed(w, req.Room, "room cleanup failed", err)
		return
	}

	dispatch, err := h.fab.CreateDispatch(r.Context(), req.Room, h.cfg.Worker.AgentName)
	if err != nil {
		h.dispatchFailed(w, req.Room, "dispatch failed", err)
		return
	}

	metrics.DispatchesTotal.WithLabelValues("api", "ok").Inc()
	h.events.Publish(protocol.NewEnvelope(req.Room, protocol.TypeDispatchResult, protocol.DispatchResult{
		Room:        req.Room,
		DispatchID:  dispatch.Id,
		RoomExisted: existed,
		Success:     true,
	}))

	respondJSON(w, map[string]any{
		"success":      true,
		"room":         req.Room,
		"dispatch_id":  dispatch.Id,
		"room_existed": existed,
	}, http.StatusOK)
}

func (h *handlers) dispatchFailed(w http.ResponseWriter, room, msg string, err error) {
	slog.Error("agent dispatch failed", "room", room, "error", err)
	metrics.DispatchesTotal.WithLabelValues("api", "error").Inc()
	h.events.Publish(protocol.NewEnvelope(room, protocol.TypeDispatchResult, protocol.DispatchResult{
		Room:    room,
		Success: false,
		Error:   err.Error(),
	}))
	respondError(w, msg, http.StatusBadGateway)
}

// healthz reports gateway liveness plus fabric and agent service latency.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	type componentStatus struct {
		Healthy   bool   `json:"healthy"`
		LatencyMs int64  `json:"latency_ms,omitempty"`
		Error     string `json:"error,omitempty"`
	}

	fabricStatus := componentStatus{Healthy: true}
	if latency, err := h.fab.Ping(ctx); err != nil {
		fabricStatus = componentStatus{Error: err.Error()}
	} else {
		fabricStatus.LatencyMs = latency.Milliseconds()
	}

	agentStatus := componentStatus{Healthy: true}
	start := time.Now()
	if err := h.agents.Healthy(ctx); err != nil {
		agentStatus = componentStatus{Error: err.Error()}
	} else {
		agentStatus.LatencyMs = time.Since(start).Milliseconds()
	}

	status := http.StatusOK
	overall := "ok"
	if !fabricStatus.Healthy || !agentStatus.Healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	respondJSON(w, map[string]any{
		"status":        overall,
		"fabric":        fabricStatus,
		"agent_service": agentStatus,
	}, status)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
