// Package monitor watches room health on the fabric: it dispatches the
// agent into rooms where humans wait alone and clears out stale rooms and
// orphaned assistants. It never joins rooms itself; the worker's job gate
// stays the only path in.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/voice"
	"github.com/parleyhq/parley/pkg/protocol"
)

const (
	scanInterval     = 20 * time.Second
	dispatchCooldown = 20 * time.Second
	cleanupInterval  = time.Hour

	emptyRoomTTL   = 5 * time.Minute
	strandedAgents = 10 * time.Minute
)

// fabricAPI is the slice of the fabric client the monitor needs.
// *fabric.Client satisfies it.
type fabricAPI interface {
	Rooms(ctx context.Context) ([]*livekit.Room, error)
	Participants(ctx context.Context, roomName string) ([]*livekit.ParticipantInfo, error)
	CreateDispatch(ctx context.Context, roomName, agentName string) (*livekit.AgentDispatch, error)
	RemoveParticipant(ctx context.Context, roomName, identity string) error
	DeleteRoom(ctx context.Context, roomName string) error
}

type Monitor struct {
	fab       fabricAPI
	reg       *registry.Registry
	events    voice.EventSink
	agentName string

	// emptySince holds when each room was first seen without participants.
	// Scan and cleanup both run on Run's goroutine, so no lock.
	emptySince map[string]time.Time
}

func New(fab fabricAPI, reg *registry.Registry, events voice.EventSink, agentName string) *Monitor {
	return &Monitor{
		fab:        fab,
		reg:        reg,
		events:     events,
		agentName:  agentName,
		emptySince: make(map[string]time.Time),
	}
}

// Run scans until ctx ends. Stale cleanup happens immediately and then
// hourly; abandoned humans are checked every scan.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("room monitor started",
		"scan_interval", scanInterval, "agent_name", m.agentName)

	m.cleanupStale(ctx)

	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("room monitor stopped")
			return
		case <-scanTicker.C:
			m.scan(ctx)
		case <-cleanupTicker.C:
			m.cleanupStale(ctx)
		}
	}
}

// scan dispatches the agent into any room where humans are waiting alone,
// rate-limited per room by the dispatch cooldown.
func (m *Monitor) scan(ctx context.Context) {
	rooms, err := m.fab.Rooms(ctx)
	if err != nil {
		slog.Warn("room scan failed", "error", err)
		return
	}

	seen := make(map[string]bool, len(rooms))
	for _, room := range rooms {
		seen[room.Name] = true

		participants, err := m.fab.Participants(ctx, room.Name)
		if err != nil {
			slog.Warn("participant list failed", "room", room.Name, "error", err)
			continue
		}
		m.observeEmptiness(room.Name, len(participants))

		humans, agents := fabric.SplitParticipants(participants)
		if len(humans) == 0 || len(agents) > 0 {
			continue
		}
		if !m.reg.CooldownElapsed(room.Name, dispatchCooldown) {
			continue
		}

		m.dispatch(ctx, room.Name, len(humans))
	}

	for name := range m.emptySince {
		if !seen[name] {
			delete(m.emptySince, name)
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, roomName string, humans int) {
	slog.Info("humans waiting without an agent, dispatching",
		"room", roomName, "humans", humans, "agent_name", m.agentName)

	if _, err := m.fab.CreateDispatch(ctx, roomName, m.agentName); err != nil {
		metrics.DispatchesTotal.WithLabelValues("monitor", "error").Inc()
		slog.Error("monitor dispatch failed", "room", roomName, "error", err)
		return
	}

	m.reg.MarkDispatched(roomName)
	metrics.DispatchesTotal.WithLabelValues("monitor", "ok").Inc()
	m.events.Publish(protocol.NewEnvelope(roomName, protocol.TypeMonitorDispatch, protocol.MonitorDispatch{
		Room:   roomName,
		Humans: humans,
	}))
}

func (m *Monitor) observeEmptiness(roomName string, participants int) {
	if participants > 0 {
		delete(m.emptySince, roomName)
		return
	}
	if _, ok := m.emptySince[roomName]; !ok {
		m.emptySince[roomName] = time.Now()
	}
}

// cleanupStale deletes rooms that sat empty past their grace period and
// removes assistants stranded in rooms the humans already left.
func (m *Monitor) cleanupStale(ctx context.Context) {
	rooms, err := m.fab.Rooms(ctx)
	if err != nil {
		slog.Warn("stale cleanup skipped", "error", err)
		return
	}

	for _, room := range rooms {
		participants, err := m.fab.Participants(ctx, room.Name)
		if err != nil {
			slog.Warn("participant list failed", "room", room.Name, "error", err)
			continue
		}

		if len(participants) == 0 {
			if m.emptyPast(room, emptyRoomTTL) {
				m.deleteRoom(ctx, room.Name)
			}
			continue
		}

		humans, agents := fabric.SplitParticipants(participants)
		if len(humans) > 0 {
			continue
		}
		kicked := 0
		for _, agent := range agents {
			if time.Since(time.Unix(agent.JoinedAt, 0)) < strandedAgents {
				continue
			}
			if err := m.fab.RemoveParticipant(ctx, room.Name, agent.Identity); err != nil {
				slog.Warn("stranded agent removal failed",
					"room", room.Name, "identity", agent.Identity, "error", err)
				continue
			}
			kicked++
		}
		if kicked > 0 {
			slog.Info("removed stranded agents", "room", room.Name, "count", kicked)
			m.events.Publish(protocol.NewEnvelope(room.Name, protocol.TypeRoomCleaned, protocol.RoomCleaned{
				Room:         room.Name,
				AgentsKicked: kicked,
			}))
		}
	}
}

// emptyPast reports whether the room has been empty for at least ttl. Right
// after start there are no observations yet, so room age stands in.
func (m *Monitor) emptyPast(room *livekit.Room, ttl time.Duration) bool {
	if since, ok := m.emptySince[room.Name]; ok {
		return time.Since(since) >= ttl
	}
	return time.Since(time.Unix(room.CreationTime, 0)) >= ttl
}

func (m *Monitor) deleteRoom(ctx context.Context, roomName string) {
	if err := m.fab.DeleteRoom(ctx, roomName); err != nil {
		slog.Warn("stale room deletion failed", "room", roomName, "error", err)
		return
	}

	delete(m.emptySince, roomName)
	m.reg.ClearCooldown(roomName)
	metrics.RoomsCleanedTotal.Inc()
	slog.Info("deleted stale room", "room", roomName)
	m.events.Publish(protocol.NewEnvelope(roomName, protocol.TypeRoomCleaned, protocol.RoomCleaned{
		Room:    roomName,
		Deleted: true,
	}))
}
