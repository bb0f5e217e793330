// Package registry arbitrates rooms and agent instances inside one worker
// process: at most one agent per room, at most one live instance per agent
// id, and the per-room dispatch cooldown the health monitor consults.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/voice"
)

// ErrRoomAssigned rejects a second agent for an occupied room.
var ErrRoomAssigned = errors.New("room already assigned")

// Factory builds the instance for an agent id on first acquisition.
type Factory func(agentID string) *voice.AgentInstance

// Registry is process-wide state behind two mutexes. Lock order: instMu
// before roomMu, never the reverse.
type Registry struct {
	factory Factory

	instMu    sync.Mutex
	instances map[string]*voice.AgentInstance

	roomMu    sync.Mutex
	rooms     map[string]string // room name -> agent id
	cooldowns map[string]time.Time
}

func New(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		instances: make(map[string]*voice.AgentInstance),
		rooms:     make(map[string]string),
		cooldowns: make(map[string]time.Time),
	}
}

// AcquireInstance returns the singleton instance for an agent id, creating
// it on first use. wasNew reports creation; a reconnect gets the existing
// instance and is expected to reset it.
func (r *Registry) AcquireInstance(agentID string) (inst *voice.AgentInstance, wasNew bool) {
	r.instMu.Lock()
	defer r.instMu.Unlock()

	if inst, ok := r.instances[agentID]; ok {
		return inst, false
	}
	inst = r.factory(agentID)
	r.instances[agentID] = inst
	return inst, true
}

// ReleaseInstance drops the instance from the registry; the next acquire
// builds a fresh one. Callers reset the instance first.
func (r *Registry) ReleaseInstance(agentID string) {
	r.instMu.Lock()
	defer r.instMu.Unlock()
	delete(r.instances, agentID)
}

// AssignRoom claims a room for an agent. Of any number of concurrent claims
// on the same room, exactly one wins.
func (r *Registry) AssignRoom(room, agentID string) error {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	if holder, ok := r.rooms[room]; ok {
		return fmt.Errorf("%w: %s held by %s", ErrRoomAssigned, room, holder)
	}
	r.rooms[room] = agentID
	return nil
}

func (r *Registry) UnassignRoom(room string) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	delete(r.rooms, room)
}

// RoomAgent reports which agent holds a room.
func (r *Registry) RoomAgent(room string) (string, bool) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	agentID, ok := r.rooms[room]
	return agentID, ok
}

// Rooms returns a copy of the assignment table.
func (r *Registry) Rooms() map[string]string {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	out := make(map[string]string, len(r.rooms))
	for room, agentID := range r.rooms {
		out[room] = agentID
	}
	return out
}

func (r *Registry) InstanceCount() int {
	r.instMu.Lock()
	defer r.instMu.Unlock()
	return len(r.instances)
}

// MarkDispatched stamps a room's dispatch cooldown.
func (r *Registry) MarkDispatched(room string) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	r.cooldowns[room] = time.Now()
}

// CooldownElapsed reports whether a room is outside its cooldown window.
// Rooms never dispatched to are always outside it.
func (r *Registry) CooldownElapsed(room string, window time.Duration) bool {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	last, ok := r.cooldowns[room]
	if !ok {
		return true
	}
	return time.Since(last) >= window
}

// ClearCooldown forgets a room's dispatch stamp, typically after the room
// was deleted.
func (r *Registry) ClearCooldown(room string) {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()
	delete(r.cooldowns, room)
}
