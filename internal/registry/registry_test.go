package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/voice"
)

func testFactory(created *atomic.Int64) Factory {
	return func(agentID string) *voice.AgentInstance {
		if created != nil {
			created.Add(1)
		}
		return voice.NewInstance(agentID, "Sage", nil, nil)
	}
}

func TestRegistry_AssignRoom_ExactlyOneWinner(t *testing.T) {
	r := New(testFactory(nil))

	const claimants = 32
	var wins atomic.Int64
	var rejects atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.AssignRoom("room-1", "agent-1")
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, ErrRoomAssigned) {
				t.Errorf("unexpected error: %v", err)
			}
			rejects.Add(1)
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
	if rejects.Load() != claimants-1 {
		t.Errorf("expected %d rejections, got %d", claimants-1, rejects.Load())
	}
	if agentID, ok := r.RoomAgent("room-1"); !ok || agentID != "agent-1" {
		t.Errorf("room not held by agent-1: %s %v", agentID, ok)
	}
}

func TestRegistry_AssignRoom_FreedRoomCanBeReclaimed(t *testing.T) {
	r := New(testFactory(nil))

	if err := r.AssignRoom("room-1", "agent-1"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := r.AssignRoom("room-1", "agent-2"); err == nil {
		t.Fatal("second claim on a held room succeeded")
	}

	r.UnassignRoom("room-1")

	if err := r.AssignRoom("room-1", "agent-2"); err != nil {
		t.Fatalf("claim after unassign failed: %v", err)
	}
}

func TestRegistry_AcquireInstance_Singleton(t *testing.T) {
	var created atomic.Int64
	r := New(testFactory(&created))

	const callers = 32
	instances := make([]*voice.AgentInstance, callers)
	var newCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, wasNew := r.AcquireInstance("agent-1")
			instances[i] = inst
			if wasNew {
				newCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if newCount.Load() != 1 {
		t.Errorf("expected exactly one wasNew, got %d", newCount.Load())
	}
	if created.Load() != 1 {
		t.Errorf("factory ran %d times", created.Load())
	}
	for i := 1; i < callers; i++ {
		if instances[i] != instances[0] {
			t.Fatal("concurrent acquires returned different instances")
		}
	}
	if r.InstanceCount() != 1 {
		t.Errorf("expected 1 registered instance, got %d", r.InstanceCount())
	}
}

func TestRegistry_ReleaseInstance_NextAcquireIsFresh(t *testing.T) {
	var created atomic.Int64
	r := New(testFactory(&created))

	first, wasNew := r.AcquireInstance("agent-1")
	if !wasNew {
		t.Fatal("first acquire not new")
	}

	r.ReleaseInstance("agent-1")
	if r.InstanceCount() != 0 {
		t.Fatal("release left the instance registered")
	}

	second, wasNew := r.AcquireInstance("agent-1")
	if !wasNew {
		t.Error("acquire after release must create a fresh instance")
	}
	if first == second {
		t.Error("released instance was handed out again")
	}
	if created.Load() != 2 {
		t.Errorf("factory ran %d times, want 2", created.Load())
	}
}

func TestRegistry_Rooms_ReturnsCopy(t *testing.T) {
	r := New(testFactory(nil))
	if err := r.AssignRoom("room-1", "agent-1"); err != nil {
		t.Fatal(err)
	}

	rooms := r.Rooms()
	delete(rooms, "room-1")

	if _, ok := r.RoomAgent("room-1"); !ok {
		t.Error("mutating the returned map changed the registry")
	}
}

func TestRegistry_Cooldown(t *testing.T) {
	r := New(testFactory(nil))

	if !r.CooldownElapsed("room-1", 20*time.Second) {
		t.Error("never-dispatched room should be outside the cooldown")
	}

	r.MarkDispatched("room-1")
	if r.CooldownElapsed("room-1", 20*time.Second) {
		t.Error("freshly dispatched room should be inside the cooldown")
	}
	if !r.CooldownElapsed("room-1", 0) {
		t.Error("zero window never suppresses")
	}

	r.ClearCooldown("room-1")
	if !r.CooldownElapsed("room-1", 20*time.Second) {
		t.Error("cleared room should be outside the cooldown")
	}
}
