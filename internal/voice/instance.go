// Package voice implements the per-room assistant: the agent instance with
// its persona memory and bounded history, the hybrid LLM node, the audio
// pipeline, and the session that binds them to one fabric room.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/adapters/circuitbreaker"
	"github.com/parleyhq/parley/internal/adapters/letta"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/pkg/otel"
)

// ErrAgentLocked is returned by SwitchAgent when the requested identity is
// not the configured primary agent.
var ErrAgentLocked = errors.New("agent locked")

const (
	// historyPairs bounds the chat context carried into the LLM. Full
	// conversations are persisted by the slow-path sync, not held here.
	historyPairs = 10

	memoryLoadTimeout = 10 * time.Second
)

// baseInstructions anchors every composed system prompt. Persona and memory
// blocks from the agent service are appended after it.
const baseInstructions = `You are a helpful voice assistant on a live audio call.
Keep replies short and conversational: one to three sentences, plain prose,
no markdown, no lists, no emoji. You are speaking out loud, so write the way
people talk.`

// AgentInstance is the singleton state for one agent identity in this
// process. It is created on the first job that binds the agent to a room and
// reused across reconnects; the registry guarantees at most one per agent id.
type AgentInstance struct {
	lockName string // primary agent name enforced by the switch policy
	lockID   string // optional; also enforced when set

	agents  *letta.Client
	breaker *circuitbreaker.CircuitBreaker // shared with the node's slow path

	mu                 sync.Mutex
	agentID            string
	agentName          string
	memoryLoaded       bool
	personaText        string
	memoryBlocks       map[string]string
	blockOrder         []string
	systemInstructions string
	history            []llm.ChatMessage
	lastActivity       time.Time

	bgMu   sync.Mutex
	bgCtx  context.Context
	bgStop context.CancelFunc
	bg     sync.WaitGroup
}

// NewInstance builds the instance for the primary agent. The breaker is the
// process-wide agent-service breaker so memory-load failures count against
// the same circuit as the slow path; it may be nil in tests.
func NewInstance(agentID, agentName string, agents *letta.Client, breaker *circuitbreaker.CircuitBreaker) *AgentInstance {
	bgCtx, bgStop := context.WithCancel(context.Background())
	return &AgentInstance{
		lockName:           agentName,
		lockID:             agentID,
		agents:             agents,
		breaker:            breaker,
		agentID:            agentID,
		agentName:          agentName,
		memoryBlocks:       make(map[string]string),
		systemInstructions: baseInstructions,
		lastActivity:       time.Now(),
		bgCtx:              bgCtx,
		bgStop:             bgStop,
	}
}

func (a *AgentInstance) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentID
}

func (a *AgentInstance) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agentName
}

// LockName is the primary agent name the switch policy enforces.
func (a *AgentInstance) LockName() string {
	return a.lockName
}

func (a *AgentInstance) MemoryLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memoryLoaded
}

// LoadMemory fetches the agent record and composes the system instructions.
// It short-circuits while memoryLoaded holds; a reset must be observed
// before it hits the REST API again.
//
// The record must come from the REST endpoint: the service's streaming
// surface reports memory blocks as empty for this schema, and a load built
// on it would silently drop the persona.
func (a *AgentInstance) LoadMemory(ctx context.Context) error {
	a.mu.Lock()
	if a.memoryLoaded {
		a.mu.Unlock()
		return nil
	}
	agentID := a.agentID
	a.mu.Unlock()

	ctx, span := otel.Tracer("voice").Start(ctx, "memory.load",
		trace.WithAttributes(otel.AgentID(agentID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, memoryLoadTimeout)
	defer cancel()

	var record *letta.Agent
	var notFound error
	call := func() error {
		rec, err := a.agents.Agent(ctx, agentID)
		if err != nil {
			if errors.Is(err, letta.ErrAgentNotFound) {
				// Content problem, not an availability problem: kept off
				// the circuit's failure count.
				notFound = err
				return nil
			}
			return fmt.Errorf("agent service: %w", err)
		}
		record = rec
		return nil
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(call)
	} else {
		err = call()
	}
	if err == nil {
		err = notFound
	}

	if err != nil {
		span.RecordError(err)
		a.mu.Lock()
		a.systemInstructions = baseInstructions
		a.memoryLoaded = false
		a.mu.Unlock()
		slog.Warn("memory load failed, using base instructions",
			"agent_id", agentID, "error", err)
		return fmt.Errorf("load memory: %w", err)
	}

	blocks := make(map[string]string, len(record.Memory.Blocks))
	var order []string
	for _, b := range record.Memory.Blocks {
		if _, seen := blocks[b.Label]; !seen {
			order = append(order, b.Label)
		}
		// Duplicate labels: last one wins, first position kept.
		blocks[b.Label] = b.Value
	}

	persona, personaLabel := pickPersona(blocks)

	a.mu.Lock()
	a.memoryBlocks = blocks
	a.blockOrder = order
	a.personaText = persona
	a.systemInstructions = composeInstructions(persona, personaLabel, blocks, order)
	a.memoryLoaded = true
	a.mu.Unlock()

	slog.Info("memory loaded", "agent_id", agentID,
		"blocks", len(blocks), "persona", personaLabel != "")
	return nil
}

// pickPersona selects the persona text: first non-empty of the persona,
// human, and role blocks.
func pickPersona(blocks map[string]string) (text, label string) {
	for _, l := range []string{"persona", "human", "role"} {
		if v := strings.TrimSpace(blocks[l]); v != "" {
			return v, l
		}
	}
	return "", ""
}

// composeInstructions joins base instructions, the persona, and every
// remaining block as a "### {label}" section, in service order.
func composeInstructions(persona, personaLabel string, blocks map[string]string, order []string) string {
	var b strings.Builder
	b.WriteString(baseInstructions)
	if persona != "" {
		b.WriteString("\n\n")
		b.WriteString(persona)
	}
	for _, label := range order {
		if label == personaLabel {
			continue
		}
		value := strings.TrimSpace(blocks[label])
		if value == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n### %s\n%s", label, value)
	}
	return b.String()
}

// SystemInstructions returns the composed prompt; base instructions until a
// load succeeds.
func (a *AgentInstance) SystemInstructions() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.systemInstructions
}

// SwitchAgent applies the primary-agent lock: only the primary identity
// passes, regardless of what the browser UI claims to have selected. A
// rejected switch changes nothing. A passed switch takes effect before the
// next query: history cleared, memory reload forced, in-flight background
// sync for the prior identity cancelled.
func (a *AgentInstance) SwitchAgent(newID, newName string) error {
	if newName != a.lockName {
		return fmt.Errorf("%w: locked to %s, requested %s", ErrAgentLocked, a.lockName, newName)
	}
	if a.lockID != "" && newID != a.lockID {
		return fmt.Errorf("%w: locked to id %s, requested %s", ErrAgentLocked, a.lockID, newID)
	}

	a.cancelBackground()

	a.mu.Lock()
	if newID != "" {
		a.agentID = newID
	}
	a.agentName = newName
	a.history = nil
	a.memoryLoaded = false
	a.systemInstructions = baseInstructions
	a.mu.Unlock()

	slog.Info("agent switch accepted", "agent_id", newID, "agent_name", newName)
	return nil
}

// ResetForReconnect returns the instance to a clean slate: background tasks
// cancelled, history cleared, activity clock restarted, memory reloaded on
// the next query.
func (a *AgentInstance) ResetForReconnect() {
	a.cancelBackground()

	a.mu.Lock()
	a.history = nil
	a.memoryLoaded = false
	a.systemInstructions = baseInstructions
	a.lastActivity = time.Now()
	a.mu.Unlock()

	slog.Info("agent instance reset", "agent_id", a.ID())
}

// AppendExchange records one user/assistant pair and trims the history to
// the most recent pairs.
func (a *AgentInstance) AppendExchange(user, assistant string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history,
		llm.ChatMessage{Role: "user", Content: user},
		llm.ChatMessage{Role: "assistant", Content: assistant},
	)
	if max := historyPairs * 2; len(a.history) > max {
		a.history = append([]llm.ChatMessage(nil), a.history[len(a.history)-max:]...)
	}
	a.lastActivity = time.Now()
}

// History returns a copy of the bounded chat context.
func (a *AgentInstance) History() []llm.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]llm.ChatMessage(nil), a.history...)
}

// Touch marks user activity for the idle monitor.
func (a *AgentInstance) Touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

// IdleFor reports how long the instance has been without activity.
func (a *AgentInstance) IdleFor() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.lastActivity)
}

// Go runs fn on a tracked background goroutine. The context is cancelled by
// SwitchAgent, ResetForReconnect, and Close; fn must return promptly after
// cancellation.
func (a *AgentInstance) Go(fn func(ctx context.Context)) {
	a.bgMu.Lock()
	if a.bgCtx == nil {
		a.bgCtx, a.bgStop = context.WithCancel(context.Background())
	}
	ctx := a.bgCtx
	a.bgMu.Unlock()

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn(ctx)
	}()
}

// cancelBackground stops all tracked tasks and waits for them to finish.
func (a *AgentInstance) cancelBackground() {
	a.bgMu.Lock()
	if a.bgStop != nil {
		a.bgStop()
	}
	a.bgCtx, a.bgStop = nil, nil
	a.bgMu.Unlock()

	a.bg.Wait()
}

// Close cancels background work. The instance must not be used afterwards.
func (a *AgentInstance) Close() {
	a.cancelBackground()
}
