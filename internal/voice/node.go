package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/adapters/circuitbreaker"
	"github.com/parleyhq/parley/internal/adapters/letta"
	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/internal/adapters/retry"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/pkg/otel"
)

const (
	fastPathTimeout    = 10 * time.Second
	slowAttemptTimeout = 10 * time.Second

	// dedupWindow is how long a finished reply short-circuits an identical
	// utterance; recentLimit bounds the reply cache.
	dedupWindow = 10 * time.Second
	recentLimit = 32

	// busyReply is spoken when a duplicate arrives while the original is
	// still being computed and no earlier reply is cached.
	busyReply = "I'm still working on that, give me a second."
)

var errAgentServiceDown = errors.New("agent service down")

// ChatProvider is the fast-path surface of the LLM client.
type ChatProvider interface {
	ChatStream(ctx context.Context, messages []llm.ChatMessage) (<-chan llm.StreamChunk, error)
}

// AgentService is the slow-path surface of the stateful agent service.
type AgentService interface {
	Healthy(ctx context.Context) error
	StreamMessage(ctx context.Context, agentID, text string) (string, error)
	SendMessages(ctx context.Context, agentID string, msgs []letta.Message) error
}

// Reply is what the node hands back to the session. Text is never empty.
type Reply struct {
	Text        string
	Fingerprint string
	Path        string // "fast", "slow", "dedup_active", "dedup_recent", "fallback"
	Fallback    bool
	Reason      string // fallback reason when Fallback is set
}

// Node produces a validated text reply for every user turn. In hybrid mode
// it streams from the LLM provider directly and mirrors the exchange to the
// stateful agent service in the background; in stateful mode every turn goes
// through the agent service. Either way the caller always gets a speakable
// string.
type Node struct {
	provider ChatProvider
	agents   AgentService
	breaker  *circuitbreaker.CircuitBreaker
	hybrid   bool

	mu     sync.Mutex
	active map[string]struct{}
	recent *recentCache
}

// NewNode wires the reply path. The breaker must be the same instance the
// AgentInstance uses for memory loads, so all agent-service traffic shares
// one circuit.
func NewNode(provider ChatProvider, agents AgentService, breaker *circuitbreaker.CircuitBreaker, hybrid bool) *Node {
	return &Node{
		provider: provider,
		agents:   agents,
		breaker:  breaker,
		hybrid:   hybrid,
		active:   make(map[string]struct{}),
		recent:   newRecentCache(recentLimit),
	}
}

// Respond handles one user turn. The returned reply always passes the
// response validator; on total failure it is a catalog fallback.
func (n *Node) Respond(ctx context.Context, inst *AgentInstance, userMsg string) Reply {
	fp := Fingerprint(userMsg, inst.ID())
	log := slog.With("agent_id", inst.ID(), "fingerprint", fp[:8])

	n.mu.Lock()
	if _, inFlight := n.active[fp]; inFlight {
		cached, ok := n.recent.get(fp)
		n.mu.Unlock()
		metrics.DedupHitsTotal.WithLabelValues("active").Inc()
		if ok {
			log.Info("duplicate turn while original in flight, replaying last reply")
			return Reply{Text: cached.text, Fingerprint: fp, Path: "dedup_active"}
		}
		log.Info("duplicate turn while original in flight, no cached reply")
		return Reply{Text: busyReply, Fingerprint: fp, Path: "dedup_active"}
	}
	if cached, ok := n.recent.get(fp); ok && time.Since(cached.at) < dedupWindow {
		n.mu.Unlock()
		metrics.DedupHitsTotal.WithLabelValues("recent").Inc()
		log.Info("duplicate turn within recency window, replaying reply")
		return Reply{Text: cached.text, Fingerprint: fp, Path: "dedup_recent"}
	}
	n.active[fp] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.active, fp)
		n.mu.Unlock()
	}()

	text, path, err := n.compute(ctx, inst, userMsg)
	if err != nil {
		reason := fallbackReason(err)
		text = Fallback(reason)
		metrics.FallbacksTotal.WithLabelValues(reason).Inc()
		slog.Error("CRITICAL FALLBACK",
			"reason", reason, "agent_id", inst.ID(), "fingerprint", fp[:8], "error", err)
		return Reply{Text: text, Fingerprint: fp, Path: "fallback", Fallback: true, Reason: reason}
	}

	n.mu.Lock()
	n.recent.put(fp, text)
	n.mu.Unlock()

	return Reply{Text: text, Fingerprint: fp, Path: path}
}

// compute runs the configured path order: fast then slow in hybrid mode,
// slow only in stateful mode.
func (n *Node) compute(ctx context.Context, inst *AgentInstance, userMsg string) (string, string, error) {
	if n.hybrid {
		text, err := n.fastPath(ctx, inst, userMsg)
		if err == nil {
			return text, "fast", nil
		}
		slog.Warn("fast path failed, falling back to agent service",
			"agent_id", inst.ID(), "error", err)

		text, err = n.slowPath(ctx, inst, userMsg)
		if err != nil {
			return "", "", err
		}
		return text, "slow", nil
	}

	text, err := n.slowPath(ctx, inst, userMsg)
	if err != nil {
		return "", "", err
	}
	return text, "slow", nil
}

// fastPath streams directly from the LLM provider using the cached system
// instructions and the bounded history, then mirrors the exchange to the
// agent service without blocking the caller.
func (n *Node) fastPath(ctx context.Context, inst *AgentInstance, userMsg string) (string, error) {
	ctx, span := otel.Tracer("voice").Start(ctx, "llm.fast_path",
		trace.WithAttributes(otel.AgentID(inst.ID()), otel.LLMPath("fast")))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, fastPathTimeout)
	defer cancel()

	// Memory-load failure is survivable: base instructions are already in
	// place and the turn proceeds without the persona.
	if err := inst.LoadMemory(ctx); err != nil {
		slog.Warn("proceeding without persona", "agent_id", inst.ID(), "error", err)
	}

	messages := make([]llm.ChatMessage, 0, historyPairs*2+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: inst.SystemInstructions()})
	messages = append(messages, inst.History()...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: userMsg})

	start := time.Now()
	stream, err := n.provider.ChatStream(ctx, messages)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("fast", "error").Inc()
		return "", fmt.Errorf("fast path connect: %w", err)
	}

	var sb strings.Builder
	sawFirst := false
	for chunk := range stream {
		if chunk.Error != nil {
			metrics.LLMRequestsTotal.WithLabelValues("fast", "error").Inc()
			return "", fmt.Errorf("fast path stream: %w", chunk.Error)
		}
		if !sawFirst && chunk.Content != "" {
			sawFirst = true
			ttft := time.Since(start)
			metrics.LLMFirstTokenSeconds.WithLabelValues("fast").Observe(ttft.Seconds())
			slog.Info("fast path first token",
				"agent_id", inst.ID(), "ttft_ms", ttft.Milliseconds())
		}
		sb.WriteString(chunk.Content)
		if chunk.Done {
			break
		}
	}
	metrics.LLMRequestDuration.WithLabelValues("fast").Observe(time.Since(start).Seconds())

	text := strings.TrimSpace(sb.String())
	if !ValidResponse(text) {
		metrics.LLMRequestsTotal.WithLabelValues("fast", "invalid").Inc()
		return "", fmt.Errorf("fast path returned unusable reply (%d bytes)", len(text))
	}
	metrics.LLMRequestsTotal.WithLabelValues("fast", "ok").Inc()

	inst.AppendExchange(userMsg, text)
	n.mirror(inst, userMsg, text)
	return text, nil
}

// mirror enqueues the background sync of one exchange to the stateful agent
// service. Best effort: it retries on its own schedule but the user never
// waits on it, and a reset or switch cancels it.
func (n *Node) mirror(inst *AgentInstance, userMsg, reply string) {
	agentID := inst.ID()
	inst.Go(func(ctx context.Context) {
		err := retry.WithBackoffAlways(ctx, retry.AgentServiceConfig(), func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, slowAttemptTimeout)
			defer cancel()
			return n.agents.SendMessages(attemptCtx, agentID, []letta.Message{
				{Role: "user", Content: userMsg},
				{Role: "assistant", Content: reply},
			})
		})
		if err != nil {
			metrics.MemorySyncTotal.WithLabelValues("error").Inc()
			slog.Warn("memory sync failed", "agent_id", agentID, "error", err)
			return
		}
		metrics.MemorySyncTotal.WithLabelValues("ok").Inc()
	})
}

// slowPath routes the turn through the stateful agent service: health gate,
// then the streaming messages API with retries, the circuit re-checked on
// every attempt.
func (n *Node) slowPath(ctx context.Context, inst *AgentInstance, userMsg string) (string, error) {
	ctx, span := otel.Tracer("voice").Start(ctx, "llm.slow_path",
		trace.WithAttributes(otel.AgentID(inst.ID()), otel.LLMPath("slow")))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.LLMRequestDuration.WithLabelValues("slow").Observe(time.Since(start).Seconds())
		n.reportCircuit()
	}()

	err := n.breaker.Execute(func() error {
		return n.agents.Healthy(ctx)
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("slow", "error").Inc()
		return "", fmt.Errorf("%w: %w", errAgentServiceDown, err)
	}

	var text string
	err = retry.WithBackoffAlways(ctx, retry.AgentServiceConfig(), func() error {
		return n.breaker.Execute(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, slowAttemptTimeout)
			defer cancel()

			reply, err := n.agents.StreamMessage(attemptCtx, inst.ID(), userMsg)
			if err != nil {
				return err
			}
			text = reply
			return nil
		})
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("slow", "error").Inc()
		return "", fmt.Errorf("slow path: %w", err)
	}

	text = strings.TrimSpace(text)
	if !ValidResponse(text) {
		// Content problem, not availability: the circuit stays untouched.
		metrics.LLMRequestsTotal.WithLabelValues("slow", "invalid").Inc()
		return "", fmt.Errorf("slow path returned unusable reply (%d bytes)", len(text))
	}
	metrics.LLMRequestsTotal.WithLabelValues("slow", "ok").Inc()

	inst.AppendExchange(userMsg, text)
	return text, nil
}

func (n *Node) reportCircuit() {
	var v float64
	switch n.breaker.State() {
	case circuitbreaker.StateOpen:
		v = 1
	case circuitbreaker.StateHalfOpen:
		v = 2
	}
	metrics.CircuitState.WithLabelValues("agent_service").Set(v)
}

// fallbackReason classifies a terminal error into the fallback catalog key.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, errAgentServiceDown):
		return ReasonLettaDown
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonLLMTimeout
	default:
		return ReasonUnknown
	}
}

// Fingerprint identifies a user turn for deduplication: duplicate STT finals
// for the same agent hash identically regardless of casing and spacing.
func Fingerprint(message, agentID string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	sum := sha256.Sum256([]byte(normalized + agentID))
	return hex.EncodeToString(sum[:])
}

// DebugPrefix is prepended to assistant transcripts so a spoken reply can be
// correlated with its agent and request in the field.
func DebugPrefix(agentID, fingerprint string) string {
	return fmt.Sprintf("[DEBUG: %s %s] ", last8(agentID), last8(fingerprint))
}

func last8(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}

type cachedReply struct {
	text string
	at   time.Time
}

// recentCache is a small insertion-ordered LRU of finished replies.
type recentCache struct {
	limit   int
	order   []string
	entries map[string]cachedReply
}

func newRecentCache(limit int) *recentCache {
	return &recentCache{
		limit:   limit,
		entries: make(map[string]cachedReply, limit),
	}
}

func (c *recentCache) get(fp string) (cachedReply, bool) {
	r, ok := c.entries[fp]
	return r, ok
}

func (c *recentCache) put(fp, text string) {
	if _, ok := c.entries[fp]; ok {
		c.entries[fp] = cachedReply{text: text, at: time.Now()}
		c.moveToBack(fp)
		return
	}
	if len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, fp)
	c.entries[fp] = cachedReply{text: text, at: time.Now()}
}

func (c *recentCache) moveToBack(fp string) {
	for i, k := range c.order {
		if k == fp {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, fp)
			return
		}
	}
}

func (c *recentCache) len() int {
	return len(c.entries)
}
