// Package letta is a thin client for the stateful agent service: agent
// records with persona memory, a liveness probe, and the messages API used
// by the slow path and the background memory sync.
//
// Agent records must always come from the REST representation. The service's
// streaming surface reports memory blocks as empty for this schema, so a
// client built on it silently loses the persona.
package letta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/shared/httpclient"
)

// ErrAgentNotFound distinguishes a missing agent record from the service
// being unreachable. Callers treat it as a content problem, not an outage.
var ErrAgentNotFound = errors.New("agent not found")

// Block is one labeled memory segment of an agent.
type Block struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Memory is the agent's core memory as served by the REST API.
type Memory struct {
	Blocks []Block `json:"blocks"`
}

// Agent is the REST representation of an agent record.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Memory Memory `json:"memory"`
}

// Message is one turn sent to the messages API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	baseURL string
	token   string

	rest   *http.Client
	health *http.Client
	stream *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		rest:    httpclient.NewShort(),
		health:  httpclient.NewHealth(),
		stream:  httpclient.NewShort(),
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Agent fetches a single agent record, memory blocks included.
func (c *Client) Agent(ctx context.Context, agentID string) (*Agent, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agents/"+agentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.rest.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrAgentNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("agent request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var agent Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return nil, fmt.Errorf("failed to decode agent: %w", err)
	}
	return &agent, nil
}

// ListAgents returns every agent the service knows about.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.rest.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list agents request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("list agents returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var agents []Agent
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	return agents, nil
}

// ResolveAgentID turns startup configuration into a concrete agent id. An
// explicit id wins; otherwise the name is looked up, taking the first match
// and warning when the name is ambiguous. No match is a startup failure.
func (c *Client) ResolveAgentID(ctx context.Context, id, name string) (string, error) {
	if id != "" {
		return id, nil
	}
	if name == "" {
		return "", fmt.Errorf("agent name is required to resolve an agent id")
	}

	agents, err := c.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve agent %q: %w", name, err)
	}

	var matches []Agent
	for _, a := range agents {
		if a.Name == name {
			matches = append(matches, a)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no agent named %q on %s", name, c.baseURL)
	case 1:
		return matches[0].ID, nil
	default:
		slog.Warn("letta: agent name is ambiguous, using first match",
			"name", name, "matches", len(matches), "agent_id", matches[0].ID)
		return matches[0].ID, nil
	}
}

// Healthy probes the service's health endpoint with the short health budget.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.health.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// SendMessage posts one message to the agent without streaming the reply.
func (c *Client) SendMessage(ctx context.Context, agentID string, msg Message) error {
	return c.SendMessages(ctx, agentID, []Message{msg})
}

// SendMessages posts a batch of turns to the agent without streaming the
// reply. The memory sync uses it to keep the stateful agent's history
// aligned with exchanges answered on the fast path; the reply body is
// discarded.
func (c *Client) SendMessages(ctx context.Context, agentID string, msgs []Message) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if len(msgs) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	payload, err := json.Marshal(map[string]any{
		"messages": msgs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/agents/"+agentID+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.rest.Do(req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send message returned %d", resp.StatusCode)
	}
	return nil
}
