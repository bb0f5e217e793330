package letta

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// streamEvent is one SSE payload from the streaming messages API. Only
// assistant content is interesting here; reasoning, tool traffic and usage
// statistics pass through under other message types.
type streamEvent struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

// StreamMessage sends one user message through the streaming messages API
// and returns the accumulated assistant reply. The agent updates its own
// memory as a side effect, which is what makes this the durable path.
// Cancellation and the per-attempt deadline come in through ctx.
func (c *Client) StreamMessage(ctx context.Context, agentID, text string) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("agent id is required")
	}

	payload, err := json.Marshal(map[string]any{
		"messages":      []Message{{Role: "user", Content: text}},
		"stream_tokens": true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/agents/"+agentID+"/messages/stream", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return "", fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("stream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply strings.Builder
	reader := bufio.NewReader(resp.Body)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Only a clean EOF yields the partial reply; anything else
			// goes back to the retry layer.
			if err == io.EOF {
				return reply.String(), nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("stream read failed: %w", err)
		}

		lineStr := strings.TrimSpace(string(line))
		if lineStr == "" || !strings.HasPrefix(lineStr, "data: ") {
			continue
		}

		data := strings.TrimPrefix(lineStr, "data: ")
		if data == "[DONE]" {
			return reply.String(), nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if event.MessageType == "assistant_message" {
			reply.WriteString(event.Content)
		}
	}
}
