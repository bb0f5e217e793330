// Package protocol defines the wire formats Parley speaks: JSON messages on
// the room data channel and msgpack envelopes on the ops event feed.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Data-channel message kinds. The browser sends agent_selection and
// room_cleanup; the assistant publishes transcript and agent_locked.
const (
	DataTranscript     = "transcript"
	DataAgentSelection = "agent_selection"
	DataRoomCleanup    = "room_cleanup"
	DataAgentLocked    = "agent_locked"
)

// DataMessage is the envelope on the reliable room data channel. Only the
// fields for the given Type are set.
type DataMessage struct {
	Type string `json:"type"`

	// transcript
	Role      string `json:"role,omitempty"` // "user" or "assistant"
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// agent_selection / agent_locked
	AgentID       string `json:"agent_id,omitempty"`
	AgentName     string `json:"agent_name,omitempty"`
	RequestedID   string `json:"requested_id,omitempty"`
	RequestedName string `json:"requested_name,omitempty"`
}

// Transcript builds an outbound transcript payload.
func Transcript(role, text string, ts int64) *DataMessage {
	return &DataMessage{Type: DataTranscript, Role: role, Text: text, Timestamp: ts}
}

// AgentLocked builds the rejection notice for a refused agent switch.
func AgentLocked(lockedName, requestedName, requestedID string) *DataMessage {
	return &DataMessage{
		Type:          DataAgentLocked,
		AgentName:     lockedName,
		RequestedName: requestedName,
		RequestedID:   requestedID,
	}
}

func (m *DataMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode data message: %w", err)
	}
	return data, nil
}

// DecodeDataMessage parses an inbound data-channel payload. Unknown types
// are returned as-is; callers ignore what they don't handle.
func DecodeDataMessage(data []byte) (*DataMessage, error) {
	var m DataMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode data message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("data message missing type")
	}
	return &m, nil
}
