package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeDataMessageAgentSelection(t *testing.T) {
	raw := []byte(`{"type":"agent_selection","agent_id":"agent-42","agent_name":"OtherAgent"}`)

	m, err := DecodeDataMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Type != DataAgentSelection {
		t.Errorf("expected type %q, got %q", DataAgentSelection, m.Type)
	}
	if m.AgentID != "agent-42" {
		t.Errorf("expected agent_id 'agent-42', got %q", m.AgentID)
	}
	if m.AgentName != "OtherAgent" {
		t.Errorf("expected agent_name 'OtherAgent', got %q", m.AgentName)
	}
}

func TestDecodeDataMessageRoomCleanup(t *testing.T) {
	m, err := DecodeDataMessage([]byte(`{"type":"room_cleanup"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Type != DataRoomCleanup {
		t.Errorf("expected type %q, got %q", DataRoomCleanup, m.Type)
	}
}

func TestDecodeDataMessageRejectsMissingType(t *testing.T) {
	if _, err := DecodeDataMessage([]byte(`{"text":"hi"}`)); err == nil {
		t.Error("expected error for payload without type")
	}
	if _, err := DecodeDataMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestTranscriptWireFormat(t *testing.T) {
	data, err := Transcript("assistant", "[DEBUG: deadbeef cafef00d] Hi there", 1234).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "transcript" {
		t.Errorf("expected type 'transcript', got %v", decoded["type"])
	}
	if decoded["role"] != "assistant" {
		t.Errorf("expected role 'assistant', got %v", decoded["role"])
	}
	if decoded["text"] != "[DEBUG: deadbeef cafef00d] Hi there" {
		t.Errorf("unexpected text %v", decoded["text"])
	}
	// Fields from other message kinds must not leak into the payload.
	if _, ok := decoded["agent_id"]; ok {
		t.Error("transcript should not carry agent_id")
	}
}

func TestAgentLockedNotice(t *testing.T) {
	m := AgentLocked("scratch", "OtherAgent", "agent-42")
	if m.Type != DataAgentLocked {
		t.Errorf("expected type %q, got %q", DataAgentLocked, m.Type)
	}
	if m.AgentName != "scratch" {
		t.Errorf("expected locked name 'scratch', got %q", m.AgentName)
	}
	if m.RequestedName != "OtherAgent" || m.RequestedID != "agent-42" {
		t.Errorf("unexpected requested identity %q/%q", m.RequestedName, m.RequestedID)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original := NewEnvelope("room-1", TypeDispatchResult, DispatchResult{
		Room:        "room-1",
		DispatchID:  "dsp_abc123",
		RoomExisted: true,
		Success:     true,
	})
	original.SessionID = "sess_xyz"

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Room != "room-1" {
		t.Errorf("expected room 'room-1', got %q", decoded.Room)
	}
	if decoded.Type != TypeDispatchResult {
		t.Errorf("expected type %v, got %v", TypeDispatchResult, decoded.Type)
	}
	if decoded.SessionID != "sess_xyz" {
		t.Errorf("expected session 'sess_xyz', got %q", decoded.SessionID)
	}

	// Body arrives as a msgpack map; DecodeBody converts to the typed struct.
	body, err := DecodeBody[DispatchResult](decoded)
	if err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body.DispatchID != "dsp_abc123" {
		t.Errorf("expected dispatch ID 'dsp_abc123', got %q", body.DispatchID)
	}
	if !body.RoomExisted || !body.Success {
		t.Errorf("unexpected flags: existed=%v success=%v", body.RoomExisted, body.Success)
	}
}

func TestTraceParent(t *testing.T) {
	e := &Envelope{
		TraceID:    "0123456789abcdef0123456789abcdef",
		SpanID:     "0123456789abcdef",
		TraceFlags: 0x01,
	}
	want := "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01"
	if got := e.TraceParent(); got != want {
		t.Errorf("TraceParent() = %q, want %q", got, want)
	}

	empty := &Envelope{}
	if got := empty.TraceParent(); got != "" {
		t.Errorf("expected empty traceparent, got %q", got)
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		msgType MessageType
		want    string
	}{
		{TypeTokenIssued, "TokenIssued"},
		{TypeDispatchRequested, "DispatchRequested"},
		{TypeJobDecision, "JobDecision"},
		{TypeFallbackServed, "FallbackServed"},
		{TypeMonitorDispatch, "MonitorDispatch"},
		{MessageType(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.msgType.String(); got != tt.want {
				t.Errorf("MessageType(%d).String() = %q, want %q", tt.msgType, got, tt.want)
			}
		})
	}
}
