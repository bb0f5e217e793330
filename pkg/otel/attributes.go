package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for Parley services.
const (
	AttrSessionID     = "session.id"
	AttrRoomID        = "room.id"
	AttrAgentID       = "agent.id"
	AttrJobID         = "job.id"
	AttrRequestID     = "request.id"
	AttrParticipantID = "participant.id"
	AttrLLMModel      = "llm.model"
	AttrLLMPath       = "llm.path"
	AttrSTTModel      = "stt.model"
	AttrSTTDurationMs = "stt.duration_ms"
	AttrTTSModel      = "tts.model"
	AttrTTSVoice      = "tts.voice"
	AttrTTSDurationMs = "tts.duration_ms"
	AttrWSMessageType = "ws.message_type"
	AttrWSDirection   = "ws.direction"
)

func SessionID(id string) attribute.KeyValue     { return attribute.String(AttrSessionID, id) }
func RoomID(id string) attribute.KeyValue        { return attribute.String(AttrRoomID, id) }
func AgentID(id string) attribute.KeyValue       { return attribute.String(AttrAgentID, id) }
func JobID(id string) attribute.KeyValue         { return attribute.String(AttrJobID, id) }
func RequestID(id string) attribute.KeyValue     { return attribute.String(AttrRequestID, id) }
func ParticipantID(id string) attribute.KeyValue { return attribute.String(AttrParticipantID, id) }

func LLMModel(model string) attribute.KeyValue { return attribute.String(AttrLLMModel, model) }
func LLMPath(path string) attribute.KeyValue   { return attribute.String(AttrLLMPath, path) }

func STTModel(model string) attribute.KeyValue  { return attribute.String(AttrSTTModel, model) }
func STTDurationMs(ms int64) attribute.KeyValue { return attribute.Int64(AttrSTTDurationMs, ms) }

func TTSModel(model string) attribute.KeyValue  { return attribute.String(AttrTTSModel, model) }
func TTSVoice(voice string) attribute.KeyValue  { return attribute.String(AttrTTSVoice, voice) }
func TTSDurationMs(ms int64) attribute.KeyValue { return attribute.Int64(AttrTTSDurationMs, ms) }

func WSMessageType(t string) attribute.KeyValue { return attribute.String(AttrWSMessageType, t) }
func WSDirection(dir string) attribute.KeyValue { return attribute.String(AttrWSDirection, dir) }
