package voice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/pkg/otel"
	"github.com/parleyhq/parley/pkg/protocol"
	"github.com/parleyhq/parley/shared/id"
)

// Shutdown reasons. The job runner maps these to registry cleanup.
const (
	ReasonRoomCleanup   = "room_cleanup"
	ReasonLastHumanLeft = "last_human_left"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonTerminated    = "terminated"
	ReasonRoomClosed    = "room_closed"
)

const idlePollInterval = 15 * time.Second

// RoomIO is the slice of the room connection a session drives.
type RoomIO interface {
	AudioWriter
	PublishData(ctx context.Context, payload []byte) error
	HumanCount() int
	RoomName() string
	Disconnect()
}

// EventSink receives ops-feed envelopes. Publish must not block.
type EventSink interface {
	Publish(env *protocol.Envelope)
}

// SessionConfig assembles one room's session.
type SessionConfig struct {
	Room     RoomIO
	Instance *AgentInstance
	Node     *Node
	Events   EventSink

	// Pipeline configures the audio path. OnTranscript is owned by the
	// session and overwritten.
	Pipeline PipelineConfig

	// IdleTimeout ends sessions nobody ever joined. Zero disables it.
	IdleTimeout time.Duration

	// OnShutdown runs once, after the room is disconnected.
	OnShutdown func(reason string)
}

// Session owns the conversation in one room: it feeds user transcripts to
// the node, speaks replies, interprets browser data messages, and watches
// for abandonment.
type Session struct {
	id       string
	room     RoomIO
	inst     *AgentInstance
	node     *Node
	pipeline *Pipeline
	events   EventSink

	idleTimeout time.Duration
	onShutdown  func(string)

	// turnMu serializes user turns and agent switches; a switch can never
	// land mid-reply.
	turnMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	hadHuman atomic.Bool
	endOnce  sync.Once
}

func NewSession(cfg SessionConfig) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id.NewSession(),
		room:        cfg.Room,
		inst:        cfg.Instance,
		node:        cfg.Node,
		events:      cfg.Events,
		idleTimeout: cfg.IdleTimeout,
		onShutdown:  cfg.OnShutdown,
		ctx:         ctx,
		cancel:      cancel,
	}

	pcfg := cfg.Pipeline
	pcfg.OnTranscript = s.HandleTranscript
	pipeline, err := NewPipeline(pcfg, cfg.Room)
	if err != nil {
		cancel()
		return nil, err
	}
	s.pipeline = pipeline

	return s, nil
}

func (s *Session) ID() string { return s.id }

// PushOpus feeds one remote audio packet into the session's pipeline.
func (s *Session) PushOpus(data []byte) { s.pipeline.PushOpus(data) }

// Start announces the session and begins the idle watch.
func (s *Session) Start() {
	slog.Info("session started",
		"session_id", s.id,
		"room", s.room.RoomName(),
		"agent_id", s.inst.ID(),
		"agent_name", s.inst.Name())
	metrics.SessionsActive.Inc()

	s.publish(s.ctx, protocol.TypeSessionStarted, protocol.SessionStarted{
		Room:      s.room.RoomName(),
		AgentID:   s.inst.ID(),
		AgentName: s.inst.Name(),
	})

	go s.idleLoop()
}

// HandleTranscript processes one final user transcript. The pipeline calls
// this serially, in capture order.
func (s *Session) HandleTranscript(text string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	ctx, span := otel.Tracer("voice").Start(s.ctx, "voice.user_turn",
		trace.WithAttributes(
			otel.SessionID(s.id),
			otel.RoomID(s.room.RoomName()),
			otel.AgentID(s.inst.ID()),
		))
	defer span.End()

	s.inst.Touch()
	s.hadHuman.Store(true)

	s.sendTranscript(ctx, "user", text)
	s.publish(ctx, protocol.TypeTranscriptEvent, protocol.TranscriptEvent{
		Room: s.room.RoomName(),
		Role: "user",
		Text: text,
	})

	reply := s.node.Respond(ctx, s.inst, text)
	if reply.Fallback {
		s.publish(ctx, protocol.TypeFallbackServed, protocol.FallbackServed{
			Room:   s.room.RoomName(),
			Reason: reply.Reason,
		})
	}

	// The prefix is audible on purpose; field debugging beats polish here.
	spoken := DebugPrefix(s.inst.ID(), reply.Fingerprint) + reply.Text

	s.sendTranscript(ctx, "assistant", spoken)
	s.publish(ctx, protocol.TypeTranscriptEvent, protocol.TranscriptEvent{
		Room: s.room.RoomName(),
		Role: "assistant",
		Text: spoken,
	})

	if err := s.pipeline.Speak(ctx, spoken); err != nil {
		slog.Error("failed to speak reply",
			"session_id", s.id, "room", s.room.RoomName(), "error", err)
	}
}

// OnData interprets a browser data-channel payload.
func (s *Session) OnData(payload []byte) {
	msg, err := protocol.DecodeDataMessage(payload)
	if err != nil {
		slog.Debug("ignoring malformed data message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.DataAgentSelection:
		s.handleAgentSelection(msg)
	case protocol.DataRoomCleanup:
		slog.Info("cleanup requested over data channel", "room", s.room.RoomName())
		s.Shutdown(ReasonRoomCleanup)
	default:
		// Transcripts echo back on the same channel.
	}
}

func (s *Session) handleAgentSelection(msg *protocol.DataMessage) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}

	if err := s.inst.SwitchAgent(msg.AgentID, msg.AgentName); err != nil {
		slog.Warn("agent switch rejected",
			"session_id", s.id,
			"requested_id", msg.AgentID,
			"requested_name", msg.AgentName,
			"locked_to", s.inst.LockName())

		notice := protocol.AgentLocked(s.inst.LockName(), msg.AgentName, msg.AgentID)
		if data, err := notice.Encode(); err == nil {
			if err := s.room.PublishData(s.ctx, data); err != nil {
				slog.Warn("failed to publish lock notice", "error", err)
			}
		}
		if err := s.pipeline.Speak(s.ctx, "Locked to "+s.inst.LockName()); err != nil {
			slog.Warn("failed to speak lock notice", "error", err)
		}
		return
	}

	slog.Info("agent switch accepted, conversation reset",
		"session_id", s.id, "agent_id", msg.AgentID, "agent_name", msg.AgentName)
}

// idleLoop watches for abandonment: an immediate shutdown once the last
// human leaves, and a slower one for rooms nobody ever joined.
func (s *Session) idleLoop() {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		humans := s.room.HumanCount()
		if humans > 0 {
			s.hadHuman.Store(true)
			continue
		}

		if s.hadHuman.Load() {
			slog.Info("last human left", "session_id", s.id, "room", s.room.RoomName())
			s.Shutdown(ReasonLastHumanLeft)
			return
		}

		if s.idleTimeout > 0 && s.inst.IdleFor() > s.idleTimeout {
			slog.Info("session idle with no humans",
				"session_id", s.id,
				"room", s.room.RoomName(),
				"idle", s.inst.IdleFor().Round(time.Second))
			s.Shutdown(ReasonIdleTimeout)
			return
		}
	}
}

// Shutdown tears the session down exactly once.
func (s *Session) Shutdown(reason string) {
	s.endOnce.Do(func() {
		slog.Info("session ending",
			"session_id", s.id, "room", s.room.RoomName(), "reason", reason)

		s.cancel()
		s.pipeline.Close()
		metrics.SessionsActive.Dec()

		s.publish(context.Background(), protocol.TypeSessionEnded, protocol.SessionEnded{
			Room:    s.room.RoomName(),
			AgentID: s.inst.ID(),
			Reason:  reason,
		})

		s.room.Disconnect()

		if s.onShutdown != nil {
			s.onShutdown(reason)
		}
	})
}

// sendTranscript publishes a transcript on the room data channel when
// transcription output is enabled.
func (s *Session) sendTranscript(ctx context.Context, role, text string) {
	if !s.pipeline.Output().TranscriptionEnabled {
		return
	}
	data, err := protocol.Transcript(role, text, time.Now().UnixMilli()).Encode()
	if err != nil {
		slog.Warn("failed to encode transcript", "error", err)
		return
	}
	if err := s.room.PublishData(ctx, data); err != nil {
		slog.Warn("failed to publish transcript", "role", role, "error", err)
	}
}

func (s *Session) publish(ctx context.Context, t protocol.MessageType, body any) {
	if s.events == nil {
		return
	}
	env := protocol.NewEnvelope(s.room.RoomName(), t, body)
	tc := otel.InjectToTraceContext(ctx, s.id)
	env.TraceID = tc.TraceID
	env.SpanID = tc.SpanID
	env.TraceFlags = tc.TraceFlags
	env.SessionID = s.id
	s.events.Publish(env)
}
