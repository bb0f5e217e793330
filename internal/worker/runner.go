package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/parleyhq/parley/internal/adapters/metrics"
	"github.com/parleyhq/parley/internal/adapters/speech"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/voice"
	"github.com/parleyhq/parley/pkg/protocol"
	"github.com/parleyhq/parley/shared/id"
)

// roomPrecleaner is the slice of the fabric client Accept needs.
type roomPrecleaner interface {
	EnsureCleanRoom(ctx context.Context, roomName string) (existed bool, err error)
}

// Runner turns assigned jobs into voice sessions. It is the JobHandler
// behind the fabric socket: Accept claims the room in the registry, Run
// joins it and serves the conversation until shutdown.
type Runner struct {
	cfg     *config.Config
	fab     roomPrecleaner
	reg     *registry.Registry
	node    *voice.Node
	stt     *speech.STT
	tts     *speech.TTS
	events  voice.EventSink
	agentID string

	mu       sync.Mutex
	sessions map[string]*voice.Session // job id -> session
}

func NewRunner(cfg *config.Config, fab roomPrecleaner, reg *registry.Registry, node *voice.Node, stt *speech.STT, tts *speech.TTS, ev voice.EventSink, agentID string) *Runner {
	return &Runner{
		cfg:      cfg,
		fab:      fab,
		reg:      reg,
		node:     node,
		stt:      stt,
		tts:      tts,
		events:   ev,
		agentID:  agentID,
		sessions: make(map[string]*voice.Session),
	}
}

// Accept claims the job's room. A room already held by any agent instance
// is rejected; the fabric will offer the job elsewhere or let it expire.
func (r *Runner) Accept(ctx context.Context, job *livekit.Job) (string, string, error) {
	roomName := job.GetRoom().GetName()
	if roomName == "" {
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		return "", "", fmt.Errorf("job %s carries no room", job.Id)
	}

	if err := r.reg.AssignRoom(roomName, r.agentID); err != nil {
		metrics.JobsTotal.WithLabelValues("rejected").Inc()
		r.publishDecision(job.Id, roomName, false, err.Error())
		return "", "", err
	}

	// Stale assistants from a crashed worker confuse the one-agent rule on
	// the fabric side; kicking them before we join is best effort.
	if _, err := r.fab.EnsureCleanRoom(ctx, roomName); err != nil {
		slog.Warn("room pre-clean failed", "room", roomName, "error", err)
	}

	metrics.JobsTotal.WithLabelValues("accepted").Inc()
	r.publishDecision(job.Id, roomName, true, "")

	identity := r.cfg.Worker.AgentName + "-" + id.Suffix(6)
	return identity, r.cfg.Agent.PrimaryName, nil
}

// Abandon releases the room claimed by Accept when no assignment followed.
func (r *Runner) Abandon(job *livekit.Job) {
	roomName := job.GetRoom().GetName()
	r.reg.UnassignRoom(roomName)
	metrics.JobsTotal.WithLabelValues("expired").Inc()
	slog.Info("released unassigned room", "job_id", job.Id, "room", roomName)
}

// Run joins the room and blocks until the session shuts down. The instance
// singleton carries conversation state across sessions of the same agent;
// what cleanup runs depends on why the session ended.
func (r *Runner) Run(ctx context.Context, job *livekit.Job, url, token string) error {
	roomName := job.GetRoom().GetName()

	inst, wasNew := r.reg.AcquireInstance(r.agentID)
	if !wasNew {
		inst.ResetForReconnect()
	}

	adapter := newRoomAdapter(roomName)
	done := make(chan struct{})

	sess, err := voice.NewSession(voice.SessionConfig{
		Room:     adapter,
		Instance: inst,
		Node:     r.node,
		Events:   r.events,
		Pipeline: voice.PipelineConfig{
			STT:             r.stt,
			TTS:             r.tts,
			Output:          voice.OutputOptions{TranscriptionEnabled: true, AudioEnabled: true},
			VADModelPath:    r.cfg.Worker.VADModelPath,
			SilenceDuration: r.cfg.Worker.SilenceDuration,
		},
		IdleTimeout: time.Duration(r.cfg.Agent.IdleTimeoutSeconds) * time.Second,
		OnShutdown: func(reason string) {
			r.cleanup(job.Id, roomName, inst, reason)
			close(done)
		},
	})
	if err != nil {
		r.reg.UnassignRoom(roomName)
		return fmt.Errorf("session for %s: %w", roomName, err)
	}

	if err := adapter.connect(url, token, sess); err != nil {
		r.reg.UnassignRoom(roomName)
		return fmt.Errorf("join %s: %w", roomName, err)
	}

	r.mu.Lock()
	r.sessions[job.Id] = sess
	r.mu.Unlock()

	sess.Start()

	select {
	case <-done:
	case <-ctx.Done():
		sess.Shutdown(voice.ReasonTerminated)
		<-done
	}
	return nil
}

// Terminate ends the session for a job, if it is still running.
func (r *Runner) Terminate(jobID string) {
	r.mu.Lock()
	sess := r.sessions[jobID]
	r.mu.Unlock()
	if sess != nil {
		sess.Shutdown(voice.ReasonTerminated)
	}
}

// cleanup applies the shutdown-reason contract. An abandoned conversation
// (humans left, idle timeout) releases the instance so the next session
// starts fresh; an administrative end keeps it acquirable for reconnect.
func (r *Runner) cleanup(jobID, roomName string, inst *voice.AgentInstance, reason string) {
	r.mu.Lock()
	delete(r.sessions, jobID)
	r.mu.Unlock()

	switch reason {
	case voice.ReasonLastHumanLeft, voice.ReasonIdleTimeout:
		inst.ResetForReconnect()
		r.reg.ReleaseInstance(r.agentID)
		r.reg.UnassignRoom(roomName)
	default:
		r.reg.UnassignRoom(roomName)
	}
	slog.Info("session cleaned up", "job_id", jobID, "room", roomName, "reason", reason)
}

// SessionCount reports active sessions for the ops endpoint.
func (r *Runner) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Runner) publishDecision(jobID, roomName string, accepted bool, reason string) {
	r.events.Publish(protocol.NewEnvelope(roomName, protocol.TypeJobDecision, protocol.JobDecision{
		JobID:    jobID,
		Room:     roomName,
		Accepted: accepted,
		Reason:   reason,
	}))
}
