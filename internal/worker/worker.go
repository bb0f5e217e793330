// Package worker speaks the fabric's agent protocol: it registers this
// process as a room worker, answers job availability checks through the
// registry gate, and runs one voice session per assigned room.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/shared/backoff"
)

const (
	pingInterval   = 10 * time.Second
	sendTimeout    = 10 * time.Second
	workerTokenTTL = time.Hour
)

// assignmentTimeout bounds the wait between an accepted availability check
// and the job assignment; an expired job releases its room.
var assignmentTimeout = 10 * time.Second

// JobHandler owns the decision and execution side of jobs. The worker only
// moves protocol frames.
type JobHandler interface {
	// Accept gates one job request; on nil error the returned identity and
	// name are offered to the fabric.
	Accept(ctx context.Context, job *livekit.Job) (identity, name string, err error)
	// Abandon releases whatever Accept claimed, after the fabric never
	// delivered the assignment.
	Abandon(job *livekit.Job)
	// Run joins the room and blocks until the session ends.
	Run(ctx context.Context, job *livekit.Job, url, token string) error
	// Terminate ends the session for a job.
	Terminate(jobID string)
}

// Worker maintains the agent-protocol socket and its registration. Sessions
// are bound to the run context, not the socket: a reconnect re-registers
// without touching rooms already being served.
type Worker struct {
	fab       *fabric.Client
	handler   JobHandler
	agentName string
	version   string

	runCtx context.Context

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	workerID string
	pending  map[string]*time.Timer // job id -> assignment timer
	running  map[string]struct{}
}

func New(fab *fabric.Client, handler JobHandler, agentName, version string) *Worker {
	return &Worker{
		fab:       fab,
		handler:   handler,
		agentName: agentName,
		version:   version,
		pending:   make(map[string]*time.Timer),
		running:   make(map[string]struct{}),
	}
}

// Run keeps the worker registered until ctx ends, reconnecting with backoff
// on socket loss.
func (w *Worker) Run(ctx context.Context) error {
	w.runCtx = ctx
	return backoff.Forever(ctx, backoff.Persistent, func(ctx context.Context, attempt int) error {
		err := w.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("agent socket closed")
		}
		return err
	}, func(attempt int, err error, delay time.Duration) {
		slog.Warn("fabric socket lost, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)
	})
}

func (w *Worker) connectAndServe(ctx context.Context) error {
	token, err := w.fab.WorkerToken(w.agentName, workerTokenTTL)
	if err != nil {
		return fmt.Errorf("worker token: %w", err)
	}

	socketURL := agentSocketURL(w.fab.URL())
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", socketURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", socketURL, err)
	}

	w.setConn(conn)
	defer func() {
		w.setConn(nil)
		conn.Close()
	}()

	if err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Register{
			Register: &livekit.RegisterWorkerRequest{
				Type:      livekit.JobType_JT_ROOM,
				AgentName: w.agentName,
				Version:   w.version,
			},
		},
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go w.pingLoop(pingCtx)

	return w.readLoop(ctx, conn)
}

func (w *Worker) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg livekit.ServerMessage
		if err := proto.Unmarshal(data, &msg); err != nil {
			slog.Warn("undecodable server message", "error", err)
			continue
		}

		switch m := msg.Message.(type) {
		case *livekit.ServerMessage_Register:
			w.mu.Lock()
			w.workerID = m.Register.WorkerId
			jobCount := len(w.running)
			w.mu.Unlock()
			slog.Info("registered with fabric",
				"worker_id", m.Register.WorkerId, "agent_name", w.agentName)
			w.sendWorkerStatus(jobCount)

		case *livekit.ServerMessage_Availability:
			go w.handleAvailability(ctx, m.Availability)

		case *livekit.ServerMessage_Assignment:
			w.handleAssignment(m.Assignment)

		case *livekit.ServerMessage_Termination:
			if m.Termination != nil {
				slog.Info("job terminated by fabric", "job_id", m.Termination.JobId)
				w.handler.Terminate(m.Termination.JobId)
			}

		case *livekit.ServerMessage_Pong:
			// Liveness confirmed; nothing tracked beyond the read deadline.

		default:
		}
	}
}

func (w *Worker) handleAvailability(ctx context.Context, req *livekit.AvailabilityRequest) {
	job := req.GetJob()
	if job == nil {
		return
	}

	resp := &livekit.AvailabilityResponse{JobId: job.Id}
	identity, name, err := w.handler.Accept(ctx, job)
	if err != nil {
		slog.Info("job rejected",
			"job_id", job.Id, "room", job.GetRoom().GetName(), "reason", err)
	} else {
		resp.Available = true
		resp.ParticipantIdentity = identity
		resp.ParticipantName = name
		w.trackPending(job)
	}

	if err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_Availability{Availability: resp},
	}); err != nil {
		slog.Error("failed to answer availability", "job_id", job.Id, "error", err)
		if resp.Available {
			w.clearPending(job.Id)
			w.handler.Abandon(job)
		}
	}
}

// trackPending arms the assignment timeout for an accepted job.
func (w *Worker) trackPending(job *livekit.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[job.Id] = time.AfterFunc(assignmentTimeout, func() {
		w.mu.Lock()
		_, waiting := w.pending[job.Id]
		delete(w.pending, job.Id)
		w.mu.Unlock()
		if waiting {
			slog.Warn("assignment never arrived, releasing room",
				"job_id", job.Id, "room", job.GetRoom().GetName())
			w.handler.Abandon(job)
		}
	})
}

func (w *Worker) clearPending(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	timer, ok := w.pending[jobID]
	if ok {
		timer.Stop()
		delete(w.pending, jobID)
	}
	return ok
}

func (w *Worker) handleAssignment(a *livekit.JobAssignment) {
	job := a.GetJob()
	if job == nil {
		return
	}
	if !w.clearPending(job.Id) {
		slog.Warn("assignment for a job we never accepted", "job_id", job.Id)
		return
	}

	url := w.fab.URL()
	if a.Url != nil && *a.Url != "" {
		url = *a.Url
	}

	w.mu.Lock()
	w.running[job.Id] = struct{}{}
	jobCount := len(w.running)
	w.mu.Unlock()
	w.sendWorkerStatus(jobCount)
	w.updateJobStatus(job.Id, livekit.JobStatus_JS_RUNNING, "")

	go func() {
		err := w.handler.Run(w.runCtx, job, url, a.Token)

		w.mu.Lock()
		delete(w.running, job.Id)
		jobCount := len(w.running)
		w.mu.Unlock()
		w.sendWorkerStatus(jobCount)

		if err != nil {
			slog.Error("job failed", "job_id", job.Id, "error", err)
			w.updateJobStatus(job.Id, livekit.JobStatus_JS_FAILED, err.Error())
			return
		}
		w.updateJobStatus(job.Id, livekit.JobStatus_JS_SUCCESS, "")
	}()
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.send(&livekit.WorkerMessage{
				Message: &livekit.WorkerMessage_Ping{
					Ping: &livekit.WorkerPing{Timestamp: time.Now().UnixMilli()},
				},
			})
			if err != nil {
				slog.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (w *Worker) sendWorkerStatus(jobCount int) {
	err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateWorker{
			UpdateWorker: &livekit.UpdateWorkerStatus{
				Status:   livekit.WorkerStatus_WS_AVAILABLE.Enum(),
				JobCount: uint32(jobCount),
			},
		},
	})
	if err != nil {
		slog.Debug("worker status update failed", "error", err)
	}
}

func (w *Worker) updateJobStatus(jobID string, status livekit.JobStatus, errMsg string) {
	err := w.send(&livekit.WorkerMessage{
		Message: &livekit.WorkerMessage_UpdateJob{
			UpdateJob: &livekit.UpdateJobStatus{
				JobId:  jobID,
				Status: status,
				Error:  errMsg,
			},
		},
	})
	if err != nil {
		slog.Debug("job status update failed", "job_id", jobID, "error", err)
	}
}

func (w *Worker) setConn(conn *websocket.Conn) {
	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()
}

func (w *Worker) send(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal worker message: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("agent socket not connected")
	}
	w.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WorkerID reports the fabric-assigned id of the current registration.
func (w *Worker) WorkerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

// JobCount reports how many rooms this process is serving.
func (w *Worker) JobCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// agentSocketURL turns the fabric base URL into the agent protocol endpoint.
func agentSocketURL(base string) string {
	u := base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/agent"
}
