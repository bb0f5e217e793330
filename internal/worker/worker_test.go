package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/parleyhq/parley/internal/adapters/fabric"
)

type fakeHandler struct {
	acceptErr  error
	accepted   chan *livekit.Job
	abandoned  chan *livekit.Job
	ran        chan string // assignment tokens
	terminated chan string
	runErr     error
	release    chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		accepted:   make(chan *livekit.Job, 4),
		abandoned:  make(chan *livekit.Job, 4),
		ran:        make(chan string, 4),
		terminated: make(chan string, 4),
		release:    make(chan struct{}),
	}
}

func (h *fakeHandler) Accept(ctx context.Context, job *livekit.Job) (string, string, error) {
	if h.acceptErr != nil {
		return "", "", h.acceptErr
	}
	h.accepted <- job
	return "sage-abc123", "Sage", nil
}

func (h *fakeHandler) Abandon(job *livekit.Job) {
	h.abandoned <- job
}

func (h *fakeHandler) Run(ctx context.Context, job *livekit.Job, url, token string) error {
	h.ran <- token
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return h.runErr
}

func (h *fakeHandler) Terminate(jobID string) {
	h.terminated <- jobID
}

// fabricServer accepts one agent socket and hands the server-side conn to
// the test to drive the protocol.
type fabricServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	auth  chan string
}

func newFabricServer(t *testing.T) *fabricServer {
	t.Helper()
	fs := &fabricServer{
		conns: make(chan *websocket.Conn, 2),
		auth:  make(chan string, 2),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", func(w http.ResponseWriter, r *http.Request) {
		fs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fs.conns <- conn
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fabricServer) client(t *testing.T) *fabric.Client {
	t.Helper()
	fab, err := fabric.New(fabric.Config{
		URL:       fs.srv.URL,
		APIKey:    "devkey",
		APISecret: "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("fabric client: %v", err)
	}
	return fab
}

func (fs *fabricServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("worker never connected")
		return nil
	}
}

func readWorkerMessage(t *testing.T, conn *websocket.Conn) *livekit.WorkerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read worker message: %v", err)
	}
	var msg livekit.WorkerMessage
	if err := proto.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal worker message: %v", err)
	}
	return &msg
}

func writeServerMessage(t *testing.T, conn *websocket.Conn, msg *livekit.ServerMessage) {
	t.Helper()
	data, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal server message: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write server message: %v", err)
	}
}

// awaitJobStatus reads until an UpdateJob with the wanted status, skipping
// pings and worker status updates.
func awaitJobStatus(t *testing.T, conn *websocket.Conn, jobID string, status livekit.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readWorkerMessage(t, conn)
		update, ok := msg.Message.(*livekit.WorkerMessage_UpdateJob)
		if !ok {
			continue
		}
		if update.UpdateJob.JobId != jobID {
			continue
		}
		if update.UpdateJob.Status == status {
			return
		}
	}
	t.Fatalf("never saw job %s reach %s", jobID, status)
}

func registerWorker(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	msg := readWorkerMessage(t, conn)
	reg, ok := msg.Message.(*livekit.WorkerMessage_Register)
	if !ok {
		t.Fatalf("first message = %T, want register", msg.Message)
	}
	if reg.Register.Type != livekit.JobType_JT_ROOM {
		t.Errorf("job type = %v, want JT_ROOM", reg.Register.Type)
	}
	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Register{
			Register: &livekit.RegisterWorkerResponse{WorkerId: "W_test"},
		},
	})
}

func testJob(id, room string) *livekit.Job {
	return &livekit.Job{
		Id:   id,
		Type: livekit.JobType_JT_ROOM,
		Room: &livekit.Room{Name: room},
	}
}

func TestWorker_RegisterAcceptAssign(t *testing.T) {
	fs := newFabricServer(t)
	handler := newFakeHandler()
	w := New(fs.client(t), handler, "sage", "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	conn := fs.accept(t)
	if auth := <-fs.auth; !strings.HasPrefix(auth, "Bearer ") {
		t.Errorf("authorization = %q, want bearer token", auth)
	}
	registerWorker(t, conn)

	job := testJob("job-1", "room-1")
	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Availability{
			Availability: &livekit.AvailabilityRequest{Job: job},
		},
	})

	select {
	case got := <-handler.accepted:
		if got.Id != "job-1" {
			t.Errorf("accepted job %s, want job-1", got.Id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the job")
	}

	var avail *livekit.AvailabilityResponse
	for avail == nil {
		msg := readWorkerMessage(t, conn)
		if m, ok := msg.Message.(*livekit.WorkerMessage_Availability); ok {
			avail = m.Availability
		}
	}
	if !avail.Available || avail.JobId != "job-1" {
		t.Fatalf("availability = %+v, want available job-1", avail)
	}
	if avail.ParticipantIdentity != "sage-abc123" {
		t.Errorf("identity = %q", avail.ParticipantIdentity)
	}

	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Assignment{
			Assignment: &livekit.JobAssignment{Job: job, Token: "room-token"},
		},
	})

	select {
	case token := <-handler.ran:
		if token != "room-token" {
			t.Errorf("run token = %q", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler.Run never started")
	}
	awaitJobStatus(t, conn, "job-1", livekit.JobStatus_JS_RUNNING)

	close(handler.release)
	awaitJobStatus(t, conn, "job-1", livekit.JobStatus_JS_SUCCESS)

	cancel()
	conn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never stopped")
	}
}

func TestWorker_RejectedJobAnswersUnavailable(t *testing.T) {
	fs := newFabricServer(t)
	handler := newFakeHandler()
	handler.acceptErr = errors.New("room already served")
	w := New(fs.client(t), handler, "sage", "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := fs.accept(t)
	<-fs.auth
	registerWorker(t, conn)

	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Availability{
			Availability: &livekit.AvailabilityRequest{Job: testJob("job-2", "room-2")},
		},
	})

	for {
		msg := readWorkerMessage(t, conn)
		m, ok := msg.Message.(*livekit.WorkerMessage_Availability)
		if !ok {
			continue
		}
		if m.Availability.Available {
			t.Error("rejected job reported as available")
		}
		if m.Availability.JobId != "job-2" {
			t.Errorf("job id = %q", m.Availability.JobId)
		}
		return
	}
}

func TestWorker_MissedAssignmentAbandonsJob(t *testing.T) {
	old := assignmentTimeout
	assignmentTimeout = 50 * time.Millisecond
	defer func() { assignmentTimeout = old }()

	fs := newFabricServer(t)
	handler := newFakeHandler()
	w := New(fs.client(t), handler, "sage", "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := fs.accept(t)
	<-fs.auth
	registerWorker(t, conn)

	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Availability{
			Availability: &livekit.AvailabilityRequest{Job: testJob("job-3", "room-3")},
		},
	})
	<-handler.accepted

	select {
	case job := <-handler.abandoned:
		if job.Id != "job-3" {
			t.Errorf("abandoned %s, want job-3", job.Id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job was never abandoned")
	}

	// A late assignment for the expired job must not start a session.
	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Assignment{
			Assignment: &livekit.JobAssignment{Job: testJob("job-3", "room-3"), Token: "late"},
		},
	})
	select {
	case <-handler.ran:
		t.Fatal("expired assignment started a session")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWorker_TerminationForwarded(t *testing.T) {
	fs := newFabricServer(t)
	handler := newFakeHandler()
	w := New(fs.client(t), handler, "sage", "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	conn := fs.accept(t)
	<-fs.auth
	registerWorker(t, conn)

	writeServerMessage(t, conn, &livekit.ServerMessage{
		Message: &livekit.ServerMessage_Termination{
			Termination: &livekit.JobTermination{JobId: "job-4"},
		},
	})

	select {
	case id := <-handler.terminated:
		if id != "job-4" {
			t.Errorf("terminated %s, want job-4", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("termination never forwarded")
	}
}

func TestAgentSocketURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:7880", "ws://localhost:7880/agent"},
		{"https://fabric.example.com", "wss://fabric.example.com/agent"},
		{"ws://localhost:7880", "ws://localhost:7880/agent"},
		{"wss://fabric.example.com/", "wss://fabric.example.com/agent"},
	}
	for _, tc := range cases {
		if got := agentSocketURL(tc.base); got != tc.want {
			t.Errorf("agentSocketURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
