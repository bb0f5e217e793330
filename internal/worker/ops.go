package worker

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/adapters/events"
	"github.com/parleyhq/parley/internal/adapters/speech"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/pkg/otel"
)

// OpsServer is the worker's local HTTP listener: health, metrics, and the
// live event feed for the monitor.
type OpsServer struct {
	worker *Worker
	runner *Runner
	reg    *registry.Registry
	events *events.Broadcaster
	stt    *speech.STT
	tts    *speech.TTS
}

func NewOpsServer(w *Worker, r *Runner, reg *registry.Registry, ev *events.Broadcaster, stt *speech.STT, tts *speech.TTS) *OpsServer {
	return &OpsServer{worker: w, runner: r, reg: reg, events: ev, stt: stt, tts: tts}
}

func (o *OpsServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(otel.Middleware("parley-worker"))

	r.Get("/healthz", o.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/events", o.events.Handler())

	return r
}

func (o *OpsServer) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := struct {
		Status    string            `json:"status"`
		WorkerID  string            `json:"workerId,omitempty"`
		Jobs      int               `json:"jobs"`
		Sessions  int               `json:"sessions"`
		Rooms     map[string]string `json:"rooms"`
		Instances int               `json:"instances"`
		Consumers int               `json:"eventConsumers"`
		Breakers  map[string]string `json:"breakers"`
		Time      time.Time         `json:"time"`
	}{
		Status:    "ok",
		WorkerID:  o.worker.WorkerID(),
		Jobs:      o.worker.JobCount(),
		Sessions:  o.runner.SessionCount(),
		Rooms:     o.reg.Rooms(),
		Instances: o.reg.InstanceCount(),
		Consumers: o.events.Count(),
		Breakers: map[string]string{
			"stt": o.stt.BreakerState(),
			"tts": o.tts.BreakerState(),
		},
		Time: time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Debug("healthz encode failed", "error", err)
	}
}
