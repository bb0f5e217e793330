// The parley-worker process registers with the fabric as an agent worker,
// accepts room jobs, and runs the voice pipeline for each assigned room. It
// also hosts the ops endpoint and the room health monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/adapters/circuitbreaker"
	"github.com/parleyhq/parley/internal/adapters/events"
	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/internal/adapters/letta"
	"github.com/parleyhq/parley/internal/adapters/speech"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/monitor"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/voice"
	"github.com/parleyhq/parley/internal/worker"
	"github.com/parleyhq/parley/pkg/otel"
)

const (
	// CaptureSampleRate is the rate the fabric delivers Opus audio at.
	CaptureSampleRate = 48000
	// CaptureChannels is mono; the assistant only hears one human at a time.
	CaptureChannels = 1
)

// Version information (set via ldflags)
var version = "dev"

func main() {
	var showHelp bool
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message")
	flag.Parse()

	if showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg := config.Load()

	result, err := otel.Init(otel.Config{
		ServiceName: "parley-worker",
		Environment: cfg.Otel.Environment,
		Debug:       cfg.Otel.Debug,
	})
	if err != nil {
		slog.SetDefault(slog.New(otel.NewPrettyHandler()))
		slog.Warn("otel init failed, using stderr-only logger", "error", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			result.Shutdown(shutdownCtx)
		}()
		slog.SetDefault(result.Logger)
	}

	slog.Info("starting parley worker", "version", version)
	logConfig(cfg)

	if err := cfg.ValidateWorker(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	fab, err := fabric.New(fabric.Config{
		URL:       cfg.Fabric.URL,
		APIKey:    cfg.Fabric.APIKey,
		APISecret: cfg.Fabric.APISecret,
	})
	if err != nil {
		slog.Error("invalid fabric configuration", "error", err)
		os.Exit(1)
	}

	agents := letta.NewClient(cfg.Agent.ServiceURL, cfg.Agent.ServiceToken)

	// The worker is useless without its agent, so resolve before
	// registering with the fabric.
	resolveCtx, resolveCancel := context.WithTimeout(context.Background(), 15*time.Second)
	agentID, err := agents.ResolveAgentID(resolveCtx, cfg.Agent.PrimaryID, cfg.Agent.PrimaryName)
	resolveCancel()
	if err != nil {
		slog.Error("failed to resolve agent", "name", cfg.Agent.PrimaryName, "error", err)
		os.Exit(1)
	}
	slog.Info("agent resolved", "agent_id", agentID, "agent_name", cfg.Agent.PrimaryName)

	// One breaker for the whole agent service: the node's slow path and
	// every instance's memory sync share its failure budget.
	breaker := circuitbreaker.New(3, 30*time.Second)

	llmClient := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	node := voice.NewNode(llmClient, agents, breaker, cfg.IsHybrid())

	stt := speech.NewSTT(cfg.STT.URL, cfg.STT.APIKey, cfg.STT.Model, CaptureSampleRate, CaptureChannels)
	tts := speech.NewTTS(cfg.TTS.URL, cfg.TTS.APIKey, cfg.TTS.Model, cfg.TTS.Voice)

	reg := registry.New(func(id string) *voice.AgentInstance {
		return voice.NewInstance(id, cfg.Agent.PrimaryName, agents, breaker)
	})

	broadcaster := events.NewBroadcaster([]string{"*"})
	defer broadcaster.Close()

	runner := worker.NewRunner(cfg, fab, reg, node, stt, tts, broadcaster, agentID)
	w := worker.New(fab, runner, cfg.Worker.AgentName, version)
	mon := monitor.New(fab, reg, broadcaster, cfg.Worker.AgentName)
	ops := worker.NewOpsServer(w, runner, reg, broadcaster, stt, tts)

	ln, err := net.Listen("tcp", cfg.Worker.HTTPAddr)
	if err != nil {
		slog.Error("failed to bind ops endpoint", "addr", cfg.Worker.HTTPAddr, "error", err)
		os.Exit(2)
	}

	opsSrv := &http.Server{Handler: ops.Router(), ReadTimeout: 30 * time.Second}
	go func() {
		if err := opsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("ops endpoint stopped", "error", err)
		}
	}()
	slog.Info("ops endpoint listening", "addr", cfg.Worker.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil {
			slog.Error("worker stopped", "error", err)
			cancel()
		}
	}()
	go mon.Run(ctx)

	slog.Info("worker is running", "agent_name", cfg.Worker.AgentName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops shutdown incomplete", "error", err)
	}
	slog.Info("worker stopped")
}

func printHelp() {
	fmt.Println(`Parley Voice Worker

Registers with the fabric as an agent worker and runs the voice pipeline
(speech-to-text, agent reply, text-to-speech) for each assigned room.

Environment Variables:
  Fabric Connection:
    FABRIC_URL           Fabric server URL (default: ws://localhost:7880)
    FABRIC_API_KEY       Fabric API key (required)
    FABRIC_API_SECRET    Fabric API secret (required)

  Agent Service:
    AGENT_SERVICE_URL    Stateful agent service URL (default: http://localhost:8283)
    AGENT_SERVICE_TOKEN  Bearer token for the agent service (default: "")
    PRIMARY_AGENT_NAME   Agent to embody (required)
    PRIMARY_AGENT_ID     Agent id, skips the name lookup (default: "")
    HYBRID_STREAMING     Stream from the LLM directly, sync memory async (default: true)
    IDLE_TIMEOUT_SECONDS Session idle shutdown (default: 300)

  LLM (hybrid fast path):
    LLM_URL              OpenAI-compatible endpoint (default: http://localhost:8000/v1)
    LLM_API_KEY          API key (default: "")
    LLM_MODEL            Model name (required)
    LLM_MAX_TOKENS       Completion cap (default: 1024)
    LLM_TEMPERATURE      Sampling temperature (default: 0.7)

  Speech:
    STT_URL              Transcription endpoint (default: http://localhost:8001/v1)
    STT_API_KEY          API key (default: "")
    STT_MODEL            Model name (default: whisper-large-v3)
    TTS_URL              Synthesis endpoint (default: http://localhost:8001/v1)
    TTS_API_KEY          API key (default: "")
    TTS_MODEL            Model name (default: kokoro)
    TTS_VOICE            Voice name (default: af_sarah)

  Worker:
    WORKER_AGENT_NAME    Fabric registration name (default: letta-voice-agent)
    WORKER_HTTP_ADDR     Ops endpoint bind address (default: :8791)
    VAD_MODEL_PATH       Silero VAD model path; empty disables VAD (default: "")
    VAD_SILENCE_DURATION Silence that ends a turn, energy VAD only (default: 800ms)

  Observability:
    ENVIRONMENT          Deployment environment tag (default: development)
    OTEL_DEBUG           Export spans to stdout (default: false)

Usage:
  parley-worker [flags]

Flags:
  -h, -help  Show this help message`)
}

func logConfig(cfg *config.Config) {
	slog.Info("configuration",
		"fabric_url", cfg.Fabric.URL,
		"fabric_api_key", cfg.Fabric.APIKey,
		"fabric_api_secret", maskSecret(cfg.Fabric.APISecret),
		"agent_service_url", cfg.Agent.ServiceURL,
		"agent_service_token", maskSecret(cfg.Agent.ServiceToken),
		"primary_agent_name", cfg.Agent.PrimaryName,
		"hybrid_streaming", cfg.Agent.HybridStreaming,
		"idle_timeout_seconds", cfg.Agent.IdleTimeoutSeconds,
		"llm_url", cfg.LLM.URL,
		"llm_api_key", maskSecret(cfg.LLM.APIKey),
		"llm_model", cfg.LLM.Model,
		"stt_url", cfg.STT.URL,
		"stt_model", cfg.STT.Model,
		"tts_url", cfg.TTS.URL,
		"tts_voice", cfg.TTS.Voice,
		"agent_name", cfg.Worker.AgentName,
		"http_addr", cfg.Worker.HTTPAddr,
		"vad_model_path", cfg.Worker.VADModelPath,
	)
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
