package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	sharedcfg "github.com/parleyhq/parley/shared/config"
)

// Config holds all configuration for the worker, gateway, and ctl
// processes. Everything is env-driven; there is no config file.
type Config struct {
	Agent   AgentConfig
	Fabric  FabricConfig
	LLM     LLMConfig
	STT     STTConfig
	TTS     TTSConfig
	Worker  WorkerConfig
	Gateway GatewayConfig
	Otel    OtelConfig
}

// AgentConfig describes the stateful agent service and the primary agent
// lock this deployment serves.
type AgentConfig struct {
	ServiceURL   string
	ServiceToken string // optional bearer token for the agent service
	PrimaryName  string // required; enforced by the agent lock
	PrimaryID    string // optional; if set, also enforced

	HybridStreaming    bool
	IdleTimeoutSeconds int
}

// FabricConfig holds the media fabric (LiveKit-compatible) connection.
type FabricConfig struct {
	URL       string // WebSocket URL (e.g., wss://localhost:7880)
	APIKey    string
	APISecret string
}

// LLMConfig holds the fast-path LLM provider configuration.
type LLMConfig struct {
	URL         string
	APIKey      string
	Model       string // mandatory; there is no safe default across providers
	MaxTokens   int
	Temperature float64
}

// STTConfig holds speech recognition configuration (Whisper-compatible).
type STTConfig struct {
	URL    string
	APIKey string
	Model  string // e.g., "whisper-large-v3"
}

// TTSConfig holds speech synthesis configuration.
type TTSConfig struct {
	URL    string
	APIKey string
	Model  string // e.g., "kokoro"
	Voice  string // e.g., "af_sarah"
}

// WorkerConfig holds the voice worker process configuration.
type WorkerConfig struct {
	AgentName       string        // name registered with the fabric dispatch API
	HTTPAddr        string        // ops listener (metrics, healthz)
	VADModelPath    string        // optional silero model; energy VAD when empty
	SilenceDuration time.Duration // silence that ends a turn on the energy detector
}

// GatewayConfig holds the HTTP control plane configuration.
type GatewayConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// OtelConfig holds tracing configuration.
type OtelConfig struct {
	Environment string
	Debug       bool // export spans to stdout
}

// DefaultAgentName is the well-known name workers register under and the
// gateway dispatches to.
const DefaultAgentName = "letta-voice-agent"

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ServiceURL:         "http://localhost:8283",
			HybridStreaming:    true,
			IdleTimeoutSeconds: 300,
		},
		Fabric: FabricConfig{
			URL: "ws://localhost:7880",
		},
		LLM: LLMConfig{
			URL:         "http://localhost:8000/v1",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		STT: STTConfig{
			URL:   "http://localhost:8001/v1",
			Model: "whisper-large-v3",
		},
		TTS: TTSConfig{
			URL:   "http://localhost:8001/v1",
			Model: "kokoro",
			Voice: "af_sarah",
		},
		Worker: WorkerConfig{
			AgentName:       DefaultAgentName,
			HTTPAddr:        ":8791",
			SilenceDuration: 800 * time.Millisecond,
		},
		Gateway: GatewayConfig{
			Host:        "0.0.0.0",
			Port:        8790,
			CORSOrigins: []string{"*"},
		},
	}
}

// Load reads configuration from the environment on top of the defaults.
// Callers pick the Validate variant for their process.
func Load() *Config {
	cfg := DefaultConfig()

	cfg.Agent.ServiceURL = sharedcfg.GetEnv("AGENT_SERVICE_URL", cfg.Agent.ServiceURL)
	cfg.Agent.ServiceToken = sharedcfg.GetEnv("AGENT_SERVICE_TOKEN", "")
	cfg.Agent.PrimaryName = sharedcfg.GetEnv("PRIMARY_AGENT_NAME", "")
	cfg.Agent.PrimaryID = sharedcfg.GetEnv("PRIMARY_AGENT_ID", "")
	cfg.Agent.HybridStreaming = sharedcfg.GetEnvBool("HYBRID_STREAMING", cfg.Agent.HybridStreaming)
	cfg.Agent.IdleTimeoutSeconds = sharedcfg.GetEnvInt("IDLE_TIMEOUT_SECONDS", cfg.Agent.IdleTimeoutSeconds)

	cfg.Fabric.URL = sharedcfg.GetEnv("FABRIC_URL", cfg.Fabric.URL)
	cfg.Fabric.APIKey = sharedcfg.GetEnv("FABRIC_API_KEY", "")
	cfg.Fabric.APISecret = sharedcfg.GetEnv("FABRIC_API_SECRET", "")

	cfg.LLM.URL = sharedcfg.GetEnv("LLM_URL", cfg.LLM.URL)
	cfg.LLM.APIKey = sharedcfg.GetEnv("LLM_API_KEY", "")
	cfg.LLM.Model = sharedcfg.GetEnv("LLM_MODEL", "")
	cfg.LLM.MaxTokens = sharedcfg.GetEnvInt("LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Temperature = sharedcfg.GetEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)

	cfg.STT.URL = sharedcfg.GetEnv("STT_URL", cfg.STT.URL)
	cfg.STT.APIKey = sharedcfg.GetEnv("STT_API_KEY", "")
	cfg.STT.Model = sharedcfg.GetEnv("STT_MODEL", cfg.STT.Model)

	cfg.TTS.URL = sharedcfg.GetEnv("TTS_URL", cfg.TTS.URL)
	cfg.TTS.APIKey = sharedcfg.GetEnv("TTS_API_KEY", "")
	cfg.TTS.Model = sharedcfg.GetEnv("TTS_MODEL", cfg.TTS.Model)
	cfg.TTS.Voice = sharedcfg.GetEnv("TTS_VOICE", cfg.TTS.Voice)

	cfg.Worker.AgentName = sharedcfg.GetEnv("WORKER_AGENT_NAME", cfg.Worker.AgentName)
	cfg.Worker.HTTPAddr = sharedcfg.GetEnv("WORKER_HTTP_ADDR", cfg.Worker.HTTPAddr)
	cfg.Worker.VADModelPath = sharedcfg.GetEnv("VAD_MODEL_PATH", "")
	cfg.Worker.SilenceDuration = sharedcfg.GetEnvDuration("VAD_SILENCE_DURATION", cfg.Worker.SilenceDuration)

	cfg.Gateway.Host = sharedcfg.GetEnv("GATEWAY_HOST", cfg.Gateway.Host)
	cfg.Gateway.Port = sharedcfg.GetEnvInt("GATEWAY_PORT", cfg.Gateway.Port)
	cfg.Gateway.CORSOrigins = sharedcfg.GetEnvSlice("CORS_ORIGINS", cfg.Gateway.CORSOrigins)

	cfg.Otel.Environment = sharedcfg.GetEnv("ENVIRONMENT", "development")
	cfg.Otel.Debug = sharedcfg.GetEnvBool("OTEL_DEBUG", false)

	return cfg
}

// IsHybrid reports whether the LLM node runs the hybrid fast/slow mode.
func (c *Config) IsHybrid() bool {
	return c.Agent.HybridStreaming
}

// IsSileroConfigured reports whether a silero VAD model was provided.
func (c *Config) IsSileroConfigured() bool {
	return c.Worker.VADModelPath != ""
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks the settings every process relies on.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.ServiceURL == "" {
		errs = append(errs, "agent service URL is required")
	} else if !isValidURL(c.Agent.ServiceURL) {
		errs = append(errs, "agent service URL must be a valid URL")
	}

	if c.Fabric.URL == "" {
		errs = append(errs, "fabric URL is required")
	} else if !isValidURL(c.Fabric.URL) {
		errs = append(errs, "fabric URL must be a valid URL")
	}
	if c.Fabric.APIKey == "" || c.Fabric.APISecret == "" {
		errs = append(errs, "fabric API key and secret are required")
	}

	if c.Worker.AgentName == "" {
		errs = append(errs, "worker agent name must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWorker adds the voice-worker requirements on top of Validate.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []string

	if c.Agent.PrimaryName == "" {
		errs = append(errs, "PRIMARY_AGENT_NAME is required")
	}
	if c.Agent.IdleTimeoutSeconds < 1 {
		errs = append(errs, "idle timeout must be positive")
	}

	if c.LLM.Model == "" {
		errs = append(errs, "LLM_MODEL is required and has no default")
	}
	if c.LLM.URL == "" || !isValidURL(c.LLM.URL) {
		errs = append(errs, "LLM URL must be a valid URL")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "LLM temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM max_tokens must be positive")
	}

	if c.STT.URL != "" && !isValidURL(c.STT.URL) {
		errs = append(errs, "STT URL must be a valid URL")
	}
	if c.TTS.URL != "" && !isValidURL(c.TTS.URL) {
		errs = append(errs, "TTS URL must be a valid URL")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateGateway adds the HTTP control plane requirements on top of
// Validate.
func (c *Config) ValidateGateway() error {
	if err := c.Validate(); err != nil {
		return err
	}

	var errs []string

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway port must be between 1 and 65535")
	}
	if c.Gateway.Host == "" {
		errs = append(errs, "gateway host must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
