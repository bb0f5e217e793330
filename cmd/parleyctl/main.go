package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parleyctl",
		Short: "Parley - voice agent gateway CLI",
		Long: `Parley runs a stateful voice assistant on a media fabric.
This CLI inspects and drives a deployment: mint tokens, dispatch the
agent, list rooms and clean up after crashed workers.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			return nil
		},
	}

	rootCmd.AddCommand(
		tokenCmd(),
		dispatchCmd(),
		roomsCmd(),
		cleanCmd(),
		agentsCmd(),
		voicesCmd(),
		statusCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Fabric:")
			fmt.Printf("  URL:        %s\n", cfg.Fabric.URL)
			fmt.Printf("  API Key:    %s\n", maskSecret(cfg.Fabric.APIKey))
			fmt.Printf("  API Secret: %s\n", maskSecret(cfg.Fabric.APISecret))
			fmt.Println()

			fmt.Println("Agent Service:")
			fmt.Printf("  URL:          %s\n", cfg.Agent.ServiceURL)
			fmt.Printf("  Token:        %s\n", maskSecret(cfg.Agent.ServiceToken))
			fmt.Printf("  Primary Name: %s\n", cfg.Agent.PrimaryName)
			fmt.Printf("  Primary ID:   %s\n", cfg.Agent.PrimaryID)
			fmt.Printf("  Hybrid:       %v\n", cfg.Agent.HybridStreaming)
			fmt.Printf("  Idle Timeout: %ds\n", cfg.Agent.IdleTimeoutSeconds)
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("STT (Speech Recognition):")
			fmt.Printf("  URL:     %s\n", cfg.STT.URL)
			fmt.Printf("  Model:   %s\n", cfg.STT.Model)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.STT.APIKey))
			fmt.Println()

			fmt.Println("TTS (Text-to-Speech):")
			fmt.Printf("  URL:     %s\n", cfg.TTS.URL)
			fmt.Printf("  Model:   %s\n", cfg.TTS.Model)
			fmt.Printf("  Voice:   %s\n", cfg.TTS.Voice)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.TTS.APIKey))
			fmt.Println()

			fmt.Println("Worker:")
			fmt.Printf("  Agent Name: %s\n", cfg.Worker.AgentName)
			fmt.Printf("  HTTP Addr:  %s\n", cfg.Worker.HTTPAddr)
			fmt.Printf("  Silero VAD: %s\n", boolStatus(cfg.IsSileroConfigured()))
			fmt.Println()

			fmt.Println("Gateway:")
			fmt.Printf("  Host:         %s\n", cfg.Gateway.Host)
			fmt.Printf("  Port:         %d\n", cfg.Gateway.Port)
			fmt.Printf("  CORS Origins: %v\n", cfg.Gateway.CORSOrigins)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  FABRIC_URL, FABRIC_API_KEY, FABRIC_API_SECRET")
			fmt.Println("  AGENT_SERVICE_URL, AGENT_SERVICE_TOKEN, PRIMARY_AGENT_NAME, PRIMARY_AGENT_ID")
			fmt.Println("  HYBRID_STREAMING, IDLE_TIMEOUT_SECONDS")
			fmt.Println("  LLM_URL, LLM_API_KEY, LLM_MODEL, LLM_MAX_TOKENS, LLM_TEMPERATURE")
			fmt.Println("  STT_URL, STT_API_KEY, STT_MODEL")
			fmt.Println("  TTS_URL, TTS_API_KEY, TTS_MODEL, TTS_VOICE")
			fmt.Println("  WORKER_AGENT_NAME, WORKER_HTTP_ADDR, VAD_MODEL_PATH")
			fmt.Println("  GATEWAY_HOST, GATEWAY_PORT, CORS_ORIGINS")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Parley %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
