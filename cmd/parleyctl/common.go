package main

import (
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/internal/adapters/letta"
	"github.com/parleyhq/parley/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var cfg *config.Config

const requestTimeout = 10 * time.Second

// newFabric builds a fabric admin client for CLI commands.
func newFabric() (*fabric.Client, error) {
	fab, err := fabric.New(fabric.Config{
		URL:       cfg.Fabric.URL,
		APIKey:    cfg.Fabric.APIKey,
		APISecret: cfg.Fabric.APISecret,
	})
	if err != nil {
		return nil, fmt.Errorf("fabric connection required (set FABRIC_URL, FABRIC_API_KEY, FABRIC_API_SECRET): %w", err)
	}
	return fab, nil
}

// newAgents builds a client for the stateful agent service.
func newAgents() *letta.Client {
	return letta.NewClient(cfg.Agent.ServiceURL, cfg.Agent.ServiceToken)
}

// maskSecret masks sensitive values for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
