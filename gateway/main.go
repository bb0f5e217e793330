// The parley-gateway process is the browser's entry point: it serves the
// voice selector page, mints room tokens, dispatches the agent, proxies the
// agent service API, and feeds ops events to monitors.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/adapters/events"
	"github.com/parleyhq/parley/internal/adapters/fabric"
	"github.com/parleyhq/parley/internal/adapters/letta"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/pkg/otel"
)

func main() {
	cfg := config.Load()

	result, err := otel.Init(otel.Config{
		ServiceName: "parley-gateway",
		Environment: cfg.Otel.Environment,
		Debug:       cfg.Otel.Debug,
	})
	if err != nil {
		slog.SetDefault(slog.New(otel.NewPrettyHandler()))
		slog.Error("failed to initialize opentelemetry", "error", err)
	} else {
		slog.SetDefault(result.Logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			result.Shutdown(shutdownCtx)
		}()
	}

	if err := cfg.ValidateGateway(); err != nil {
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
	broadcaster := events.NewBroadcaster(cfg.Gateway.CORSOrigins)
	defer broadcaster.Close()

	srv := newServer(cfg, newRouter(cfg, fab, agents, broadcaster))

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		slog.Error("failed to bind", "addr", srv.Addr, "error", err)
		os.Exit(2)
	}

	slog.Info("gateway listening",
		"addr", srv.Addr,
		"fabric", cfg.Fabric.URL,
		"agent_service", cfg.Agent.ServiceURL,
		"agent_name", cfg.Worker.AgentName)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}
}
