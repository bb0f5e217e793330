package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// agentsCmd lists agents on the stateful agent service
func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents on the agent service",
		RunE: func(cmd *cobra.Command, args []string) error {
			agents := newAgents()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			list, err := agents.ListAgents(ctx)
			if err != nil {
				return fmt.Errorf("failed to list agents: %w", err)
			}
			if len(list) == 0 {
				fmt.Println("No agents found.")
				return nil
			}

			for _, a := range list {
				marker := " "
				if a.Name == cfg.Agent.PrimaryName || a.ID == cfg.Agent.PrimaryID {
					marker = "*"
				}
				fmt.Printf("%s %-24s %s\n", marker, a.Name, a.ID)
			}
			if cfg.Agent.PrimaryName != "" {
				fmt.Printf("\n* primary agent (PRIMARY_AGENT_NAME=%s)\n", cfg.Agent.PrimaryName)
			}

			return nil
		},
	}
}

// statusCmd checks the deployment's upstream services
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check fabric and agent service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			healthy := true

			fab, err := newFabric()
			if err != nil {
				return err
			}
			if latency, err := fab.Ping(ctx); err != nil {
				fmt.Printf("fabric:        DOWN (%v)\n", err)
				healthy = false
			} else {
				fmt.Printf("fabric:        ok (%s)\n", latency.Round(time.Millisecond))
			}

			agents := newAgents()
			start := time.Now()
			if err := agents.Healthy(ctx); err != nil {
				fmt.Printf("agent service: DOWN (%v)\n", err)
				healthy = false
			} else {
				fmt.Printf("agent service: ok (%s)\n", time.Since(start).Round(time.Millisecond))
			}

			if !healthy {
				return fmt.Errorf("one or more services are down")
			}
			return nil
		},
	}
}
