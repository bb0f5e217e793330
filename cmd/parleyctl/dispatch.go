package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// dispatchCmd sends the agent into a room
func dispatchCmd() *cobra.Command {
	var skipClean bool

	cmd := &cobra.Command{
		Use:   "dispatch ROOM",
		Short: "Dispatch the agent into a room",
		Long: `Ask the fabric to send the voice agent into a room. Stale agent
participants left by a crashed worker are kicked first unless
--skip-clean is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := args[0]

			fab, err := newFabric()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if !skipClean {
				existed, err := fab.EnsureCleanRoom(ctx, room)
				if err != nil {
					return fmt.Errorf("failed to prepare room: %w", err)
				}
				if existed {
					fmt.Printf("Room %s exists, stale agents cleared\n", room)
				}
			}

			dispatch, err := fab.CreateDispatch(ctx, room, cfg.Worker.AgentName)
			if err != nil {
				return fmt.Errorf("failed to dispatch agent: %w", err)
			}

			fmt.Printf("Dispatched %s to room %s\n", cfg.Worker.AgentName, room)
			fmt.Printf("Dispatch ID: %s\n", dispatch.Id)

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipClean, "skip-clean", false, "Do not kick stale agents before dispatching")

	return cmd
}
