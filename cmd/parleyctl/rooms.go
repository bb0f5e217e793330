package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/adapters/fabric"
)

// roomsCmd lists active rooms and their rosters
func roomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			fab, err := newFabric()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			rooms, err := fab.Rooms(ctx)
			if err != nil {
				return fmt.Errorf("failed to list rooms: %w", err)
			}
			if len(rooms) == 0 {
				fmt.Println("No active rooms.")
				return nil
			}

			for _, room := range rooms {
				participants, err := fab.Participants(ctx, room.Name)
				if err != nil {
					return fmt.Errorf("failed to list participants for %s: %w", room.Name, err)
				}
				humans, agents := fabric.SplitParticipants(participants)
				age := time.Since(time.Unix(room.CreationTime, 0)).Round(time.Second)

				fmt.Printf("%s  (%d humans, %d agents, up %s)\n", room.Name, len(humans), len(agents), age)
				for _, p := range participants {
					kind := "human"
					if fabric.IsAgentParticipant(p) {
						kind = "agent"
					}
					fmt.Printf("    %-6s %s\n", kind, p.Identity)
				}
			}

			return nil
		},
	}
}

// cleanCmd kicks stale agents out of a room, or deletes it outright
func cleanCmd() *cobra.Command {
	var deleteRoom bool

	cmd := &cobra.Command{
		Use:   "clean ROOM",
		Short: "Kick stale agents out of a room",
		Long: `Remove leftover agent participants from a room so a fresh dispatch
can claim it. With --delete the whole room is removed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room := args[0]

			fab, err := newFabric()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			if deleteRoom {
				if err := fab.DeleteRoom(ctx, room); err != nil {
					return fmt.Errorf("failed to delete room: %w", err)
				}
				fmt.Printf("Deleted room %s\n", room)
				return nil
			}

			existed, err := fab.EnsureCleanRoom(ctx, room)
			if err != nil {
				return fmt.Errorf("failed to clean room: %w", err)
			}
			if !existed {
				fmt.Printf("Room %s does not exist; nothing to clean\n", room)
				return nil
			}
			fmt.Printf("Room %s cleaned\n", room)

			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteRoom, "delete", false, "Delete the room instead of kicking agents")

	return cmd
}
