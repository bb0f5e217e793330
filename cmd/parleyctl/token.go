package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// tokenCmd mints a room join token
func tokenCmd() *cobra.Command {
	var room, identity string
	var ttlHours int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a room join token",
		Long:  `Mint a fabric access token for joining a room from a client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttlHours < 1 || ttlHours > 168 {
				return fmt.Errorf("ttl must be between 1 and 168 hours")
			}

			fab, err := newFabric()
			if err != nil {
				return err
			}

			token, err := fab.ParticipantToken(room, identity, identity, time.Duration(ttlHours)*time.Hour)
			if err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}

			fmt.Printf("Room:     %s\n", room)
			fmt.Printf("Identity: %s\n", identity)
			fmt.Printf("URL:      %s\n", fab.URL())
			fmt.Printf("Token:    %s\n", token)

			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", "test-room", "Room name")
	cmd.Flags().StringVar(&identity, "identity", "user1", "Participant identity")
	cmd.Flags().IntVar(&ttlHours, "ttl", 24, "Token lifetime in hours (max 168)")

	return cmd
}
