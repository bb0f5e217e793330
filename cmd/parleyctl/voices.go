package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/adapters/speech"
)

// voicesCmd lists the synthesis voices the TTS service offers
func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List available TTS voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			tts := speech.NewTTS(cfg.TTS.URL, cfg.TTS.APIKey, cfg.TTS.Model, cfg.TTS.Voice)

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			voices, err := tts.Voices(ctx)
			if err != nil {
				return fmt.Errorf("failed to list voices: %w", err)
			}

			for _, v := range voices {
				marker := " "
				if v == cfg.TTS.Voice {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, v)
			}
			fmt.Printf("\n* configured voice (TTS_VOICE=%s)\n", cfg.TTS.Voice)

			return nil
		},
	}
}
