package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/tts"
)

func newVoicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the available voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			def := configDefaults(cfg.Polly.DefaultVoice, cfg.Polly.DefaultSpeed, false).Voice
			out := cmd.OutOrStdout()
			for _, v := range tts.Voices() {
				marker := " "
				if v == def {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, v)
			}
			return nil
		},
	}
}
