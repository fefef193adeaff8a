package main

import (
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/ui"
)

func newPasteCmd(root *rootOptions) *cobra.Command {
	opts := &sayOptions{}
	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Speak the clipboard contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := ui.PasteText(ui.SystemClipboard)
			if err != nil {
				return err
			}
			return runOneShot(cmd, root, opts, text)
		},
	}
	addSpeechFlags(cmd, opts)
	return cmd
}
