package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/controller"
	"github.com/loqalabs/loqa-polly/internal/ui"
)

func newCredentialsCmd(root *rootOptions) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Enter and verify Polly credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if save {
				cfg.Credentials.PersistOnUpdate = true
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, cfg, os.Stderr, ui.TerminalPrompter{}, &ui.ConsoleNotifier{Out: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.components.Controller.UpdateCredentials(ctx)
			if errors.Is(err, controller.ErrCancelled) {
				// The notifier already reported the cancel.
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write verified credentials to credentials.path")
	return cmd
}
