package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/runtime"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loqa-polly %s (commit %s, built %s)\n", runtime.Version, runtime.GitCommit, runtime.BuildDate)
		},
	}
}
