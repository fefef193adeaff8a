package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/bus"
	"github.com/loqalabs/loqa-polly/internal/protocol"
)

func newSpeakersCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "List speaker daemons on the bus",
		Long:  `Ask a running daemon (bus.servers) which speakers it has seen.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			logger, _, closeLog, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			client, err := bus.Connect(cmd.Context(), cfg.Bus, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			var speakers []protocol.Speaker
			if err := client.RequestJSON(ctx, protocol.Subject(cfg.Bus.SubjectPrefix, protocol.SubjectPresenceQuery), nil, &speakers); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE\tHEALTHY\tPLAYBACK\tVOICES\tLAST SEEN")
			for _, s := range speakers {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.NodeID, s.Healthy, orDash(s.Playback),
					orDash(strings.Join(s.Voices, ",")), s.LastSeen.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for a reply")
	return cmd
}
