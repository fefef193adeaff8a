package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-polly/internal/eventstore"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	var events bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			storeCfg := cfg.EventStore
			switch storeCfg.RetentionMode {
			case "ephemeral":
				fmt.Fprintln(out, "history is disabled (event_store.retention_mode is ephemeral)")
				return nil
			case "session":
				// Opening in session mode clears the tables; a reader must not.
				storeCfg.RetentionMode = "persistent"
			}
			logger, _, closeLog, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			store, err := eventstore.Open(ctx, storeCfg, logger)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()

			reqs, err := store.ListRecentRequests(ctx, limit)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Fprintln(out, "no requests recorded")
				return nil
			}
			var evts map[string][]eventstore.Event
			if events {
				evts = make(map[string][]eventstore.Event, len(reqs))
				for _, r := range reqs {
					list, err := store.ListRequestEvents(ctx, r.ID, 0)
					if err != nil {
						return err
					}
					evts[r.ID] = list
				}
			}
			return printHistory(out, reqs, evts)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of requests to show")
	cmd.Flags().BoolVar(&events, "events", false, "include the steps recorded for each request")
	return cmd
}

func printHistory(out io.Writer, reqs []eventstore.Request, events map[string][]eventstore.Event) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tACTION\tVOICE\tSPEED\tMODE\tCHARS\tOUTCOME")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.ID, r.Action,
			orDash(r.Voice), speedCell(r.Speed), orDash(r.Mode), r.Chars, orDash(r.Outcome))
		for _, e := range events[r.ID] {
			fmt.Fprintf(tw, "  %s\t\t%s\t%s\t\t\t\t%s\n",
				e.CreatedAt.Local().Format(time.TimeOnly), e.Type, e.Outcome, e.Detail)
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func speedCell(speed int) string {
	if speed == 0 {
		return "-"
	}
	return fmt.Sprintf("%d%%", speed)
}
