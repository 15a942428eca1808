package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/services/streams"
)

func newStreamsCommand(ctx *commandContext) *cobra.Command {
	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "Look up and prune cached streams",
	}
	streamsCmd.AddCommand(newStreamsGetCommand(ctx))
	streamsCmd.AddCommand(newStreamsPruneCommand(ctx))
	return streamsCmd
}

func newStreamsGetCommand(ctx *commandContext) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "get <movie|series> <id>",
		Short: "Show streams for a title, fetching from providers when stale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := contentKeyFromArgs(cmd, args)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				res, err := a.Streams.Lookup(cmd.Context(), key, streams.LookupOptions{Refresh: refresh})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, res)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderLookup(res))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cached records and ask the providers")
	addPositionFlags(cmd)
	return cmd
}

func renderLookup(res *streams.Result) string {
	source := "providers"
	if res.FromCache {
		source = "cache"
	}
	summary := fmt.Sprintf("%s: %d streams from %s", res.Key, len(res.Streams), source)
	if res.Provider != "" {
		summary += " (" + res.Provider + ")"
	}
	if res.ProviderError != "" {
		summary += ", provider error: " + res.ProviderError
	}
	if len(res.Streams) == 0 {
		return summary
	}

	rows := make([][]string, 0, len(res.Streams))
	for i, s := range res.Streams {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(s.Quality),
			orDash(s.Size),
			orDash(s.Provider),
			s.Hash,
			orDash(s.Title),
		})
	}
	return summary + "\n" + renderTable(
		[]string{"#", "Quality", "Size", "Provider", "Hash", "Title"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func newStreamsPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop expired stream records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				res, err := a.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"streams": res.Streams})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s stream records (ttl %s)\n",
					humanize.Comma(res.Streams), a.Settings.StreamTTL())
				return nil
			})
		},
	}
}
