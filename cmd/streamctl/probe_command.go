package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/providers"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <movie|series> <id>",
		Short: "Ask every enabled provider directly and report what each returns",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := contentKeyFromArgs(cmd, args)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				results, err := a.Providers.Probe(cmd.Context(), providers.RequestFor(key), a.Acquirer)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, results)
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "No providers enabled")
					return nil
				}
				fmt.Fprintln(out, renderProbe(results))
				return nil
			})
		},
	}
	addPositionFlags(cmd)
	return cmd
}

func renderProbe(results []providers.ProbeResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if r.Error != "" {
			status = r.Kind
		}
		rows = append(rows, []string{
			r.Provider,
			status,
			strconv.Itoa(r.Streams),
			strconv.Itoa(r.Usable),
			r.Elapsed.Round(time.Millisecond).String(),
		})
	}
	return renderTable(
		[]string{"Provider", "Status", "Streams", "Usable", "Time"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}
