package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/models"
)

func newHashlistCommand(ctx *commandContext) *cobra.Command {
	hashlistCmd := &cobra.Command{
		Use:   "hashlist",
		Short: "Manage the local hashlist of played releases",
	}
	hashlistCmd.AddCommand(newHashlistFindCommand(ctx))
	hashlistCmd.AddCommand(newHashlistAddCommand(ctx))
	hashlistCmd.AddCommand(newHashlistExportCommand(ctx))
	hashlistCmd.AddCommand(newHashlistImportCommand(ctx))
	return hashlistCmd
}

func newHashlistFindCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <external-id>",
		Short: "List hashes recorded for a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			season, episode, err := positionFlags(cmd)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				entries, err := a.Hashlist.FindByExternalID(args[0], season, episode)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if entries == nil {
						entries = []models.HashlistEntry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintf(out, "No hashes recorded for %s\n", args[0])
					return nil
				}
				fmt.Fprintln(out, renderHashlistTable(entries))
				return nil
			})
		},
	}
	addPositionFlags(cmd)
	return cmd
}

func renderHashlistTable(entries []models.HashlistEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Hash,
			string(e.Quality),
			humanize.IBytes(uint64(max(e.Bytes, 0))),
			strconv.Itoa(e.UseCount),
			humanize.Time(e.LastUsedAt),
			orDash(e.Filename),
		})
	}
	return renderTable(
		[]string{"Hash", "Quality", "Size", "Uses", "Last Used", "Filename"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	)
}

func newHashlistAddCommand(ctx *commandContext) *cobra.Command {
	var entry models.HashlistEntry
	cmd := &cobra.Command{
		Use:   "add <hash>",
		Short: "Record a played hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry.Hash = args[0]
			var err error
			if entry.Season, entry.Episode, err = positionFlags(cmd); err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				accepted, err := a.Hashlist.AddHash(entry)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]bool{"accepted": accepted})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s\n", entry.Hash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entry.Filename, "filename", "", "Release file name")
	cmd.Flags().Int64Var(&entry.Bytes, "bytes", 0, "File size in bytes")
	cmd.Flags().StringVar(&entry.ExternalID, "external-id", "", "Title id to index the hash under")
	cmd.Flags().StringVar(&entry.MediaType, "type", "", "Media type (movie or series)")
	addPositionFlags(cmd)
	return cmd
}

func newHashlistExportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the compressed hashlist export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				blob, err := a.Hashlist.ExportCompressed(cmd.Context())
				if err != nil {
					return err
				}
				if outputPath == "" || outputPath == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), blob)
					return err
				}
				if err := os.WriteFile(outputPath, []byte(blob), 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%s)\n", outputPath, humanize.Bytes(uint64(len(blob))))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newHashlistImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Merge a compressed hashlist export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app.App) error {
				n, err := a.Hashlist.ImportCompressed(cmd.Context(), string(blob))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"imported": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries\n", n)
				return nil
			})
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
