package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/importer"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var into string

	cmd := &cobra.Command{
		Use:   "import <path>...",
		Short: "Import audio files, directories, or zip archives into the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				imp := importer.New(cfg, lib)
				result, err := imp.ImportBatch(cmd.Context(), args, into)
				if errors.Is(err, importer.ErrNothingToImport) {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import")
					return nil
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, item := range result.Imported {
					fmt.Fprintf(out, "Imported %s -> %s\n", item.Title, item.RelativePath)
				}
				for _, skipped := range result.Skipped {
					fmt.Fprintf(out, "Skipped %s: %v\n", skipped.Source, skipped.Reason)
				}
				fmt.Fprintf(out, "%d imported, %d skipped\n", len(result.Imported), len(result.Skipped))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "Destination folder relative path")
	return cmd
}
