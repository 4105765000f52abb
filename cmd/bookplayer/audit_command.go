package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookplayer/internal/audit"
	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var orphansOnly bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Scan the processed directory for orphaned files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				scanner := audit.New(cfg, lib)
				items, err := scanner.Scan(cmd.Context())
				if err != nil {
					return err
				}

				orphans := 0
				for _, item := range items {
					if item.ShowWarning {
						orphans++
					}
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					if orphansOnly && !item.ShowWarning {
						continue
					}
					status := "ok"
					if item.ShowWarning {
						status = warn("orphan", colorize)
					}
					rows = append(rows, []string{
						item.Path,
						formatSize(item.Size),
						status,
					})
				}
				if len(rows) > 0 {
					headers := []string{"Path", "Size", "Status"}
					aligns := []columnAlignment{alignLeft, alignRight, alignLeft}
					fmt.Fprintln(out, renderTable(headers, rows, aligns))
				}
				fmt.Fprintf(out, "%d entries scanned, %d orphaned\n", len(items), orphans)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&orphansOnly, "orphans", false, "Show only orphaned entries")
	return cmd
}
