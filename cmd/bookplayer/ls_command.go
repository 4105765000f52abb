package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newLsCommand(ctx *commandContext) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [folder]",
		Short: "List library items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := ""
			if len(args) == 1 {
				folder = strings.Trim(args[0], "/")
			}
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				items, err := collectItems(lib, folder, recursive)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Library is empty")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					sync := string(item.SyncStatus)
					if item.SyncStatus == library.SyncPending {
						sync = warn(sync, colorize)
					}
					rows = append(rows, []string{
						item.RelativePath,
						string(item.Kind),
						item.Title,
						formatDuration(item.Duration),
						fmt.Sprintf("%.0f%%", item.PercentCompleted),
						yesNo(item.IsFinished),
						sync,
					})
				}
				headers := []string{"Path", "Kind", "Title", "Duration", "Progress", "Finished", "Sync"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "R", false, "List the whole subtree instead of one level")
	return cmd
}

func collectItems(lib *library.Store, folder string, recursive bool) ([]library.Item, error) {
	if !recursive {
		return lib.Children(folder)
	}

	items := lib.List()
	if folder != "" {
		filtered := items[:0]
		for _, item := range items {
			if library.IsDescendantPath(item.RelativePath, folder) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RelativePath < items[j].RelativePath })
	return items, nil
}
