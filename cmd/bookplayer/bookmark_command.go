package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newBookmarkCommand(ctx *commandContext) *cobra.Command {
	bookmarkCmd := &cobra.Command{
		Use:   "bookmark",
		Short: "Manage playback bookmarks",
	}

	bookmarkCmd.AddCommand(newBookmarkAddCommand(ctx))
	bookmarkCmd.AddCommand(newBookmarkRemoveCommand(ctx))
	bookmarkCmd.AddCommand(newBookmarkListCommand(ctx))

	return bookmarkCmd
}

func newBookmarkAddCommand(ctx *commandContext) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "add <path> <seconds>",
		Short: "Save a bookmark at the given position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse position %q: %w", args[1], err)
			}
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				if err := lib.SetBookmark(cmd.Context(), strings.Trim(args[0], "/"), at, note); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bookmark saved at %s\n", formatDuration(at))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Optional note attached to the bookmark")
	return cmd
}

func newBookmarkRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path> <seconds>",
		Short: "Remove the bookmark at the given position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse position %q: %w", args[1], err)
			}
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				if err := lib.DeleteBookmark(cmd.Context(), strings.Trim(args[0], "/"), at); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Bookmark removed")
				return nil
			})
		},
	}
}

func newBookmarkListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List bookmarks for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				bookmarks, err := lib.Bookmarks(cmd.Context(), strings.Trim(args[0], "/"))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(bookmarks) == 0 {
					fmt.Fprintln(out, "No bookmarks")
					return nil
				}
				rows := make([][]string, 0, len(bookmarks))
				for _, bookmark := range bookmarks {
					rows = append(rows, []string{
						formatDuration(bookmark.Time),
						bookmark.Note,
						bookmark.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				headers := []string{"Position", "Note", "Created"}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
}
