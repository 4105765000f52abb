package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newMkdirCommand(ctx *commandContext) *cobra.Command {
	var parent string
	var bound bool

	cmd := &cobra.Command{
		Use:   "mkdir <title>",
		Short: "Create a folder or a bound multi-part volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				kind := library.KindFolder
				if bound {
					kind = library.KindBound
				}
				folder, err := lib.CreateFolder(cmd.Context(), args[0], strings.Trim(parent, "/"), kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s\n", kind, folder.RelativePath)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&parent, "in", "", "Parent folder relative path")
	cmd.Flags().BoolVar(&bound, "bound", false, "Create a bound volume instead of a plain folder")
	return cmd
}

func newMvCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path>... <folder>",
		Short: "Move items into a folder (or to the library root with \"\")",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args[:len(args)-1]
			destination := strings.Trim(args[len(args)-1], "/")
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				if err := lib.Move(cmd.Context(), sources, destination); err != nil {
					return err
				}
				target := destination
				if target == "" {
					target = "library root"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %d item(s) to %s\n", len(sources), target)
				return nil
			})
		},
	}
}

func newRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <folder> <new-title>",
		Short: "Rename a folder, rekeying its whole subtree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				newPath, err := lib.RenameFolder(cmd.Context(), strings.Trim(args[0], "/"), args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed to %s\n", newPath)
				return nil
			})
		},
	}
}

func newRmCommand(ctx *commandContext) *cobra.Command {
	var shallow bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete an item and its backing files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				mode := library.DeleteDeep
				if shallow {
					mode = library.DeleteShallow
				}
				if err := lib.Delete(cmd.Context(), strings.Trim(args[0], "/"), mode); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&shallow, "shallow", false, "Remove the folder only, keeping its children")
	return cmd
}

func newFinishedCommand(ctx *commandContext) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "finished <path>",
		Short: "Mark an item finished, cascading to folder contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				if err := lib.SetFinished(cmd.Context(), strings.Trim(args[0], "/"), !unset); err != nil {
					return err
				}
				state := "finished"
				if unset {
					state = "unfinished"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s %s\n", args[0], state)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&unset, "unset", false, "Mark unfinished instead")
	return cmd
}

func newArtworkCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "artwork <path> <image-file>",
		Short: "Attach cover art to an item and queue its upload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				if err := lib.SetArtwork(cmd.Context(), strings.Trim(args[0], "/"), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Artwork queued for %s\n", args[0])
				return nil
			})
		},
	}
}
