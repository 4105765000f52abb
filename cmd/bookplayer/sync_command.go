package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bookplayer/internal/auth"
	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/reconciler"
	"bookplayer/internal/remote"
	"bookplayer/internal/syncqueue"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var skipSnapshot bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once and merge the remote snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				tokens, err := auth.Open(cfg)
				if err != nil {
					return err
				}
				defer tokens.Close()
				if _, err := tokens.Token(cmd.Context()); err != nil {
					if errors.Is(err, auth.ErrNoToken) {
						return errors.New("not logged in; run bookplayer login first")
					}
					return err
				}

				client := remote.NewClient(cfg, tokens)
				rec := reconciler.New(cfg, queue, lib, client)

				out := cmd.OutOrStdout()
				drained := 0
				for {
					done, err := rec.ProcessOnce(cmd.Context())
					if err != nil {
						return err
					}
					if !done {
						break
					}
					drained++
				}
				fmt.Fprintf(out, "Drained %d task(s)\n", drained)

				remaining, err := queue.Count(cmd.Context())
				if err != nil {
					return err
				}
				if remaining > 0 {
					fmt.Fprintf(out, "%d task(s) still queued; run bookplayer queue list for details\n", remaining)
					return nil
				}

				if !skipSnapshot {
					if err := rec.RefreshSnapshot(cmd.Context()); err != nil {
						return fmt.Errorf("merge remote snapshot: %w", err)
					}
					fmt.Fprintln(out, "Remote snapshot merged")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&skipSnapshot, "no-snapshot", false, "Skip merging the remote snapshot after draining")
	return cmd
}
