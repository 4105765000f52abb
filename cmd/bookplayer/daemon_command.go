package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bookplayer/internal/auth"
	"bookplayer/internal/daemon"
	"bookplayer/internal/events"
	"bookplayer/internal/importer"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
	"bookplayer/internal/notifications"
	"bookplayer/internal/reconciler"
	"bookplayer/internal/remote"
	"bookplayer/internal/syncqueue"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the inbox watcher and sync reconciler in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			defer bus.Close()

			queue, err := syncqueue.Open(cfg, syncqueue.WithLogger(logger), syncqueue.WithBus(bus))
			if err != nil {
				return err
			}
			lib, err := library.Open(cfg,
				library.WithTaskSink(queue),
				library.WithLogger(logger),
				library.WithBus(bus),
			)
			if err != nil {
				queue.Close()
				return err
			}

			tokens, err := auth.Open(cfg)
			if err != nil {
				queue.Close()
				lib.Close()
				return err
			}
			defer tokens.Close()

			client := remote.NewClient(cfg, tokens)
			rec := reconciler.New(cfg, queue, lib, client,
				reconciler.WithLogger(logger),
				reconciler.WithBus(bus),
			)

			imp := importer.New(cfg, lib,
				importer.WithLogger(logger),
				importer.WithBus(bus),
			)
			watcher := importer.NewWatcher(cfg, imp, logger)
			notifier := notifications.NewService(cfg)

			d, err := daemon.New(cfg, lib, queue, rec, watcher, notifier, bus, logger)
			if err != nil {
				queue.Close()
				lib.Close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon running; press Ctrl-C to stop")

			<-runCtx.Done()
			d.Stop()
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
			return nil
		},
	}
}
