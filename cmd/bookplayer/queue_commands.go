package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the sync task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueCountCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued sync tasks in drain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				tasks, err := queue.List(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(tasks))
				for i, task := range tasks {
					lastError := task.LastError
					if lastError != "" {
						lastError = warn(lastError, colorize)
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", i+1),
						string(task.JobType),
						task.RelativePath,
						fmt.Sprintf("%d", task.Attempts),
						formatAge(task.CreatedAt),
						lastError,
					})
				}
				headers := []string{"#", "Job", "Path", "Attempts", "Age", "Last Error"}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
}

func newQueueCountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of queued sync tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				count, err := queue.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all queued sync tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error {
				removed, err := queue.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s)\n", removed)
				return nil
			})
		},
	}
}

func formatAge(created time.Time) string {
	age := time.Since(created).Round(time.Second)
	if age < 0 {
		age = 0
	}
	return age.String()
}
