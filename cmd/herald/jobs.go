package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/kv"
	"github.com/xraph/herald/queue"
	redisstore "github.com/xraph/herald/store/redis"
)

func newJobsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair the job queue",
	}
	cmd.AddCommand(
		newJobsCountsCmd(flags),
		newJobsFailedCmd(flags),
		newJobsRetryCmd(flags),
		newJobsDiscardCmd(flags),
	)
	return cmd
}

// withQueue connects to the configured store and runs fn against a queue
// with no workers.
func withQueue(ctx context.Context, flags *rootFlags, fn func(*queue.Queue) error) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	q, closeFn, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(q)
}

func openQueue(ctx context.Context, cfg herald.Config, logger *slog.Logger) (*queue.Queue, func(), error) {
	store := kv.New(cfg.Redis.URL,
		kv.WithLogger(logger),
		kv.WithOpTimeout(cfg.Redis.OpTimeout),
		kv.WithDialRetries(cfg.Redis.DialRetries),
	)
	if err := store.Connect(ctx); err != nil {
		return nil, nil, err
	}
	q := queue.New(redisstore.New(store.Client(), redisstore.WithLogger(logger)), job.NewRegistry(),
		queue.WithLogger(logger),
		queue.WithRetention(dlq.Retention{
			MaxEntries: cfg.Queue.FailedRetention.MaxEntries,
			MaxAge:     cfg.Queue.FailedRetention.MaxAge,
		}),
	)
	return q, func() { _ = store.Disconnect() }, nil
}

func newJobsCountsCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print waiting, active, delayed, completed and failed counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), flags, func(q *queue.Queue) error {
				counts, err := q.Counts(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), counts)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "waiting\t%d\n", counts.Waiting)
				fmt.Fprintf(w, "active\t%d\n", counts.Active)
				fmt.Fprintf(w, "delayed\t%d\n", counts.Delayed)
				fmt.Fprintf(w, "completed\t%d\n", counts.Completed)
				fmt.Fprintf(w, "failed\t%d\n", counts.Failed)
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newJobsFailedCmd(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		offset int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List failed jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), flags, func(q *queue.Queue) error {
				entries, err := q.Failed(cmd.Context(), dlq.ListOpts{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				return printFailed(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printFailed(out io.Writer, entries []*dlq.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tTYPE\tEMAIL\tATTEMPTS\tFAILED AT\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.JobID, e.Type, e.Email, e.Attempts, e.MaxAttempts,
			e.FailedAt.Local().Format(time.DateTime), e.Error)
	}
	return w.Flush()
}

func newJobsRetryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Move a failed job back to waiting with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			return withQueue(cmd.Context(), flags, func(q *queue.Queue) error {
				j, err := q.Retry(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "retried %s (%s to %s)\n", j.ID, j.Type, j.Email)
				return nil
			})
		},
	}
}

func newJobsDiscardCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <job-id>",
		Short: "Drop a failed job permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}
			return withQueue(cmd.Context(), flags, func(q *queue.Queue) error {
				if err := q.Discard(cmd.Context(), jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", jobID)
				return nil
			})
		},
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
