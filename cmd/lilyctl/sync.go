package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/lily/pkg/checkpoint"
	"github.com/Ramsey-B/lily/pkg/controller"
	"github.com/Ramsey-B/lily/pkg/models"
	"github.com/Ramsey-B/lily/pkg/redis"
	"github.com/Ramsey-B/lily/pkg/syncclient"
)

type syncOptions struct {
	*globalOptions
	limit          int
	restart        bool
	yes            bool
	checkpointFile string
	redisAddr      string
	redisPassword  string
	redisDB        int
	operator       string
}

func getSyncCmd(global *globalOptions) *cobra.Command {
	opts := &syncOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronizes the world church list into the directory",
		Long: `Requests POST /sync-world-churches page by page until the source is exhausted.

After every page the cumulative progress is written to a checkpoint. When a
run is interrupted (Ctrl-C, network failure, a 5xx from the service) the
checkpoint is kept and the next run offers to resume from it. Transient
failures (network errors, 429, 504) are retried with a growing backoff
before the run pauses.

The checkpoint lives in a local file by default. With --redis it is kept in
redis under one key per --operator so several machines share it.

Examples:
  lilyctl sync
  lilyctl sync --limit 2000 --yes
  lilyctl sync --restart
  lilyctl sync --redis localhost:6379 --operator alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 0, "source rows per page (server default when 0)")
	cmd.Flags().BoolVar(&opts.restart, "restart", false, "discard any stored checkpoint and start from offset 0")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "resume a stored checkpoint without asking")
	cmd.PersistentFlags().StringVar(&opts.checkpointFile, "checkpoint-file", "", "checkpoint file (default: <user config dir>/lily/sync-checkpoint.json)")
	cmd.PersistentFlags().StringVar(&opts.redisAddr, "redis", "", "keep the checkpoint in redis at host:port instead of a file")
	cmd.PersistentFlags().StringVar(&opts.redisPassword, "redis-password", "", "redis password")
	cmd.PersistentFlags().IntVar(&opts.redisDB, "redis-db", 0, "redis database number")
	cmd.PersistentFlags().StringVar(&opts.operator, "operator", "", "checkpoint owner when using redis (default: $USER)")

	cmd.AddCommand(getSyncStatusCmd(opts))
	cmd.AddCommand(getSyncResetCmd(opts))

	return cmd
}

func getSyncStatusCmd(opts *syncOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows the stored sync checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger()
			store, closeStore, err := opts.openStore(logger)
			if err != nil {
				return err
			}
			defer closeStore()

			cp, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			out := cmd.OutOrStdout()
			if cp == nil {
				fmt.Fprintln(out, "No sync in progress.")
				return nil
			}
			printCheckpoint(out, cp)
			return nil
		},
	}
}

func getSyncResetCmd(opts *syncOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discards the stored checkpoint and releases its session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := opts.logger()
			store, closeStore, err := opts.openStore(logger)
			if err != nil {
				return err
			}
			defer closeStore()

			cp, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}
			out := cmd.OutOrStdout()
			if cp == nil {
				fmt.Fprintln(out, "No sync in progress.")
				return nil
			}
			if cp.SessionID != "" {
				if err := opts.client(logger).ReleaseSession(ctx, cp.SessionID); err != nil {
					fmt.Fprintf(out, "Warning: could not release session %s: %v\n", cp.SessionID, err)
				}
			}
			if err := store.Delete(ctx); err != nil {
				return fmt.Errorf("failed to delete checkpoint: %w", err)
			}
			fmt.Fprintln(out, "Checkpoint discarded.")
			return nil
		},
	}
}

func runSync(ctx context.Context, cmd *cobra.Command, opts *syncOptions) error {
	logger := opts.logger()
	store, closeStore, err := opts.openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	out := cmd.OutOrStdout()
	var decide controller.Decider = controller.AlwaysResume
	if !opts.yes {
		decide = promptDecider(cmd.InOrStdin(), out)
	}

	// the bar starts after the resume prompt has been answered
	var bar *pb.ProgressBar
	ctrlOpts := controller.DefaultOptions()
	ctrlOpts.Limit = opts.limit
	ctrlOpts.Restart = opts.restart
	ctrlOpts.OnProgress = func(p controller.Progress) {
		if bar == nil {
			bar = newProgressBar()
		}
		reportProgress(bar, p)
	}

	summary, runErr := controller.NewController(opts.client(logger), store, decide, ctrlOpts, logger).Run(ctx)
	if bar != nil {
		bar.Finish()
	}

	if summary != nil {
		printSummary(out, summary)
	}
	if runErr != nil {
		var apiErr *syncclient.Error
		if errors.As(runErr, &apiErr) && apiErr.Remediation != "" {
			fmt.Fprintf(out, "Remediation: %s\n", apiErr.Remediation)
		}
		if summary != nil && summary.State == controller.StatePaused {
			fmt.Fprintln(out, "Run `lilyctl sync` again to resume from the last checkpoint.")
		}
		return runErr
	}
	return nil
}

// promptDecider asks on out whether to resume the stored checkpoint. An empty
// answer resumes.
func promptDecider(in io.Reader, out io.Writer) controller.Decider {
	reader := bufio.NewReader(in)
	return func(_ context.Context, cp *models.SyncCheckpoint) (bool, error) {
		fmt.Fprintf(out, "Found an unfinished sync at offset %s (page %d, %s processed, updated %s).\n",
			humanize.Comma(int64(cp.Offset)), cp.Page, humanize.Comma(int64(cp.Processed)), humanize.Time(cp.UpdatedAt))
		fmt.Fprint(out, "Resume it? [Y/n] ")

		answer, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "", "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

func newProgressBar() *pb.ProgressBar {
	bar := pb.Full.Start(0)
	bar.Set("prefix", "syncing ")
	bar.Set(pb.CleanOnFinish, true)
	return bar
}

func reportProgress(bar *pb.ProgressBar, p controller.Progress) {
	cp := p.Checkpoint
	bar.SetCurrent(int64(cp.Processed))
	switch {
	case p.Err != nil && p.Attempt > 0:
		bar.Set("prefix", fmt.Sprintf("retrying page %d (attempt %d) ", cp.Page+1, p.Attempt))
	case p.State == controller.StateRunning:
		bar.Set("prefix", fmt.Sprintf("page %d, +%s ~%s ", cp.Page, humanize.Comma(int64(cp.Inserted)), humanize.Comma(int64(cp.Updated))))
	}
}

func printSummary(out io.Writer, s *controller.Summary) {
	cp := s.Checkpoint
	switch s.State {
	case controller.StateCompleted:
		fmt.Fprintf(out, "Sync completed in %d page(s)", s.Pages)
	default:
		fmt.Fprintf(out, "Sync %s after %d page(s)", s.State, s.Pages)
	}
	if s.Resumed {
		fmt.Fprint(out, " (resumed)")
	}
	fmt.Fprintln(out, ".")
	printCounters(out, &cp)
}

func printCheckpoint(out io.Writer, cp *models.SyncCheckpoint) {
	fmt.Fprintf(out, "Session:    %s\n", cp.SessionID)
	fmt.Fprintf(out, "Next offset: %s (page %d)\n", humanize.Comma(int64(cp.Offset)), cp.Page)
	if cp.Limit > 0 {
		fmt.Fprintf(out, "Page size:  %s\n", humanize.Comma(int64(cp.Limit)))
	}
	if !cp.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "Updated:    %s\n", humanize.Time(cp.UpdatedAt))
	}
	printCounters(out, cp)
}

func printCounters(out io.Writer, cp *models.SyncCheckpoint) {
	rows := []struct {
		label string
		value int
	}{
		{"processed", cp.Processed},
		{"inserted", cp.Inserted},
		{"updated", cp.Updated},
		{"unchanged", cp.Unchanged},
		{"unresolved diocese", cp.UnresolvedDiocese},
		{"unresolved country", cp.UnresolvedCountry},
		{"skipped without ISO", cp.SkippedNoISO},
	}
	for _, row := range rows {
		fmt.Fprintf(out, "  %-20s %s\n", row.label+":", humanize.Comma(int64(row.value)))
	}
}

// openStore returns the redis store when --redis is set, otherwise the file store.
func (o *syncOptions) openStore(logger ectologger.Logger) (checkpoint.Store, func(), error) {
	if o.redisAddr != "" {
		client, err := redis.Dial(o.redisAddr, o.redisPassword, o.redisDB, logger)
		if err != nil {
			return nil, nil, err
		}
		operator := o.operator
		if operator == "" {
			operator = os.Getenv("USER")
		}
		return checkpoint.NewRedisStore(client, operator), func() { _ = client.Close() }, nil
	}

	path := o.checkpointFile
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve config dir, pass --checkpoint-file: %w", err)
		}
		path = filepath.Join(dir, "lily", "sync-checkpoint.json")
	}
	return checkpoint.NewFileStore(path), func() {}, nil
}
