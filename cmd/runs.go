package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/ledger"
	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/monitoring"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and triage ingestion runs",
	Long:  "Commands for listing, viewing, resolving, and summarizing ingestion runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, most recent first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		srcStr, _ := cmd.Flags().GetString("source")
		ref, _ := cmd.Flags().GetString("client")
		status, _ := cmd.Flags().GetString("status")
		resolution, _ := cmd.Flags().GetString("resolution")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		f := ledger.Filter{
			Status:     model.RunStatus(status),
			Resolution: model.ResolutionStatus(resolution),
			Limit:      limit,
		}
		if srcStr != "" {
			src, err := model.ParseSource(srcStr)
			if err != nil {
				return err
			}
			f.Source = src
		}
		if ref != "" {
			c, err := resolveClient(ctx, env, ref)
			if err != nil {
				return err
			}
			f.ClientID = c.ID
		}
		if since > 0 {
			f.Since = time.Now().Add(-since)
		}

		runs, err := env.Ledger.List(ctx, env.Pool, f)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid run id %q", args[0])
		}

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Ledger.Get(ctx, env.Pool, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, run)
	},
}

// -- runs resolve --

var runsResolveCmd = &cobra.Command{
	Use:   "resolve <run-id>",
	Short: "Mark a partial or failed run as resolved or ignored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrapf(err, "invalid run id %q", args[0])
		}
		status, _ := cmd.Flags().GetString("status")
		notes, _ := cmd.Flags().GetString("notes")
		by, _ := cmd.Flags().GetString("by")

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Ledger.Resolve(ctx, env.Pool, id, model.ResolutionStatus(status), notes, by); err != nil {
			return eris.Wrap(err, "runs resolve")
		}
		fmt.Fprintf(os.Stdout, "Run %s marked %s.\n", id, status)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run health over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		hours, _ := cmd.Flags().GetInt("hours")
		stuckAfter := time.Duration(cfg.Recovery.StaleAfterMins) * time.Minute
		snap, err := monitoring.NewCollector(env.Pool, stuckAfter).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by source (surfside, vibe, facebook)")
	runsListCmd.Flags().String("client", "", "filter by client id or name")
	runsListCmd.Flags().String("status", "", "filter by status (processing, success, partial, failed)")
	runsListCmd.Flags().String("resolution", "", "filter by resolution (unresolved, resolved, ignored)")
	runsListCmd.Flags().Duration("since", 0, "only runs started within this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsResolveCmd.Flags().String("status", string(model.ResolutionResolved), "resolution (resolved, ignored, unresolved)")
	runsResolveCmd.Flags().String("notes", "", "operator notes")
	runsResolveCmd.Flags().String("by", os.Getenv("USER"), "operator recorded on the run")

	runsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResolveCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tRUN_DATE\tSTATUS\tLOADED\tFAILED\tRESOLUTION\tSTARTED\tMESSAGE")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t------\t------\t----------\t-------\t-------")

	for _, r := range runs {
		msg := r.Message
		if len(msg) > 40 {
			msg = msg[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID.String()),
			r.Source,
			r.RunDate.Format(model.DateLayout),
			r.Status,
			r.RecordsLoaded,
			r.RecordsFailed,
			r.Resolution,
			r.StartedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes a health snapshot to out.
func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Success:\t%d\n", s.Success)
	_, _ = fmt.Fprintf(w, "  Partial:\t%d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Processing:\t%d\n", s.Processing)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Records loaded:\t%d\n", s.RecordsLoaded)
	_, _ = fmt.Fprintf(w, "Records failed:\t%d\n", s.RecordsFailed)
	_, _ = fmt.Fprintf(w, "Unresolved:\t%d\n", s.Unresolved)
	_, _ = fmt.Fprintf(w, "Stuck:\t%d\n", s.Stuck)
	_ = w.Flush()
}
