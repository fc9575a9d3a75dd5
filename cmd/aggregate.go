package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/aggregate"
	"github.com/sells-group/media-etl/internal/model"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute weekly and monthly summaries",
}

func newAggregatePeriodCmd(p model.Period) *cobra.Command {
	c := &cobra.Command{
		Use:   string(p),
		Short: fmt.Sprintf("Summarize the %s period containing --date", p),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			ref, _ := cmd.Flags().GetString("client")
			dateStr, _ := cmd.Flags().GetString("date")
			day, err := parseDay(dateStr, previousPeriod(p, time.Now().UTC()))
			if err != nil {
				return err
			}

			env, err := initEnv(ctx, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if ref == "" {
				n, err := env.Aggregator.AllActiveClients(ctx, p, day)
				fmt.Fprintf(os.Stdout, "Wrote %d %s summaries.\n", n, p)
				return err
			}

			client, err := resolveClient(ctx, env, ref)
			if err != nil {
				return err
			}
			s, err := env.Aggregator.Period(ctx, client.ID, p, day)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(os.Stderr, "No facts in period; nothing written.")
				return nil
			}
			return writeJSON(os.Stdout, s)
		},
	}
	c.Flags().String("client", "", "client id or name (default: every active client)")
	c.Flags().String("date", "", "any day inside the period, YYYY-MM-DD (default: the previous period)")
	return c
}

var aggregateRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Recompute every week and month touching a date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, _ := cmd.Flags().GetString("client")
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		if fromStr == "" || toStr == "" {
			return eris.New("--from and --to are required")
		}
		from, err := parseDay(fromStr, time.Time{})
		if err != nil {
			return err
		}
		to, err := parseDay(toStr, time.Time{})
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		client, err := resolveClient(ctx, env, ref)
		if err != nil {
			return err
		}
		if err := env.Aggregator.Range(ctx, client.ID, from, to); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Summaries refreshed for %s, %s to %s.\n", client.Name, fromStr, toStr)
		return nil
	},
}

// previousPeriod returns a day inside the period before now's.
func previousPeriod(p model.Period, now time.Time) time.Time {
	if p == model.PeriodMonthly {
		return aggregate.PreviousMonth(now)
	}
	return aggregate.PreviousWeek(now)
}

func init() {
	aggregateRangeCmd.Flags().String("client", "", "client id or name")
	aggregateRangeCmd.Flags().String("from", "", "first day, YYYY-MM-DD")
	aggregateRangeCmd.Flags().String("to", "", "last day, YYYY-MM-DD")

	aggregateCmd.AddCommand(newAggregatePeriodCmd(model.PeriodWeekly))
	aggregateCmd.AddCommand(newAggregatePeriodCmd(model.PeriodMonthly))
	aggregateCmd.AddCommand(aggregateRangeCmd)
	rootCmd.AddCommand(aggregateCmd)
}
