package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Pull a day of data from a scheduled source",
	Long:  "Runs the same fetch-and-load path the daily job uses, for one client or for every enrolled client.",
}

func newIngestSourceCmd(src model.Source) *cobra.Command {
	c := &cobra.Command{
		Use:   string(src),
		Short: fmt.Sprintf("Ingest %s data for one client", src),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			env, err := initEnv(ctx, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			ref, _ := cmd.Flags().GetString("client")
			dateStr, _ := cmd.Flags().GetString("date")
			day, err := parseDay(dateStr, yesterday(time.Now(), cfg.Schedule.Timezone))
			if err != nil {
				return err
			}

			if ref == "" {
				sum, err := env.Ingester.Source(ctx, src, day)
				if err != nil {
					return err
				}
				return writeJSON(os.Stdout, sum)
			}

			client, err := resolveClient(ctx, env, ref)
			if err != nil {
				return err
			}
			res, err := env.Ingester.Client(ctx, src, *client, day)
			if werr := writeJSON(os.Stdout, res); werr != nil {
				return werr
			}
			return err
		},
	}
	c.Flags().String("client", "", "client id or name (default: every enrolled client)")
	c.Flags().String("date", "", "day to ingest, YYYY-MM-DD (default: yesterday)")
	return c
}

var ingestAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Ingest every scheduled source for every enrolled client",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		dateStr, _ := cmd.Flags().GetString("date")
		day, err := parseDay(dateStr, yesterday(time.Now(), cfg.Schedule.Timezone))
		if err != nil {
			return err
		}

		sum, err := env.Ingester.All(ctx, day)
		if werr := writeJSON(os.Stdout, sum); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	ingestAllCmd.Flags().String("date", "", "day to ingest, YYYY-MM-DD (default: yesterday)")

	ingestCmd.AddCommand(newIngestSourceCmd(model.SourceSurfside))
	ingestCmd.AddCommand(newIngestSourceCmd(model.SourceVibe))
	ingestCmd.AddCommand(ingestAllCmd)
	rootCmd.AddCommand(ingestCmd)
}
