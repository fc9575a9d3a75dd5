package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/model"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Manage per-client CPM rates",
}

var ratesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a CPM rate effective from a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, _ := cmd.Flags().GetString("client")
		srcStr, _ := cmd.Flags().GetString("source")
		cpmStr, _ := cmd.Flags().GetString("cpm")
		currency, _ := cmd.Flags().GetString("currency")
		effStr, _ := cmd.Flags().GetString("effective")

		src, err := model.ParseSource(srcStr)
		if err != nil {
			return err
		}
		cpm, err := decimal.NewFromString(cpmStr)
		if err != nil {
			return eris.Wrapf(err, "invalid --cpm %q", cpmStr)
		}
		eff, err := parseDay(effStr, time.Now().UTC().Truncate(24*time.Hour))
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
		if currency == "" {
			currency = cfg.Ingest.Currency
		}

		s, err := env.Rates.Add(ctx, env.Pool, model.RateSetting{
			ClientID:      client.ID,
			Source:        src,
			CPM:           cpm,
			Currency:      currency,
			EffectiveDate: eff,
		})
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, s)
	},
}

var ratesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show a client's CPM history for a source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, _ := cmd.Flags().GetString("client")
		srcStr, _ := cmd.Flags().GetString("source")
		src, err := model.ParseSource(srcStr)
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
		history, err := env.Rates.History(ctx, env.Pool, client.ID, src)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Fprintf(os.Stderr, "No rates configured; the fallback of %.2f %s applies.\n", cfg.Ingest.FallbackRate, cfg.Ingest.Currency)
			return nil
		}
		formatRates(os.Stdout, history)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ratesAddCmd, ratesListCmd} {
		c.Flags().String("client", "", "client id or name")
		c.Flags().String("source", "", "source (surfside, vibe, facebook)")
	}
	ratesAddCmd.Flags().String("cpm", "", "cost per thousand impressions")
	ratesAddCmd.Flags().String("currency", "", "ISO currency code (default from config)")
	ratesAddCmd.Flags().String("effective", "", "effective date, YYYY-MM-DD (default: today)")

	ratesCmd.AddCommand(ratesAddCmd)
	ratesCmd.AddCommand(ratesListCmd)
	rootCmd.AddCommand(ratesCmd)
}

func formatRates(out io.Writer, rates []model.RateSetting) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EFFECTIVE\tCPM\tCURRENCY")
	for _, r := range rates {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.EffectiveDate.Format(model.DateLayout), r.CPM.StringFixed(2), r.Currency)
	}
	_ = w.Flush()
}
