package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run a recovery sweep over stuck processing runs",
	Long:  "Loads queued uploads and fails runs whose source file is gone. The server runs this on an interval; use this command to sweep immediately, or --watch to keep sweeping without the rest of the server.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			env.Recovery.Run(ctx, time.Duration(cfg.Schedule.RecoveryIntervalSecs)*time.Second)
			return nil
		}

		res, err := env.Recovery.Sweep(ctx)
		if werr := writeJSON(os.Stdout, res); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	recoverCmd.Flags().Bool("watch", false, "sweep on the configured interval until interrupted")
	rootCmd.AddCommand(recoverCmd)
}
