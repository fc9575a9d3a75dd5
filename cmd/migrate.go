package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if dry, _ := cmd.Flags().GetBool("status"); dry {
			pending, err := store.Pending(ctx, st.Pool())
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(os.Stdout, "Schema is up to date.")
				return nil
			}
			for _, name := range pending {
				fmt.Fprintf(os.Stdout, "pending  %s\n", name)
			}
			return nil
		}

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Migrations applied.")
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("status", false, "list pending migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}
