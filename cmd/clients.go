package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/model"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List and add clients",
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active clients",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		clients, err := env.Clients.ListActive(ctx, env.Pool)
		if err != nil {
			return err
		}
		formatClients(os.Stdout, clients)
		return nil
	},
}

var clientsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an active client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Clients.Create(ctx, env.Pool, args[0])
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, c)
	},
}

func init() {
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsAddCmd)
	rootCmd.AddCommand(clientsCmd)
}

func formatClients(out io.Writer, clients []model.Client) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS")
	for _, c := range clients {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Name, c.Status)
	}
	_ = w.Flush()
}
