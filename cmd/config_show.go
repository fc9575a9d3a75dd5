package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/media-etl/internal/config"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML, secrets redacted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return eris.Wrap(enc.Encode(redact(*cfg)), "encode config")
	},
}

// redact blanks credentials. c is a copy.
func redact(c config.Config) config.Config {
	for _, s := range []*string{&c.Store.DatabaseURL, &c.Vibe.APIKey, &c.Surfside.FTPPassword} {
		if *s != "" {
			*s = redacted
		}
	}
	return c
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
