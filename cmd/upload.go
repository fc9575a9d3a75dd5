package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/media-etl/internal/model"
	"github.com/sells-group/media-etl/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Queue a report file for ingestion",
	Long:  "Stores the file and opens a processing run for it. The recovery monitor loads it on its next sweep; run `media-etl recover` to load it now.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ref, _ := cmd.Flags().GetString("client")
		srcStr, _ := cmd.Flags().GetString("source")
		path, _ := cmd.Flags().GetString("file")
		by, _ := cmd.Flags().GetString("by")
		dateStr, _ := cmd.Flags().GetString("date")

		src, err := model.ParseSource(srcStr)
		if err != nil {
			return err
		}
		if path == "" {
			return eris.New("--file is required")
		}
		runDate, err := parseDay(dateStr, time.Now().UTC().Truncate(24*time.Hour))
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

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck

		acc, err := env.Uploads.Accept(ctx, env.Pool, upload.AcceptParams{
			ClientID:   client.ID,
			Source:     src,
			FileName:   filepath.Base(path),
			Body:       f,
			UploadedBy: by,
			RunDate:    runDate,
		})
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, acc)
	},
}

func init() {
	uploadCmd.Flags().String("client", "", "client id or name")
	uploadCmd.Flags().String("source", string(model.SourceFacebook), "source tag (facebook, surfside, vibe)")
	uploadCmd.Flags().String("file", "", "path to a .csv or .xlsx report")
	uploadCmd.Flags().String("by", os.Getenv("USER"), "uploader recorded on the file")
	uploadCmd.Flags().String("date", "", "run date, YYYY-MM-DD (default: today)")
	rootCmd.AddCommand(uploadCmd)
}
