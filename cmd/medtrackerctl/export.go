package main

import (
	"context"
	"fmt"

	"medtracker/export"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/storage"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	googleopt "google.golang.org/api/option"
)

var (
	exportFrom      string
	exportTo        string
	exportGCSBucket string
	exportObject    string
)

// cmdExport writes the user's regimens and records as NDJSON, to stdout or to
// a GCS object.
var cmdExport = &cobra.Command{
	Use: "export",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		to, err := e.dateOrToday(exportTo)
		if err != nil {
			return err
		}
		from := to.AddDays(-90)
		if exportFrom != "" {
			if from, err = civil.ParseDate(exportFrom); err != nil {
				return fmt.Errorf("while parsing --from: %w", err)
			}
		}

		if exportGCSBucket == "" {
			_, err := export.Write(ctx, cmd.OutOrStdout(), e.tracker, userID, from, to)
			return err
		}

		object := exportObject
		if object == "" {
			object = fmt.Sprintf("exports/%s/%v_%v.ndjson", userID, from, to)
		}

		var opts []googleopt.ClientOption
		if credentialsFile != "" {
			opts = append(opts, googleopt.WithCredentialsFile(credentialsFile))
		}
		gcs, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("while creating GCS client: %w", err)
		}
		defer gcs.Close()

		w := gcs.Bucket(exportGCSBucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/x-ndjson"
		stats, err := export.Write(ctx, w, e.tracker, userID, from, to)
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("while finalizing gs://%s/%s: %w", exportGCSBucket, object, err)
		}

		glog.Infof("Wrote %d regimens and %d records to gs://%s/%s", stats.Regimens, stats.Records, exportGCSBucket, object)
		return nil
	}),
}

func init() {
	cmdExport.Flags().StringVar(&exportFrom, "from", "", "First record date, YYYY-MM-DD.  Defaults to 90 days before --to.")
	cmdExport.Flags().StringVar(&exportTo, "to", "", "Last record date, YYYY-MM-DD.  Defaults to today.")
	cmdExport.Flags().StringVar(&exportGCSBucket, "gcs-bucket", "", "Upload to this GCS bucket instead of writing to stdout.")
	cmdExport.Flags().StringVar(&exportObject, "object", "", "Object name within --gcs-bucket.")
}
