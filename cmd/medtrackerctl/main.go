// medtrackerctl is a utility program for inspecting and editing regimens and
// adherence records directly in the store.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"medtracker/dblayer"
	"medtracker/tracker"

	"cloud.google.com/go/civil"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var cmdRoot = &cobra.Command{
	Use:          "medtrackerctl",
	SilenceUsage: true,
}

var (
	dataProject     string
	storeBackend    string
	badgerDir       string
	credentialsFile string
	userID          string
	timezone        string
)

func init() {
	cmdRoot.PersistentFlags().StringVar(&dataProject, "data-project", "", "GCP project that contains the application state.")
	cmdRoot.PersistentFlags().StringVar(&storeBackend, "store-backend", "firestore", "Where application state lives: firestore or badger.")
	cmdRoot.PersistentFlags().StringVar(&badgerDir, "badger-dir", "", "Data directory for the badger store backend.")
	cmdRoot.PersistentFlags().StringVar(&credentialsFile, "credentials-file", "", "Service account key for Firestore and GCS.")
	cmdRoot.PersistentFlags().StringVar(&userID, "user", "", "Email of the person whose data to act on.")
	cmdRoot.PersistentFlags().StringVar(&timezone, "timezone", "UTC", "IANA time zone that schedules are evaluated in.")
}

// env is what every subcommand works against.
type env struct {
	store    dblayer.Store
	tracker  *tracker.Tracker
	location *time.Location
}

func openEnv(ctx context.Context) (*env, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("while loading time zone: %w", err)
	}
	store, err := dblayer.Open(ctx, dblayer.Config{
		Backend:         storeBackend,
		DataProject:     dataProject,
		CredentialsFile: credentialsFile,
		BadgerDir:       badgerDir,
	})
	if err != nil {
		return nil, fmt.Errorf("while opening store: %w", err)
	}
	return &env{
		store:    store,
		tracker:  tracker.New(store, time.Now),
		location: loc,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		glog.Errorf("Error closing store: %v", err)
	}
}

func (e *env) now() civil.DateTime {
	return civil.DateTimeOf(e.tracker.Now().In(e.location))
}

// dateOrToday parses s, or returns today when s is empty.
func (e *env) dateOrToday(s string) (civil.Date, error) {
	if s == "" {
		return e.now().Date, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("while parsing date %q: %w", s, err)
	}
	return d, nil
}

// withEnv wraps a subcommand body that needs the store and a user.
func withEnv(fn func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		return fn(ctx, cmd, args, e)
	}
}

func main() {
	glog.CopyStandardLogTo("INFO")
	defer glog.Flush()

	cmdRoot.AddCommand(cmdRegimens, cmdSchedule, cmdNext, cmdMark, cmdAlerts, cmdExport)
	cmdRegimens.AddCommand(cmdRegimensList, cmdRegimensCreate, cmdRegimensDeactivate, cmdRegimensAdjust, cmdRegimensRefill)
	cmdMark.AddCommand(cmdMarkTaken, cmdMarkSkipped, cmdMarkUnmark)

	if err := cmdRoot.Execute(); err != nil {
		glog.Flush()
		os.Exit(1)
	}
}
