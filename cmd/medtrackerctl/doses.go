package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"medtracker/alerts"
	"medtracker/dbtypes"
	"medtracker/schedule"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var scheduleDate string

var cmdSchedule = &cobra.Command{
	Use: "schedule",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		day, err := e.dateOrToday(scheduleDate)
		if err != nil {
			return err
		}
		sched, err := e.tracker.Schedule(ctx, userID, day, e.now())
		if err != nil {
			return fmt.Errorf("while building schedule: %w", err)
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tREGIMEN\tNAME\tDOSE\tSTATUS")
		for _, d := range sched.Doses {
			fmt.Fprintf(tw, "%v\t%s\t%s\t%s\t%s\n", d.Time, d.Regimen.ID, d.Regimen.Name, d.Regimen.Dose, statusText(d))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		s := sched.Summary
		fmt.Fprintf(out, "\n%v: %d doses, %d taken, %d skipped, %d pending, %d upcoming\n", sched.Date, s.Total, s.Taken, s.Skipped, s.Pending, s.Upcoming)
		return nil
	}),
}

func statusText(d *schedule.DoseInstance) string {
	if d.Status == schedule.StatusSkipped && d.Record != nil {
		return fmt.Sprintf("skipped (%s)", d.Record.SkipReason)
	}
	return d.Status.String()
}

var cmdNext = &cobra.Command{
	Use: "next",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		day, err := e.dateOrToday(scheduleDate)
		if err != nil {
			return err
		}
		next, err := e.tracker.NextDose(ctx, userID, day, e.now())
		if err != nil {
			return fmt.Errorf("while finding next dose: %w", err)
		}
		if next == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No upcoming doses.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v %s %s\n", next.At(), next.Regimen.Name, next.Regimen.Dose)
		return nil
	}),
}

var cmdMark = &cobra.Command{
	Use: "mark [command]",
}

var (
	markRegimenID string
	markDate      string
	markTimes     []string
	markReason    string
)

// doseKeys builds one key per --time flag.
func (e *env) doseKeys() ([]dbtypes.DoseKey, error) {
	if markRegimenID == "" {
		return nil, fmt.Errorf("--regimen is required")
	}
	if len(markTimes) == 0 {
		return nil, fmt.Errorf("at least one --time is required")
	}
	day, err := e.dateOrToday(markDate)
	if err != nil {
		return nil, err
	}
	var keys []dbtypes.DoseKey
	for _, s := range markTimes {
		t, err := dbtypes.ParseClockTime(s)
		if err != nil {
			return nil, fmt.Errorf("while parsing --time %q: %w", s, err)
		}
		keys = append(keys, dbtypes.DoseKey{UserID: userID, RegimenID: markRegimenID, Date: day, Time: t})
	}
	return keys, nil
}

var cmdMarkTaken = &cobra.Command{
	Use: "taken",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		keys, err := e.doseKeys()
		if err != nil {
			return err
		}
		recs, err := e.tracker.MarkTakenBatch(ctx, keys)
		if err != nil {
			return fmt.Errorf("while marking doses taken: %w", err)
		}
		printRecords(cmd.OutOrStdout(), recs)
		return nil
	}),
}

var cmdMarkSkipped = &cobra.Command{
	Use: "skipped",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		keys, err := e.doseKeys()
		if err != nil {
			return err
		}
		var recs []*dbtypes.AdherenceRecord
		for _, k := range keys {
			rec, err := e.tracker.MarkSkipped(ctx, k, markReason)
			if err != nil {
				return fmt.Errorf("while marking %v skipped: %w", k, err)
			}
			recs = append(recs, rec)
		}
		printRecords(cmd.OutOrStdout(), recs)
		return nil
	}),
}

var cmdMarkUnmark = &cobra.Command{
	Use: "unmark",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		keys, err := e.doseKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := e.tracker.Unmark(ctx, k); err != nil {
				return fmt.Errorf("while unmarking %v: %w", k, err)
			}
			glog.Infof("Unmarked %v", k)
		}
		return nil
	}),
}

func printRecords(w io.Writer, recs []*dbtypes.AdherenceRecord) {
	for _, rec := range recs {
		what := "taken"
		if !rec.Taken {
			what = "skipped: " + rec.SkipReason
		}
		fmt.Fprintf(w, "%v %v %s %s\n", rec.Date, rec.Time, rec.RegimenID, what)
	}
}

var cmdAlerts = &cobra.Command{
	Use: "alerts",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, args []string, e *env) error {
		report, err := e.tracker.Alerts(ctx, userID, e.now().Date)
		if err != nil {
			return fmt.Errorf("while computing alerts: %w", err)
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	}),
}

func printReport(w io.Writer, report *alerts.Report) {
	if report.Empty() {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	for _, a := range report.LowStock {
		fmt.Fprintf(w, "low stock: %v\n", a)
	}
	for _, a := range report.NearExpiry {
		fmt.Fprintf(w, "near expiry: %v\n", a)
	}
}

func init() {
	cmdSchedule.Flags().StringVar(&scheduleDate, "date", "", "Day to show, YYYY-MM-DD.  Defaults to today.")
	cmdNext.Flags().StringVar(&scheduleDate, "date", "", "Day to search, YYYY-MM-DD.  Defaults to today.")

	cmdMark.PersistentFlags().StringVar(&markRegimenID, "regimen", "", "Regimen ID.")
	cmdMark.PersistentFlags().StringVar(&markDate, "date", "", "Scheduled date, YYYY-MM-DD.  Defaults to today.")
	cmdMark.PersistentFlags().StringSliceVar(&markTimes, "time", nil, "Scheduled clock time, HH:MM.  May be repeated.")
	cmdMarkSkipped.Flags().StringVar(&markReason, "reason", "", "Why the dose was skipped.")
}
