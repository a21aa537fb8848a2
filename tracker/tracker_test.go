package tracker

import (
	"context"
	"testing"
	"time"

	"medtracker/dblayer"
	"medtracker/dbtypes"
	"medtracker/schedule"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func at(day, clock string) civil.DateTime {
	return dbtypes.MustParseClockTime(clock).On(date(day))
}

func newTracker(t *testing.T) (*Tracker, *dbtypes.Regimen) {
	t.Helper()
	tr := New(dblayer.NewMemoryStore(), func() time.Time {
		return time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	})

	r, err := tr.Catalog().CreateRegimen(context.Background(), &dbtypes.Regimen{
		UserID:       "alice@example.com",
		Kind:         dbtypes.KindMedication,
		Category:     dbtypes.CategoryCardiac,
		Name:         "Atenolol",
		Dose:         "50mg",
		UnitsPerDose: 1,
		Route:        dbtypes.RouteOral,
		Times:        []dbtypes.ClockTime{dbtypes.MustParseClockTime("08:00"), dbtypes.MustParseClockTime("20:00")},
		Days:         dbtypes.AllDays(),
		StartOn:      date("2024-03-01"),
		Inventory:    &dbtypes.Inventory{Total: 30, Remaining: 11, AlertThreshold: 10},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return tr, r
}

func statuses(doses []*schedule.DoseInstance) []string {
	var out []string
	for _, d := range doses {
		out = append(out, d.Time.String()+"="+d.Status.String())
	}
	return out
}

func TestScheduleScenario(t *testing.T) {
	ctx := context.Background()
	tr, r := newTracker(t)
	day := date("2024-03-04")
	now := at("2024-03-04", "14:00")

	got, err := tr.Schedule(ctx, r.UserID, day, now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(statuses(got.Doses), []string{"08:00=pending", "20:00=upcoming"}); diff != "" {
		t.Errorf("Wrong schedule; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(statuses(got.Pending), []string{"08:00=pending"}); diff != "" {
		t.Errorf("Wrong pending set; diff (-got +want)\n%s", diff)
	}

	if _, err := tr.MarkTaken(ctx, got.Doses[0].Key()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	next, err := tr.NextDose(ctx, r.UserID, day, now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if next == nil || next.Time != dbtypes.MustParseClockTime("20:00") {
		t.Fatalf("Got next dose %v, want 20:00", next)
	}

	got, err = tr.Schedule(ctx, r.UserID, day, now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := schedule.Summary{Total: 2, Taken: 1, Upcoming: 1}
	if diff := cmp.Diff(got.Summary, want); diff != "" {
		t.Errorf("Wrong summary; diff (-got +want)\n%s", diff)
	}
}

func TestStoppedRegimenKeepsItsHistory(t *testing.T) {
	ctx := context.Background()
	tr, r := newTracker(t)
	day := date("2024-03-04")

	key := dbtypes.DoseKey{UserID: r.UserID, RegimenID: r.ID, Date: day, Time: dbtypes.MustParseClockTime("08:00")}
	if _, err := tr.MarkTaken(ctx, key); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := tr.Catalog().DeactivateRegimen(ctx, r.UserID, r.ID); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, err := tr.Schedule(ctx, r.UserID, day, at("2024-03-05", "09:00"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(statuses(got.Doses), []string{"08:00=taken"}); diff != "" {
		t.Errorf("Wrong schedule; diff (-got +want)\n%s", diff)
	}

	got, err = tr.Schedule(ctx, r.UserID, date("2024-03-05"), at("2024-03-05", "09:00"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got.Doses) != 0 {
		t.Errorf("Stopped regimen still scheduled: %v", statuses(got.Doses))
	}
}

func TestMarkTakenFeedsAlerts(t *testing.T) {
	ctx := context.Background()
	tr, r := newTracker(t)
	today := date("2024-03-04")

	report, err := tr.Alerts(ctx, r.UserID, today)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.LowStock) != 0 {
		t.Fatalf("Alert before any dose was taken: %v", report.LowStock)
	}

	key := dbtypes.DoseKey{UserID: r.UserID, RegimenID: r.ID, Date: today, Time: dbtypes.MustParseClockTime("08:00")}
	if _, err := tr.MarkTaken(ctx, key); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	report, err = tr.Alerts(ctx, r.UserID, today)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(report.LowStock) != 1 || report.LowStock[0].Remaining != 10 {
		t.Errorf("Got low-stock alerts %v, want one at 10 remaining", report.LowStock)
	}

	if err := tr.Unmark(ctx, key); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	report, err = tr.Alerts(ctx, r.UserID, today)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !report.Empty() {
		t.Errorf("Alert survived unmark: %v", report.LowStock)
	}
}

func TestUsers(t *testing.T) {
	tr, r := newTracker(t)
	got, err := tr.Users(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(got, []string{r.UserID}); diff != "" {
		t.Errorf("Wrong users; diff (-got +want)\n%s", diff)
	}
}
