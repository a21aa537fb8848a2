package schedule

import (
	"fmt"
	"testing"
	"time"

	"medtracker/dbtypes"

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

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func regimen(id string, created int, days dbtypes.DayFilter, times ...string) *dbtypes.Regimen {
	r := &dbtypes.Regimen{
		ID:           id,
		UserID:       "alice",
		Kind:         dbtypes.KindMedication,
		Name:         id,
		UnitsPerDose: 1,
		Route:        dbtypes.RouteOral,
		Days:         days,
		StartOn:      date("2024-01-01"),
		CreatedAt:    epoch.Add(time.Duration(created) * time.Hour),
	}
	for _, t := range times {
		r.Times = append(r.Times, dbtypes.MustParseClockTime(t))
	}
	return r
}

func record(r *dbtypes.Regimen, day, clock string, taken bool) *dbtypes.AdherenceRecord {
	rec := &dbtypes.AdherenceRecord{
		UserID:    r.UserID,
		RegimenID: r.ID,
		Date:      date(day),
		Time:      dbtypes.MustParseClockTime(clock),
		Taken:     taken,
	}
	if !taken {
		rec.SkipReason = "Esqueci"
	}
	return rec
}

// summarize renders instances as "regimen@HH:MM=status" for compact diffs.
func summarize(instances []*DoseInstance) []string {
	var out []string
	for _, inst := range instances {
		out = append(out, fmt.Sprintf("%s@%v=%v", inst.Regimen.ID, inst.Time, inst.Status))
	}
	return out
}

func TestInstancesForDayCountsAndFilter(t *testing.T) {
	// 2024-01-01 is a Monday.
	r := regimen("atenolol", 0, dbtypes.SpecificDays(time.Monday, time.Wednesday), "08:00", "14:00", "20:00")

	testCases := []struct {
		day  string
		want int
	}{
		{day: "2024-01-01", want: 3},
		{day: "2024-01-02", want: 0},
		{day: "2024-01-03", want: 3},
		{day: "2024-01-07", want: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.day, func(t *testing.T) {
			got := InstancesForDay([]*dbtypes.Regimen{r}, date(tc.day))
			if len(got) != tc.want {
				t.Fatalf("Got %d instances, want %d", len(got), tc.want)
			}
			seen := map[dbtypes.ClockTime]bool{}
			for _, inst := range got {
				if seen[inst.Time] {
					t.Errorf("Clock time %v produced twice", inst.Time)
				}
				seen[inst.Time] = true
				if inst.Status != StatusUnresolved {
					t.Errorf("Fresh instance has status %v", inst.Status)
				}
				if inst.Date != date(tc.day) {
					t.Errorf("Instance dated %v, want %v", inst.Date, tc.day)
				}
			}
		})
	}
}

func TestInstancesForDayValidityWindow(t *testing.T) {
	r := regimen("course", 0, dbtypes.AllDays(), "09:00")
	r.StartOn = date("2024-02-10")
	end := date("2024-02-12")
	r.EndOn = &end

	testCases := []struct {
		day  string
		want int
	}{
		{day: "2024-02-09", want: 0},
		{day: "2024-02-10", want: 1},
		{day: "2024-02-12", want: 1},
		{day: "2024-02-13", want: 0},
	}
	for _, tc := range testCases {
		if got := len(InstancesForDay([]*dbtypes.Regimen{r}, date(tc.day))); got != tc.want {
			t.Errorf("On %s: got %d instances, want %d", tc.day, got, tc.want)
		}
	}

	r.EndOn = nil
	r.Deactivated = true
	if got := InstancesForDay([]*dbtypes.Regimen{r}, date("2024-02-11")); len(got) != 0 {
		t.Errorf("Deactivated regimen produced %d instances", len(got))
	}
}

func TestInstancesForDayOrdering(t *testing.T) {
	older := regimen("older", 1, dbtypes.AllDays(), "20:00", "08:00")
	newer := regimen("newer", 2, dbtypes.AllDays(), "08:00", "12:00")
	sameAge := regimen("same-age", 2, dbtypes.AllDays(), "08:00")

	// Input order deliberately differs from creation order.
	got := InstancesForDay([]*dbtypes.Regimen{newer, sameAge, older}, date("2024-01-05"))
	want := []string{
		"older@08:00=unresolved",
		"newer@08:00=unresolved",
		"same-age@08:00=unresolved",
		"newer@12:00=unresolved",
		"older@20:00=unresolved",
	}
	if diff := cmp.Diff(summarize(got), want); diff != "" {
		t.Errorf("Wrong order; diff (-got +want)\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	r := regimen("atenolol", 0, dbtypes.AllDays(), "08:00", "12:00", "14:00", "20:00")
	other := regimen("other", 1, dbtypes.AllDays(), "08:00")
	records := []*dbtypes.AdherenceRecord{
		record(r, "2024-01-05", "08:00", true),
		record(r, "2024-01-05", "12:00", false),
		// Same slot on another day must not leak.
		record(other, "2024-01-04", "08:00", true),
	}

	got := ForDay([]*dbtypes.Regimen{r, other}, records, date("2024-01-05"), at("2024-01-05", "14:00"))
	want := []string{
		"atenolol@08:00=taken",
		"other@08:00=pending",
		"atenolol@12:00=skipped",
		"atenolol@14:00=pending",
		"atenolol@20:00=upcoming",
	}
	if diff := cmp.Diff(summarize(got), want); diff != "" {
		t.Errorf("Wrong statuses; diff (-got +want)\n%s", diff)
	}

	if got[0].Record == nil || !got[0].Record.Taken {
		t.Errorf("Taken instance does not carry its record")
	}
	if got[1].Record != nil {
		t.Errorf("Pending instance carries a record")
	}
}

func TestForDayKeepsRecordedDoses(t *testing.T) {
	stopped := regimen("stopped", 0, dbtypes.AllDays(), "08:00")
	stopped.Deactivated = true
	edited := regimen("edited", 1, dbtypes.AllDays(), "09:00")
	weekly := regimen("weekly", 2, dbtypes.SpecificDays(time.Monday), "10:00")
	gone := regimen("gone", 3, dbtypes.AllDays(), "07:00")

	records := []*dbtypes.AdherenceRecord{
		record(stopped, "2024-01-05", "08:00", true),
		// 21:00 was removed from the regimen after it was logged.
		record(edited, "2024-01-05", "21:00", false),
		record(edited, "2024-01-05", "09:00", true),
		// 2024-01-05 is a Friday.
		record(weekly, "2024-01-05", "10:00", true),
		// Regimen no longer listed.
		record(gone, "2024-01-05", "07:00", true),
		record(stopped, "2024-01-04", "08:00", true),
	}

	got := ForDay([]*dbtypes.Regimen{stopped, edited, weekly}, records, date("2024-01-05"), at("2024-01-05", "22:00"))
	want := []string{
		"stopped@08:00=taken",
		"edited@09:00=taken",
		"weekly@10:00=taken",
		"edited@21:00=skipped",
	}
	if diff := cmp.Diff(summarize(got), want); diff != "" {
		t.Errorf("Wrong schedule; diff (-got +want)\n%s", diff)
	}
	if next := NextDose(got); next != nil {
		t.Errorf("NextDose picked %s@%v on a fully recorded day", next.Regimen.ID, next.Time)
	}
	if diff := cmp.Diff(Summarize(got), Summary{Total: 4, Taken: 3, Skipped: 1}); diff != "" {
		t.Errorf("Wrong summary; diff (-got +want)\n%s", diff)
	}

	// The regular expansion is unaffected.
	if got := InstancesForDay([]*dbtypes.Regimen{stopped, edited, weekly}, date("2024-01-05")); len(got) != 1 {
		t.Errorf("InstancesForDay returned %d instances, want 1", len(got))
	}
}

func TestResolveRelativeToOtherDays(t *testing.T) {
	r := regimen("atenolol", 0, dbtypes.AllDays(), "08:00", "20:00")

	past := ForDay([]*dbtypes.Regimen{r}, nil, date("2024-01-04"), at("2024-01-05", "07:00"))
	if diff := cmp.Diff(summarize(past), []string{"atenolol@08:00=pending", "atenolol@20:00=pending"}); diff != "" {
		t.Errorf("Yesterday; diff (-got +want)\n%s", diff)
	}

	future := ForDay([]*dbtypes.Regimen{r}, nil, date("2024-01-06"), at("2024-01-05", "23:00"))
	if diff := cmp.Diff(summarize(future), []string{"atenolol@08:00=upcoming", "atenolol@20:00=upcoming"}); diff != "" {
		t.Errorf("Tomorrow; diff (-got +want)\n%s", diff)
	}
}

func TestNextDose(t *testing.T) {
	r := regimen("atenolol", 0, dbtypes.AllDays(), "08:00", "20:00")
	day := date("2024-01-05")
	now := at("2024-01-05", "14:00")

	instances := ForDay([]*dbtypes.Regimen{r}, nil, day, now)
	if diff := cmp.Diff(summarize(instances), []string{"atenolol@08:00=pending", "atenolol@20:00=upcoming"}); diff != "" {
		t.Fatalf("Wrong statuses; diff (-got +want)\n%s", diff)
	}

	taken := []*dbtypes.AdherenceRecord{record(r, "2024-01-05", "08:00", true)}
	next := NextDose(ForDay([]*dbtypes.Regimen{r}, taken, day, now))
	if next == nil || next.Time != dbtypes.MustParseClockTime("20:00") {
		t.Fatalf("Got next dose %v, want the 20:00 instance", next)
	}

	// The pending 08:00 dose is never "next", even before anything is taken.
	next = NextDose(instances)
	if next == nil || next.Time != dbtypes.MustParseClockTime("20:00") {
		t.Errorf("Got next dose %v, want the 20:00 instance", next)
	}

	late := ForDay([]*dbtypes.Regimen{r}, nil, day, at("2024-01-05", "21:00"))
	if next := NextDose(late); next != nil {
		t.Errorf("Got next dose %v after the last slot, want nil", next)
	}
}

func TestNextDoseTieGoesToOlderRegimen(t *testing.T) {
	newer := regimen("newer", 2, dbtypes.AllDays(), "18:00")
	older := regimen("older", 1, dbtypes.AllDays(), "18:00")

	instances := ForDay([]*dbtypes.Regimen{newer, older}, nil, date("2024-01-05"), at("2024-01-05", "10:00"))
	next := NextDose(instances)
	if next == nil || next.Regimen.ID != "older" {
		t.Errorf("Got next dose %v, want the older regimen's", next)
	}
}

func TestNextDoseNeverReturnsResolved(t *testing.T) {
	statuses := []Status{StatusPending, StatusTaken, StatusSkipped}
	r := regimen("atenolol", 0, dbtypes.AllDays(), "08:00")
	for _, s := range statuses {
		instances := []*DoseInstance{{Regimen: r, Date: date("2024-01-05"), Time: r.Times[0], Status: s}}
		if got := NextDose(instances); got != nil {
			t.Errorf("NextDose returned an instance with status %v", s)
		}
	}
}

func TestPendingAndSummarize(t *testing.T) {
	r := regimen("atenolol", 0, dbtypes.AllDays(), "08:00", "12:00", "14:00", "20:00")
	records := []*dbtypes.AdherenceRecord{
		record(r, "2024-01-05", "08:00", true),
		record(r, "2024-01-05", "12:00", false),
	}
	instances := ForDay([]*dbtypes.Regimen{r}, records, date("2024-01-05"), at("2024-01-05", "15:00"))

	if diff := cmp.Diff(summarize(Pending(instances)), []string{"atenolol@14:00=pending"}); diff != "" {
		t.Errorf("Wrong pending set; diff (-got +want)\n%s", diff)
	}

	want := Summary{Total: 4, Taken: 1, Skipped: 1, Pending: 1, Upcoming: 1}
	if diff := cmp.Diff(Summarize(instances), want); diff != "" {
		t.Errorf("Wrong summary; diff (-got +want)\n%s", diff)
	}
}
