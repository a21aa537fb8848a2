package export

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"medtracker/dblayer"
	"medtracker/dbtypes"
	"medtracker/tracker"

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

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	tr := tracker.New(dblayer.NewMemoryStore(), func() time.Time {
		return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	})

	r, err := tr.Catalog().CreateRegimen(ctx, &dbtypes.Regimen{
		UserID:       "alice@example.com",
		Kind:         dbtypes.KindSupplement,
		Category:     dbtypes.CategoryVitamin,
		Name:         "Vitamin D",
		Dose:         "2000 IU",
		UnitsPerDose: 1,
		Unit:         dbtypes.UnitCapsules,
		Times:        []dbtypes.ClockTime{dbtypes.MustParseClockTime("08:00")},
		Days:         dbtypes.SpecificDays(time.Monday, time.Thursday),
		StartOn:      date("2024-03-01"),
		Inventory:    &dbtypes.Inventory{Total: 60, Remaining: 60},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, day := range []string{"2024-03-04", "2024-03-07", "2024-03-11"} {
		key := dbtypes.DoseKey{UserID: r.UserID, RegimenID: r.ID, Date: date(day), Time: dbtypes.MustParseClockTime("08:00")}
		if _, err := tr.MarkTaken(ctx, key); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	buf := &bytes.Buffer{}
	stats, err := Write(ctx, buf, tr, r.UserID, date("2024-03-01"), date("2024-03-08"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff(stats, Stats{Regimens: 1, Records: 2}); diff != "" {
		t.Errorf("Wrong stats; diff (-got +want)\n%s", diff)
	}
	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Errorf("Got %d lines, want 3", got)
	}

	lines, err := Read(buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var types []string
	for _, l := range lines {
		types = append(types, l.Type)
	}
	if diff := cmp.Diff(types, []string{TypeRegimen, TypeRecord, TypeRecord}); diff != "" {
		t.Errorf("Wrong line types; diff (-got +want)\n%s", diff)
	}
	if lines[0].Regimen.Name != "Vitamin D" || !lines[0].Regimen.Days.Equal(dbtypes.SpecificDays(time.Monday, time.Thursday)) {
		t.Errorf("Regimen did not survive export: %+v", lines[0].Regimen)
	}
	if lines[2].Record.Date != date("2024-03-07") {
		t.Errorf("Got last record dated %v, want 2024-03-07", lines[2].Record.Date)
	}
}
