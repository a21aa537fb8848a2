package dbtypes

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

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

func TestParseClockTime(t *testing.T) {
	testCases := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{in: "08:00", want: ClockTime{Hour: 8}},
		{in: "23:59", want: ClockTime{Hour: 23, Minute: 59}},
		{in: "00:00", want: ClockTime{}},
		{in: "24:00", wantErr: true},
		{in: "8am", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := ParseClockTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClockTime(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClockTime(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseClockTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if got.String() != tc.in {
			t.Errorf("ParseClockTime(%q).String() = %q", tc.in, got.String())
		}
	}
}

func TestDayFilter(t *testing.T) {
	all := AllDays()
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !all.Includes(d) {
			t.Errorf("AllDays() does not include %v", d)
		}
	}

	mwf := SpecificDays(time.Monday, time.Wednesday, time.Friday)
	if mwf.IsAllDays() {
		t.Errorf("SpecificDays reports IsAllDays")
	}
	if diff := cmp.Diff(mwf.Days(), []time.Weekday{time.Monday, time.Wednesday, time.Friday}); diff != "" {
		t.Errorf("Bad Days(); diff (-got +want)\n%s", diff)
	}
	if mwf.Includes(time.Tuesday) || !mwf.Includes(time.Friday) {
		t.Errorf("Bad Includes() for %v", mwf)
	}

	if len(SpecificDays().Days()) != 0 || SpecificDays().IsAllDays() {
		t.Errorf("SpecificDays() with no days must stay a specific, empty filter")
	}
}

func TestDayFilterJSON(t *testing.T) {
	for _, f := range []DayFilter{AllDays(), SpecificDays(time.Saturday, time.Sunday)} {
		data, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		var got DayFilter
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unexpected error unmarshaling %s: %v", data, err)
		}
		if !got.Equal(f) {
			t.Errorf("Round trip of %v through %s gave %v", f, data, got)
		}
	}

	var bad DayFilter
	err := json.Unmarshal([]byte(`{"days":["funday"]}`), &bad)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Unmarshal of unknown weekday: got err %v, want ErrValidation", err)
	}
}

func TestActiveOn(t *testing.T) {
	end := date("2024-03-10")
	r := &Regimen{StartOn: date("2024-03-01"), EndOn: &end}

	testCases := []struct {
		day  string
		want bool
	}{
		{"2024-02-29", false},
		{"2024-03-01", true},
		{"2024-03-05", true},
		{"2024-03-10", true},
		{"2024-03-11", false},
	}
	for _, tc := range testCases {
		if got := r.ActiveOn(date(tc.day)); got != tc.want {
			t.Errorf("ActiveOn(%s) = %v, want %v", tc.day, got, tc.want)
		}
	}

	r.Deactivated = true
	if r.ActiveOn(date("2024-03-05")) {
		t.Errorf("Deactivated regimen reported active")
	}
}

func TestInventoryAdjust(t *testing.T) {
	testCases := []struct {
		desc          string
		inv           Inventory
		delta         int64
		wantRemaining int64
		wantApplied   int64
	}{
		{desc: "plain decrement", inv: Inventory{Total: 30, Remaining: 10}, delta: -2, wantRemaining: 8, wantApplied: -2},
		{desc: "floor at zero", inv: Inventory{Total: 30, Remaining: 1}, delta: -2, wantRemaining: 0, wantApplied: -1},
		{desc: "ceiling at total", inv: Inventory{Total: 30, Remaining: 29}, delta: 5, wantRemaining: 30, wantApplied: 1},
		{desc: "no total, no ceiling", inv: Inventory{Remaining: 29}, delta: 5, wantRemaining: 34, wantApplied: 5},
		{desc: "no total, floor", inv: Inventory{Remaining: 3}, delta: -5, wantRemaining: 0, wantApplied: -3},
	}
	for _, tc := range testCases {
		inv := tc.inv
		applied := inv.Adjust(tc.delta)
		if inv.Remaining != tc.wantRemaining || applied != tc.wantApplied {
			t.Errorf("%s: got remaining=%d applied=%d, want remaining=%d applied=%d", tc.desc, inv.Remaining, applied, tc.wantRemaining, tc.wantApplied)
		}
	}
}

func TestDoseKeyString(t *testing.T) {
	k := DoseKey{UserID: "a@example.com", RegimenID: "r1", Date: date("2024-01-02"), Time: MustParseClockTime("08:05")}
	if got, want := k.String(), "a@example.com/r1/2024-01-02/0805"; got != want {
		t.Errorf("Bad key string; got %q, want %q", got, want)
	}
}

func TestRegimenCloneIsDeep(t *testing.T) {
	exp := date("2025-01-01")
	r := &Regimen{
		Times:     []ClockTime{MustParseClockTime("08:00")},
		Inventory: &Inventory{Total: 10, Remaining: 5, ExpiresOn: &exp},
	}
	c := r.Clone()
	c.Times[0] = MustParseClockTime("09:00")
	c.Inventory.Remaining = 1
	*c.Inventory.ExpiresOn = date("2026-01-01")

	if r.Times[0] != MustParseClockTime("08:00") || r.Inventory.Remaining != 5 || *r.Inventory.ExpiresOn != exp {
		t.Errorf("Clone shares state with the original: %+v", r)
	}
}

func TestRegimenJSONOmitsUnsetDeactivation(t *testing.T) {
	r := &Regimen{ID: "r1", Name: "Atenolol", StartOn: date("2024-03-01")}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if strings.Contains(string(data), "deactivatedAt") {
		t.Errorf("Active regimen marshaled with a deactivation time: %s", data)
	}

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	r.Deactivated = true
	r.DeactivatedAt = &at
	data, err = json.Marshal(r)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"deactivatedAt":"2024-03-05T10:00:00Z"`) {
		t.Errorf("Deactivation time missing from %s", data)
	}

	clone := r.Clone()
	*clone.DeactivatedAt = clone.DeactivatedAt.Add(time.Hour)
	if !r.DeactivatedAt.Equal(at) {
		t.Errorf("Clone shares its deactivation time with the original")
	}
}
