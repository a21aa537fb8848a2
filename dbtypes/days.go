package dbtypes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DayFilter says on which weekdays a regimen is due.  It is either AllDays()
// or SpecificDays(...); the zero value is AllDays().
type DayFilter struct {
	specific bool
	days     uint8 // bit i set => time.Weekday(i)
}

func AllDays() DayFilter {
	return DayFilter{}
}

func SpecificDays(days ...time.Weekday) DayFilter {
	f := DayFilter{specific: true}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		f.days |= 1 << uint(d)
	}
	return f
}

func (f DayFilter) IsAllDays() bool {
	return !f.specific
}

// Includes reports whether a day with the given weekday is covered.
func (f DayFilter) Includes(wd time.Weekday) bool {
	if !f.specific {
		return true
	}
	return f.days&(1<<uint(wd)) != 0
}

// Equal reports whether both filters select the same days.
func (f DayFilter) Equal(o DayFilter) bool {
	return f.specific == o.specific && f.days == o.days
}

// Days lists the selected weekdays, Sunday first.  Nil for AllDays.
func (f DayFilter) Days() []time.Weekday {
	if !f.specific {
		return nil
	}
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if f.days&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

func (f DayFilter) String() string {
	if !f.specific {
		return "every day"
	}
	var names []string
	for _, d := range f.Days() {
		names = append(names, d.String()[:3])
	}
	return strings.Join(names, ",")
}

// Encoded form: {"every": true} or {"days": ["monday", ...]}.
type dayFilterJSON struct {
	Every bool     `json:"every,omitempty"`
	Days  []string `json:"days,omitempty"`
}

func (f DayFilter) MarshalJSON() ([]byte, error) {
	if !f.specific {
		return json.Marshal(dayFilterJSON{Every: true})
	}
	return json.Marshal(dayFilterJSON{Days: WeekdayNames(f.Days())})
}

func (f *DayFilter) UnmarshalJSON(data []byte) error {
	var raw dayFilterJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Every {
		*f = AllDays()
		return nil
	}
	days, err := ParseWeekdays(raw.Days)
	if err != nil {
		return err
	}
	*f = SpecificDays(days...)
	return nil
}

// WeekdayNames renders weekdays in lower case, sorted Sunday first.
func WeekdayNames(days []time.Weekday) []string {
	sorted := append([]time.Weekday(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]string, 0, len(sorted))
	for _, d := range sorted {
		out = append(out, strings.ToLower(d.String()))
	}
	return out
}

// ParseWeekdays accepts full or three-letter English day names.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, name := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := strings.ToLower(d.String())
			if n := strings.ToLower(name); n == full || n == full[:3] {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, &ValidationError{Field: "days", Reason: fmt.Sprintf("unknown weekday %q", name)}
		}
	}
	return out, nil
}
