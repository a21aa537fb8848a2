// Package schedule expands regimens into the concrete doses of a day and
// picks the next one to take.  Everything here is pure; callers supply the
// regimens, the ledger records and the current time.
package schedule

import (
	"sort"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
)

type Status int

const (
	// Instances start out unresolved until matched against the ledger.
	StatusUnresolved Status = iota

	// Due (the scheduled time has passed) but nobody acted on it.
	StatusPending

	// Scheduled for later.
	StatusUpcoming

	StatusTaken
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUpcoming:
		return "upcoming"
	case StatusTaken:
		return "taken"
	case StatusSkipped:
		return "skipped"
	default:
		return "unresolved"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DoseInstance is one scheduled administration of a regimen.
type DoseInstance struct {
	Regimen *dbtypes.Regimen
	Date    civil.Date
	Time    dbtypes.ClockTime
	Status  Status

	// The ledger entry that resolved the instance, if any.
	Record *dbtypes.AdherenceRecord
}

func (d *DoseInstance) Key() dbtypes.DoseKey {
	return dbtypes.DoseKey{
		UserID:    d.Regimen.UserID,
		RegimenID: d.Regimen.ID,
		Date:      d.Date,
		Time:      d.Time,
	}
}

// At is the wall-clock moment the dose is scheduled for.
func (d *DoseInstance) At() civil.DateTime {
	return d.Time.On(d.Date)
}

// DueOn reports whether r produces doses on day: it is active and its day
// filter includes day's weekday.
func DueOn(r *dbtypes.Regimen, day civil.Date) bool {
	return r.ActiveOn(day) && r.Days.Includes(dbtypes.Weekday(day))
}

// InstancesForDay returns one instance per clock time of every regimen due on
// day.  Instances are ordered by clock time; ties go to the regimen created
// first, then to input order.
func InstancesForDay(regimens []*dbtypes.Regimen, day civil.Date) []*DoseInstance {
	var out []*DoseInstance
	for _, r := range regimens {
		if !DueOn(r, day) {
			continue
		}
		for _, t := range r.Times {
			out = append(out, &DoseInstance{
				Regimen: r,
				Date:    day,
				Time:    t,
			})
		}
	}

	sortInstances(out)
	return out
}

func sortInstances(instances []*DoseInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		a, b := instances[i], instances[j]
		if a.Time != b.Time {
			return a.Time.Before(b.Time)
		}
		return a.Regimen.CreatedAt.Before(b.Regimen.CreatedAt)
	})
}

// recordedOnly returns an instance for every record of day that instances
// does not cover: doses of since-deactivated regimens, slots edited out of a
// regimen, or doses logged on a day the regimen does not run.  Records of
// regimens missing from regimens are dropped.
func recordedOnly(instances []*DoseInstance, regimens []*dbtypes.Regimen, records []*dbtypes.AdherenceRecord, day civil.Date) []*DoseInstance {
	covered := make(map[dbtypes.DoseKey]bool, len(instances))
	for _, inst := range instances {
		covered[inst.Key()] = true
	}
	byID := make(map[string]*dbtypes.Regimen, len(regimens))
	for _, r := range regimens {
		byID[r.ID] = r
	}

	var out []*DoseInstance
	for _, rec := range records {
		if rec.Date != day || covered[rec.Key()] {
			continue
		}
		r, ok := byID[rec.RegimenID]
		if !ok || r.UserID != rec.UserID {
			continue
		}
		covered[rec.Key()] = true
		out = append(out, &DoseInstance{
			Regimen: r,
			Date:    day,
			Time:    rec.Time,
		})
	}
	return out
}

// Resolve sets the status of every instance from the matching ledger record,
// or from the scheduled time relative to now when no record exists.
// Instances are modified in place and returned for chaining.
func Resolve(instances []*DoseInstance, records []*dbtypes.AdherenceRecord, now civil.DateTime) []*DoseInstance {
	byKey := make(map[dbtypes.DoseKey]*dbtypes.AdherenceRecord, len(records))
	for _, rec := range records {
		byKey[rec.Key()] = rec
	}

	for _, inst := range instances {
		inst.Record = nil
		rec, ok := byKey[inst.Key()]
		switch {
		case ok && rec.Taken:
			inst.Status = StatusTaken
			inst.Record = rec
		case ok:
			inst.Status = StatusSkipped
			inst.Record = rec
		case !now.Before(inst.At()):
			inst.Status = StatusPending
		default:
			inst.Status = StatusUpcoming
		}
	}
	return instances
}

// ForDay expands and resolves the schedule of day.  Doses that were already
// taken or skipped stay on the day even when their regimen no longer
// schedules them.
func ForDay(regimens []*dbtypes.Regimen, records []*dbtypes.AdherenceRecord, day civil.Date, now civil.DateTime) []*DoseInstance {
	instances := InstancesForDay(regimens, day)
	if extra := recordedOnly(instances, regimens, records, day); len(extra) > 0 {
		instances = append(instances, extra...)
		sortInstances(instances)
	}
	return Resolve(instances, records, now)
}

// NextDose returns the earliest upcoming instance, or nil.  Doses that are
// already due never count as next, even if nobody acted on them.
func NextDose(instances []*DoseInstance) *DoseInstance {
	var next *DoseInstance
	for _, inst := range instances {
		if inst.Status != StatusUpcoming {
			continue
		}
		if next == nil || inst.At().Before(next.At()) {
			next = inst
		}
	}
	return next
}

// Pending returns the instances that are due but unresolved, in schedule
// order.
func Pending(instances []*DoseInstance) []*DoseInstance {
	return filter(instances, StatusPending)
}

func filter(instances []*DoseInstance, s Status) []*DoseInstance {
	var out []*DoseInstance
	for _, inst := range instances {
		if inst.Status == s {
			out = append(out, inst)
		}
	}
	return out
}

type Summary struct {
	Total    int `json:"total"`
	Taken    int `json:"taken"`
	Skipped  int `json:"skipped"`
	Pending  int `json:"pending"`
	Upcoming int `json:"upcoming"`
}

// Summarize counts the instances of a day by status.
func Summarize(instances []*DoseInstance) Summary {
	var s Summary
	for _, inst := range instances {
		s.Total++
		switch inst.Status {
		case StatusTaken:
			s.Taken++
		case StatusSkipped:
			s.Skipped++
		case StatusPending:
			s.Pending++
		case StatusUpcoming:
			s.Upcoming++
		}
	}
	return s
}
