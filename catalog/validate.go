package catalog

import (
	"fmt"

	"medtracker/dbtypes"
)

// Validate checks a regimen definition before anything is written.  It
// returns a *dbtypes.ValidationError naming the first offending field.
func Validate(r *dbtypes.Regimen) error {
	if r.UserID == "" {
		return invalid("userId", "must not be empty")
	}
	if r.Name == "" {
		return invalid("name", "must not be empty")
	}

	switch r.Kind {
	case dbtypes.KindMedication:
		if !oneOf(r.Route, dbtypes.Routes) {
			return invalid("route", fmt.Sprintf("%q is not a known administration route", r.Route))
		}
	case dbtypes.KindSupplement:
		if !oneOf(r.Unit, dbtypes.Units) {
			return invalid("unit", fmt.Sprintf("%q is not a known unit", r.Unit))
		}
		if r.TimeOfDay != "" && !oneOf(r.TimeOfDay, dbtypes.TimesOfDay) {
			return invalid("timeOfDay", fmt.Sprintf("%q is not a known time of day", r.TimeOfDay))
		}
	default:
		return invalid("kind", fmt.Sprintf("%q is neither medication nor supplement", r.Kind))
	}

	if r.Category != "" && !oneOf(r.Category, dbtypes.Categories) {
		return invalid("category", fmt.Sprintf("%q is not a known category", r.Category))
	}

	if r.UnitsPerDose < 1 {
		return invalid("unitsPerDose", "must be at least 1")
	}

	if len(r.Times) == 0 {
		return invalid("times", "at least one clock time is required")
	}
	seen := map[dbtypes.ClockTime]bool{}
	for _, t := range r.Times {
		if !t.IsValid() {
			return invalid("times", fmt.Sprintf("%02d:%02d is not a clock time", t.Hour, t.Minute))
		}
		if seen[t] {
			return invalid("times", fmt.Sprintf("%v is listed twice", t))
		}
		seen[t] = true
	}

	if !r.Days.IsAllDays() && len(r.Days.Days()) == 0 {
		return invalid("days", "a specific-days filter needs at least one weekday")
	}

	if !r.StartOn.IsValid() {
		return invalid("startOn", "a valid start date is required")
	}
	if r.EndOn != nil {
		if !r.EndOn.IsValid() {
			return invalid("endOn", "not a valid date")
		}
		if r.EndOn.Before(r.StartOn) {
			return invalid("endOn", "must not be before the start date")
		}
	}

	if inv := r.Inventory; inv != nil {
		if inv.Total < 0 || inv.Remaining < 0 || inv.AlertThreshold < 0 {
			return invalid("inventory", "quantities must not be negative")
		}
		if inv.HasTotal() && inv.Remaining > inv.Total {
			return invalid("inventory.remaining", "must not exceed the total")
		}
		if inv.ExpiresOn != nil && !inv.ExpiresOn.IsValid() {
			return invalid("inventory.expiresOn", "not a valid date")
		}
	}

	return nil
}

func invalid(field, reason string) error {
	return &dbtypes.ValidationError{Field: field, Reason: reason}
}

func oneOf[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
