// Package dbtypes holds the regimen and adherence records that medtracker
// persists, plus the error kinds shared by every layer.
package dbtypes

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

type Kind string

const (
	KindMedication Kind = "medication"
	KindSupplement Kind = "supplement"
)

type Category string

const (
	CategoryCardiac          Category = "cardiac"
	CategoryHormonal         Category = "hormonal"
	CategoryPsychiatric      Category = "psychiatric"
	CategoryAnalgesic        Category = "analgesic"
	CategoryAntibiotic       Category = "antibiotic"
	CategoryAntiInflammatory Category = "anti-inflammatory"
	CategoryVitamin          Category = "vitamin"
	CategoryMineral          Category = "mineral"
	CategoryProtein          Category = "protein"
	CategoryHerbal           Category = "herbal"
	CategoryOther            Category = "other"
)

var Categories = []Category{
	CategoryCardiac,
	CategoryHormonal,
	CategoryPsychiatric,
	CategoryAnalgesic,
	CategoryAntibiotic,
	CategoryAntiInflammatory,
	CategoryVitamin,
	CategoryMineral,
	CategoryProtein,
	CategoryHerbal,
	CategoryOther,
}

// Route is how a medication is administered.
type Route string

const (
	RouteOral       Route = "oral"
	RouteSublingual Route = "sublingual"
	RouteInjectable Route = "injectable"
	RouteTopical    Route = "topical"
	RouteInhaled    Route = "inhaled"
)

var Routes = []Route{RouteOral, RouteSublingual, RouteInjectable, RouteTopical, RouteInhaled}

// TimeOfDay is the preferred moment for a supplement.
type TimeOfDay string

const (
	TimeOfDayMorning     TimeOfDay = "morning"
	TimeOfDayPreWorkout  TimeOfDay = "pre-workout"
	TimeOfDayPostWorkout TimeOfDay = "post-workout"
	TimeOfDayAfternoon   TimeOfDay = "afternoon"
	TimeOfDayEvening     TimeOfDay = "evening"
	TimeOfDayBeforeSleep TimeOfDay = "before-sleep"
)

var TimesOfDay = []TimeOfDay{
	TimeOfDayMorning,
	TimeOfDayPreWorkout,
	TimeOfDayPostWorkout,
	TimeOfDayAfternoon,
	TimeOfDayEvening,
	TimeOfDayBeforeSleep,
}

// Unit is the unit of measure of a supplement.
type Unit string

const (
	UnitGrams       Unit = "grams"
	UnitMilliliters Unit = "milliliters"
	UnitCapsules    Unit = "capsules"
	UnitSachets     Unit = "sachets"
	UnitDoses       Unit = "doses"
)

var Units = []Unit{UnitGrams, UnitMilliliters, UnitCapsules, UnitSachets, UnitDoses}

// Regimen is one medication or supplement that a person takes on a recurring
// schedule.
type Regimen struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	Kind             Kind     `json:"kind"`
	Category         Category `json:"category"`
	Name             string   `json:"name"`
	ActiveIngredient string   `json:"activeIngredient,omitempty"`

	// Free-text dose description, e.g. "50mg" or "1 scoop".
	Dose string `json:"dose"`

	// How many inventory units one administration consumes.
	UnitsPerDose int64 `json:"unitsPerDose"`

	// Medications only.
	Route Route `json:"route,omitempty"`

	// Supplements only.
	TimeOfDay TimeOfDay `json:"timeOfDay,omitempty"`
	Unit      Unit      `json:"unit,omitempty"`

	// One administration per clock time per due day, in order.
	Times []ClockTime `json:"times"`
	Days  DayFilter   `json:"days"`

	StartOn civil.Date  `json:"startOn"`
	EndOn   *civil.Date `json:"endOn,omitempty"`

	// Nil when the regimen does not track stock.
	Inventory *Inventory `json:"inventory,omitempty"`

	Deactivated   bool       `json:"deactivated,omitempty"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveOn reports whether the regimen is in effect on day.  Both ends of the
// validity window are inclusive.
func (r *Regimen) ActiveOn(day civil.Date) bool {
	if r.Deactivated {
		return false
	}
	if day.Before(r.StartOn) {
		return false
	}
	if r.EndOn != nil && day.After(*r.EndOn) {
		return false
	}
	return true
}

// HasTime reports whether c is one of the regimen's administration slots.
func (r *Regimen) HasTime(c ClockTime) bool {
	for _, t := range r.Times {
		if t == c {
			return true
		}
	}
	return false
}

func (r *Regimen) Clone() *Regimen {
	out := *r
	out.Times = append([]ClockTime(nil), r.Times...)
	if r.EndOn != nil {
		end := *r.EndOn
		out.EndOn = &end
	}
	if r.Inventory != nil {
		out.Inventory = r.Inventory.Clone()
	}
	if r.DeactivatedAt != nil {
		at := *r.DeactivatedAt
		out.DeactivatedAt = &at
	}
	return &out
}

// Inventory is the stock of a regimen.
type Inventory struct {
	// Size of the current pack.  Zero means the total is not tracked.
	Total int64 `json:"total,omitempty"`

	Remaining int64 `json:"remaining"`

	// Medications alert when Remaining drops to this value or below.
	AlertThreshold int64 `json:"alertThreshold,omitempty"`

	ExpiresOn *civil.Date `json:"expiresOn,omitempty"`
}

func (inv *Inventory) HasTotal() bool {
	return inv.Total > 0
}

// Adjust changes Remaining by delta, clamped to [0, Total] (or floored at zero
// when no total is tracked).  It returns the change actually applied.
func (inv *Inventory) Adjust(delta int64) int64 {
	next := inv.Remaining + delta
	if next < 0 {
		next = 0
	}
	if inv.HasTotal() && next > inv.Total {
		next = inv.Total
	}
	applied := next - inv.Remaining
	inv.Remaining = next
	return applied
}

func (inv *Inventory) Clone() *Inventory {
	out := *inv
	if inv.ExpiresOn != nil {
		exp := *inv.ExpiresOn
		out.ExpiresOn = &exp
	}
	return &out
}

// AdherenceRecord says whether one scheduled dose was taken or skipped.
type AdherenceRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	RegimenID string     `json:"regimenId"`
	Date      civil.Date `json:"date"`
	Time      ClockTime  `json:"time"`

	Taken      bool   `json:"taken"`
	SkipReason string `json:"skipReason,omitempty"`

	// When the person acted on the dose.
	ActedAt time.Time `json:"actedAt"`

	// Units removed from the regimen's inventory when the dose was marked
	// taken.  Un-marking puts exactly this many back.
	InventoryDeducted int64 `json:"inventoryDeducted,omitempty"`
}

func (a *AdherenceRecord) Key() DoseKey {
	return DoseKey{UserID: a.UserID, RegimenID: a.RegimenID, Date: a.Date, Time: a.Time}
}

func (a *AdherenceRecord) Clone() *AdherenceRecord {
	out := *a
	return &out
}

// DoseKey identifies one scheduled administration.  At most one
// AdherenceRecord exists per key.
type DoseKey struct {
	UserID    string     `json:"userId"`
	RegimenID string     `json:"regimenId"`
	Date      civil.Date `json:"date"`
	Time      ClockTime  `json:"time"`
}

// String is stable and unique per key; stores use it as the record identity.
func (k DoseKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%02d%02d", k.UserID, k.RegimenID, k.Date, k.Time.Hour, k.Time.Minute)
}
