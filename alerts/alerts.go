// Package alerts derives low-stock and near-expiry warnings from regimen
// inventory.
package alerts

import (
	"fmt"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
)

// NearExpiryDays is how far ahead an expiry date raises a warning.
const NearExpiryDays = 30

// LowStock reports whether r's tracked inventory has run low.
//
// Medications compare against their absolute alert threshold.  Supplements
// alert at 20% of the pack; a supplement with no known pack size falls back
// to the absolute threshold.
func LowStock(r *dbtypes.Regimen) bool {
	inv := r.Inventory
	if inv == nil {
		return false
	}
	if r.Kind == dbtypes.KindSupplement && inv.HasTotal() {
		// remaining/total <= 1/5, without floating point.
		return 5*inv.Remaining <= inv.Total
	}
	return inv.Remaining <= inv.AlertThreshold
}

// DaysUntilExpiry returns the number of days from today to the expiry date.
// ok is false when no expiry date is tracked.
func DaysUntilExpiry(r *dbtypes.Regimen, today civil.Date) (days int, ok bool) {
	if r.Inventory == nil || r.Inventory.ExpiresOn == nil {
		return 0, false
	}
	return r.Inventory.ExpiresOn.DaysSince(today), true
}

// NearExpiry reports whether r expires within the next NearExpiryDays days.
// Stock that has already expired, or expires today, is not flagged.
func NearExpiry(r *dbtypes.Regimen, today civil.Date) bool {
	days, ok := DaysUntilExpiry(r, today)
	return ok && days > 0 && days <= NearExpiryDays
}

type LowStockAlert struct {
	Regimen        *dbtypes.Regimen `json:"regimen"`
	Remaining      int64            `json:"remaining"`
	Total          int64            `json:"total,omitempty"`
	AlertThreshold int64            `json:"alertThreshold,omitempty"`
}

func (a *LowStockAlert) String() string {
	if a.Total > 0 {
		return fmt.Sprintf("%s: %d of %d left", a.Regimen.Name, a.Remaining, a.Total)
	}
	return fmt.Sprintf("%s: %d left", a.Regimen.Name, a.Remaining)
}

type NearExpiryAlert struct {
	Regimen   *dbtypes.Regimen `json:"regimen"`
	ExpiresOn civil.Date       `json:"expiresOn"`
	DaysLeft  int              `json:"daysLeft"`
}

func (a *NearExpiryAlert) String() string {
	return fmt.Sprintf("%s: expires %v (%d days)", a.Regimen.Name, a.ExpiresOn, a.DaysLeft)
}

// Report is every warning for one person on one day.
type Report struct {
	LowStock   []*LowStockAlert   `json:"lowStock"`
	NearExpiry []*NearExpiryAlert `json:"nearExpiry"`
}

func (r *Report) Empty() bool {
	return len(r.LowStock) == 0 && len(r.NearExpiry) == 0
}

// ForRegimens checks every regimen that is still in effect on today.  Alerts
// keep the order of regimens.
func ForRegimens(regimens []*dbtypes.Regimen, today civil.Date) *Report {
	report := &Report{
		LowStock:   []*LowStockAlert{},
		NearExpiry: []*NearExpiryAlert{},
	}
	for _, r := range regimens {
		if r.Deactivated || r.Inventory == nil {
			continue
		}
		if r.EndOn != nil && today.After(*r.EndOn) {
			continue
		}

		if LowStock(r) {
			report.LowStock = append(report.LowStock, &LowStockAlert{
				Regimen:        r,
				Remaining:      r.Inventory.Remaining,
				Total:          r.Inventory.Total,
				AlertThreshold: r.Inventory.AlertThreshold,
			})
		}
		if NearExpiry(r, today) {
			days, _ := DaysUntilExpiry(r, today)
			report.NearExpiry = append(report.NearExpiry, &NearExpiryAlert{
				Regimen:   r,
				ExpiresOn: *r.Inventory.ExpiresOn,
				DaysLeft:  days,
			})
		}
	}
	return report
}
