// Package tracker is the entry point used by the web UI, the poller and the
// operator CLI.  It loads regimens from the catalog, expands them into the
// day's doses, overlays the ledger, and derives alerts.
package tracker

import (
	"context"
	"fmt"
	"time"

	"medtracker/alerts"
	"medtracker/catalog"
	"medtracker/dblayer"
	"medtracker/dbtypes"
	"medtracker/ledger"
	"medtracker/schedule"

	"cloud.google.com/go/civil"
)

type Tracker struct {
	store   dblayer.Store
	catalog *catalog.Catalog
	ledger  *ledger.Ledger
	clock   func() time.Time
}

func New(store dblayer.Store, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		store:   store,
		catalog: catalog.New(store, clock),
		ledger:  ledger.New(store, clock),
		clock:   clock,
	}
}

func (t *Tracker) Catalog() *catalog.Catalog {
	return t.catalog
}

func (t *Tracker) Ledger() *ledger.Ledger {
	return t.ledger
}

// Now is the tracker's clock reading, for callers that act "now".
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// Day is one person's resolved schedule for a calendar day.
type Day struct {
	Date    civil.Date               `json:"date"`
	Doses   []*schedule.DoseInstance `json:"doses"`
	Pending []*schedule.DoseInstance `json:"pending"`
	Next    *schedule.DoseInstance   `json:"next"`
	Summary schedule.Summary         `json:"summary"`
}

// Schedule resolves the doses of day for userID as of now.
func (t *Tracker) Schedule(ctx context.Context, userID string, day civil.Date, now civil.DateTime) (*Day, error) {
	regimens, err := t.catalog.ListRegimens(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, err := t.ledger.RecordsForDay(ctx, userID, day)
	if err != nil {
		return nil, err
	}

	doses := schedule.ForDay(regimens, records, day, now)
	return &Day{
		Date:    day,
		Doses:   doses,
		Pending: schedule.Pending(doses),
		Next:    schedule.NextDose(doses),
		Summary: schedule.Summarize(doses),
	}, nil
}

// NextDose returns the earliest upcoming dose of day, or nil when nothing
// more is scheduled.
func (t *Tracker) NextDose(ctx context.Context, userID string, day civil.Date, now civil.DateTime) (*schedule.DoseInstance, error) {
	d, err := t.Schedule(ctx, userID, day, now)
	if err != nil {
		return nil, err
	}
	return d.Next, nil
}

func (t *Tracker) MarkTaken(ctx context.Context, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error) {
	return t.ledger.RecordTaken(ctx, key, t.clock())
}

func (t *Tracker) MarkTakenBatch(ctx context.Context, keys []dbtypes.DoseKey) ([]*dbtypes.AdherenceRecord, error) {
	return t.ledger.RecordTakenBatch(ctx, keys, t.clock())
}

func (t *Tracker) MarkSkipped(ctx context.Context, key dbtypes.DoseKey, reason string) (*dbtypes.AdherenceRecord, error) {
	return t.ledger.RecordSkipped(ctx, key, reason, t.clock())
}

func (t *Tracker) Unmark(ctx context.Context, key dbtypes.DoseKey) error {
	return t.ledger.Unmark(ctx, key)
}

// Alerts reports low stock and upcoming expiry across the user's regimens.
func (t *Tracker) Alerts(ctx context.Context, userID string, today civil.Date) (*alerts.Report, error) {
	regimens, err := t.catalog.ListRegimens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return alerts.ForRegimens(regimens, today), nil
}

// Users lists everyone with at least one regimen.
func (t *Tracker) Users(ctx context.Context) ([]string, error) {
	ids, err := t.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("while listing users: %w", err)
	}
	return ids, nil
}
