// Package ledger records whether scheduled doses were taken or skipped, and
// keeps regimen inventory in step with what was taken.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medtracker/dblayer"
	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
)

type Ledger struct {
	store dblayer.Store
	clock func() time.Time
}

func New(store dblayer.Store, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		store: store,
		clock: clock,
	}
}

// RecordTaken marks the dose identified by key as taken at at.  The first
// call for a key deducts the regimen's units per dose from its inventory;
// later calls change nothing and return the existing record.
func (l *Ledger) RecordTaken(ctx context.Context, key dbtypes.DoseKey, at time.Time) (*dbtypes.AdherenceRecord, error) {
	var out *dbtypes.AdherenceRecord
	err := dblayer.Update(ctx, l.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := loadForKey(ctx, tx, key)
		if err != nil {
			return err
		}
		existing, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}

		if existing != nil {
			out = existing
			return nil
		}
		if err := checkSlot(r, key); err != nil {
			return err
		}

		out, err = createTaken(ctx, tx, r, key, at)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("while recording dose %v as taken: %w", key, err)
	}

	slog.InfoContext(ctx, "Recorded dose taken", slog.String("dose", key.String()))
	return out, nil
}

// RecordTakenBatch marks every key as taken in one transaction.  Either every
// entry is applied or none is.  Entries that already have a record are left
// as they are, and a key listed twice is applied once.  Records are returned
// in the order of keys.
func (l *Ledger) RecordTakenBatch(ctx context.Context, keys []dbtypes.DoseKey, at time.Time) ([]*dbtypes.AdherenceRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var out []*dbtypes.AdherenceRecord
	err := dblayer.Update(ctx, l.store, func(ctx context.Context, tx dblayer.Tx) error {
		out = make([]*dbtypes.AdherenceRecord, len(keys))

		// Read phase: validate every entry before writing anything.
		regimens := map[string]*dbtypes.Regimen{}
		existing := map[dbtypes.DoseKey]*dbtypes.AdherenceRecord{}
		for _, key := range keys {
			if _, ok := existing[key]; ok {
				continue
			}
			r, ok := regimens[key.RegimenID]
			if !ok {
				var err error
				r, err = loadForKey(ctx, tx, key)
				if err != nil {
					return err
				}
				regimens[key.RegimenID] = r
			} else if err := checkOwner(r, key); err != nil {
				return err
			}
			rec, err := getRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			if rec == nil {
				if err := checkSlot(r, key); err != nil {
					return err
				}
			}
			existing[key] = rec
		}

		// Write phase.  Deductions for one regimen accumulate before its
		// single update.
		created := map[dbtypes.DoseKey]*dbtypes.AdherenceRecord{}
		touched := map[string]bool{}
		for i, key := range keys {
			if rec := existing[key]; rec != nil {
				out[i] = rec
				continue
			}
			if rec := created[key]; rec != nil {
				out[i] = rec
				continue
			}
			r := regimens[key.RegimenID]
			rec := newTakenRecord(r, key, at)
			if err := tx.CreateRecord(ctx, rec); err != nil {
				return err
			}
			if rec.InventoryDeducted != 0 {
				touched[r.ID] = true
			}
			created[key] = rec
			out[i] = rec
		}
		for id := range touched {
			r := regimens[id]
			r.UpdatedAt = at
			if err := tx.UpdateRegimen(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("while recording %d doses as taken: %w", len(keys), err)
	}

	slog.InfoContext(ctx, "Recorded dose batch taken", slog.Int("doses", len(keys)))
	return out, nil
}

// RecordSkipped marks the dose as skipped for reason, replacing any earlier
// record for the same dose.  Replacing a taken record puts its deduction back
// into inventory.
func (l *Ledger) RecordSkipped(ctx context.Context, key dbtypes.DoseKey, reason string, at time.Time) (*dbtypes.AdherenceRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &dbtypes.ValidationError{Field: "reason", Reason: "a skipped dose needs a reason"}
	}

	var out *dbtypes.AdherenceRecord
	err := dblayer.Update(ctx, l.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := loadForKey(ctx, tx, key)
		if err != nil {
			return err
		}
		existing, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		// A slot edited out of the regimen can still have its record changed.
		if existing == nil {
			if err := checkSlot(r, key); err != nil {
				return err
			}
		}

		rec := &dbtypes.AdherenceRecord{
			UserID:     key.UserID,
			RegimenID:  key.RegimenID,
			Date:       key.Date,
			Time:       key.Time,
			Taken:      false,
			SkipReason: reason,
			ActedAt:    at,
		}
		if existing != nil {
			rec.ID = existing.ID
		}
		if err := tx.PutRecord(ctx, rec); err != nil {
			return err
		}

		if existing != nil && restore(r, existing) {
			r.UpdatedAt = at
			if err := tx.UpdateRegimen(ctx, r); err != nil {
				return err
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("while recording dose %v as skipped: %w", key, err)
	}

	slog.InfoContext(ctx, "Recorded dose skipped", slog.String("dose", key.String()), slog.String("reason", reason))
	return out, nil
}

// Unmark deletes the record for key, returning the dose to pending or
// upcoming.  A taken dose's deduction is put back into inventory.
func (l *Ledger) Unmark(ctx context.Context, key dbtypes.DoseKey) error {
	err := dblayer.Update(ctx, l.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := loadForKey(ctx, tx, key)
		if err != nil {
			return err
		}
		existing, err := tx.GetRecord(ctx, key)
		if err != nil {
			return err
		}

		if err := tx.DeleteRecord(ctx, key); err != nil {
			return err
		}
		if restore(r, existing) {
			r.UpdatedAt = l.clock()
			if err := tx.UpdateRegimen(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("while unmarking dose %v: %w", key, err)
	}

	slog.InfoContext(ctx, "Unmarked dose", slog.String("dose", key.String()))
	return nil
}

// RecordsForDay returns the user's records of one day.
func (l *Ledger) RecordsForDay(ctx context.Context, userID string, day civil.Date) ([]*dbtypes.AdherenceRecord, error) {
	return l.RecordsBetween(ctx, userID, day, day)
}

// RecordsBetween returns the user's records dated from through to, both
// inclusive, ordered by date, regimen and time.
func (l *Ledger) RecordsBetween(ctx context.Context, userID string, from, to civil.Date) ([]*dbtypes.AdherenceRecord, error) {
	if to.Before(from) {
		return nil, &dbtypes.ValidationError{Field: "to", Reason: "must not be before from"}
	}

	var out []*dbtypes.AdherenceRecord
	err := dblayer.View(ctx, l.store, func(ctx context.Context, tx dblayer.Tx) error {
		var err error
		out, err = tx.ListRecords(ctx, userID, from, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("while listing records of %s from %v to %v: %w", userID, from, to, err)
	}
	return out, nil
}

// loadForKey returns the regimen a key refers to, after checkOwner.  Callers
// that create a record must also checkSlot.
func loadForKey(ctx context.Context, tx dblayer.Tx, key dbtypes.DoseKey) (*dbtypes.Regimen, error) {
	if key.UserID == "" || key.RegimenID == "" {
		return nil, &dbtypes.ValidationError{Field: "dose", Reason: "user and regimen are required"}
	}

	r, err := tx.GetRegimen(ctx, key.RegimenID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(r, key); err != nil {
		return nil, err
	}
	return r, nil
}

// checkOwner verifies that key belongs to r's owner and has a valid date.
func checkOwner(r *dbtypes.Regimen, key dbtypes.DoseKey) error {
	if r.UserID != key.UserID {
		return fmt.Errorf("regimen %s: %w", key.RegimenID, dbtypes.ErrNotFound)
	}
	if !key.Date.IsValid() {
		return &dbtypes.ValidationError{Field: "date", Reason: "not a valid date"}
	}
	return nil
}

// checkSlot verifies that key names one of r's current clock times.
func checkSlot(r *dbtypes.Regimen, key dbtypes.DoseKey) error {
	if !r.HasTime(key.Time) {
		return &dbtypes.ValidationError{Field: "time", Reason: fmt.Sprintf("%v is not a scheduled time of regimen %s", key.Time, r.ID)}
	}
	return nil
}

// getRecord is tx.GetRecord with a missing record reported as nil.
func getRecord(ctx context.Context, tx dblayer.Tx, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error) {
	rec, err := tx.GetRecord(ctx, key)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, dbtypes.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

func newTakenRecord(r *dbtypes.Regimen, key dbtypes.DoseKey, at time.Time) *dbtypes.AdherenceRecord {
	rec := &dbtypes.AdherenceRecord{
		UserID:    key.UserID,
		RegimenID: key.RegimenID,
		Date:      key.Date,
		Time:      key.Time,
		Taken:     true,
		ActedAt:   at,
	}
	if r.Inventory != nil {
		rec.InventoryDeducted = -r.Inventory.Adjust(-r.UnitsPerDose)
	}
	return rec
}

func createTaken(ctx context.Context, tx dblayer.Tx, r *dbtypes.Regimen, key dbtypes.DoseKey, at time.Time) (*dbtypes.AdherenceRecord, error) {
	rec := newTakenRecord(r, key, at)
	if err := tx.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	if rec.InventoryDeducted != 0 {
		r.UpdatedAt = at
		if err := tx.UpdateRegimen(ctx, r); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// restore puts a taken record's deduction back into r's inventory.  It
// reports whether r changed.
func restore(r *dbtypes.Regimen, rec *dbtypes.AdherenceRecord) bool {
	if !rec.Taken || rec.InventoryDeducted == 0 || r.Inventory == nil {
		return false
	}
	return r.Inventory.Adjust(rec.InventoryDeducted) != 0
}
