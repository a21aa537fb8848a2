// Package catalog stores regimen definitions and their inventory.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medtracker/dblayer"
	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
)

type Catalog struct {
	store dblayer.Store

	// Stamps CreatedAt, UpdatedAt and DeactivatedAt.
	clock func() time.Time
}

func New(store dblayer.Store, clock func() time.Time) *Catalog {
	if clock == nil {
		clock = time.Now
	}
	return &Catalog{
		store: store,
		clock: clock,
	}
}

// CreateRegimen validates def and persists it.  The stored definition, with
// its new ID, is returned.
func (c *Catalog) CreateRegimen(ctx context.Context, def *dbtypes.Regimen) (*dbtypes.Regimen, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	r := def.Clone()
	r.Deactivated = false
	r.DeactivatedAt = nil
	now := c.clock().Truncate(time.Microsecond)

	err := dblayer.Update(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		existing, err := tx.ListRegimens(ctx, r.UserID)
		if err != nil {
			return err
		}
		r.ID = ""
		r.CreatedAt = nextCreation(existing, now)
		r.UpdatedAt = r.CreatedAt
		return tx.CreateRegimen(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("while creating regimen %q: %w", def.Name, err)
	}

	slog.InfoContext(ctx, "Created regimen", slog.String("user", r.UserID), slog.String("regimen", r.ID), slog.String("name", r.Name))
	return r, nil
}

// GetRegimen returns dbtypes.ErrNotFound when the regimen does not exist or
// belongs to someone else.
func (c *Catalog) GetRegimen(ctx context.Context, userID, id string) (*dbtypes.Regimen, error) {
	var r *dbtypes.Regimen
	err := dblayer.View(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		var err error
		r, err = getOwned(ctx, tx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRegimens returns every regimen of the user, deactivated ones included,
// in creation order.
func (c *Catalog) ListRegimens(ctx context.Context, userID string) ([]*dbtypes.Regimen, error) {
	var out []*dbtypes.Regimen
	err := dblayer.View(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		var err error
		out, err = tx.ListRegimens(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("while listing regimens of %s: %w", userID, err)
	}
	return out, nil
}

// ListActiveRegimens returns the regimens of the user that are in effect on
// asOf, in creation order.
func (c *Catalog) ListActiveRegimens(ctx context.Context, userID string, asOf civil.Date) ([]*dbtypes.Regimen, error) {
	all, err := c.ListRegimens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ActiveOn(all, asOf), nil
}

// ActiveOn filters regimens down to those in effect on day, keeping order.
func ActiveOn(regimens []*dbtypes.Regimen, day civil.Date) []*dbtypes.Regimen {
	var out []*dbtypes.Regimen
	for _, r := range regimens {
		if r.ActiveOn(day) {
			out = append(out, r)
		}
	}
	return out
}

// UpdateRegimen replaces the editable fields of an existing regimen.
// Identity, ownership, creation time and deactivation state are kept.
func (c *Catalog) UpdateRegimen(ctx context.Context, def *dbtypes.Regimen) (*dbtypes.Regimen, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	var out *dbtypes.Regimen
	err := dblayer.Update(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		cur, err := getOwned(ctx, tx, def.UserID, def.ID)
		if err != nil {
			return err
		}

		next := def.Clone()
		next.CreatedAt = cur.CreatedAt
		next.Deactivated = cur.Deactivated
		next.DeactivatedAt = cur.DeactivatedAt
		next.UpdatedAt = c.clock()
		if err := tx.UpdateRegimen(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("while updating regimen %s: %w", def.ID, err)
	}
	return out, nil
}

// DeactivateRegimen marks a regimen discontinued.  The regimen and its
// adherence history stay in storage.  Deactivating twice is a no-op.
func (c *Catalog) DeactivateRegimen(ctx context.Context, userID, id string) error {
	err := dblayer.Update(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := getOwned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if r.Deactivated {
			return nil
		}
		now := c.clock()
		r.Deactivated = true
		r.DeactivatedAt = &now
		r.UpdatedAt = now
		return tx.UpdateRegimen(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("while deactivating regimen %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Deactivated regimen", slog.String("user", userID), slog.String("regimen", id))
	return nil
}

// AdjustInventory changes the remaining stock by delta, clamped to
// [0, total].  Regimens that do not track inventory are left untouched.
func (c *Catalog) AdjustInventory(ctx context.Context, userID, id string, delta int64) (*dbtypes.Regimen, error) {
	var out *dbtypes.Regimen
	err := dblayer.Update(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := getOwned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		out = r
		if r.Inventory == nil || delta == 0 {
			return nil
		}
		r.Inventory.Adjust(delta)
		r.UpdatedAt = c.clock()
		return tx.UpdateRegimen(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("while adjusting inventory of regimen %s: %w", id, err)
	}
	return out, nil
}

// RecordRefill adds a new pack to the regimen's stock.  The pack size plus
// any leftover becomes the new total, and the pack's expiry replaces the old
// one.  A regimen without inventory starts tracking it.
func (c *Catalog) RecordRefill(ctx context.Context, userID, id string, quantity int64, expiresOn *civil.Date) (*dbtypes.Regimen, error) {
	if quantity < 1 {
		return nil, invalid("quantity", "must be at least 1")
	}
	if expiresOn != nil && !expiresOn.IsValid() {
		return nil, invalid("expiresOn", "not a valid date")
	}

	var out *dbtypes.Regimen
	err := dblayer.Update(ctx, c.store, func(ctx context.Context, tx dblayer.Tx) error {
		r, err := getOwned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if r.Inventory == nil {
			r.Inventory = &dbtypes.Inventory{}
		}
		r.Inventory.Remaining += quantity
		r.Inventory.Total = r.Inventory.Remaining
		if expiresOn != nil {
			exp := *expiresOn
			r.Inventory.ExpiresOn = &exp
		}
		r.UpdatedAt = c.clock()
		out = r
		return tx.UpdateRegimen(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("while recording refill of regimen %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Recorded refill", slog.String("user", userID), slog.String("regimen", id), slog.Int64("quantity", quantity))
	return out, nil
}

func getOwned(ctx context.Context, tx dblayer.Tx, userID, id string) (*dbtypes.Regimen, error) {
	r, err := tx.GetRegimen(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, fmt.Errorf("regimen %s: %w", id, dbtypes.ErrNotFound)
	}
	return r, nil
}

// nextCreation returns a creation time later than every one in existing, so
// that a user's regimens keep a strict creation order even when the clock
// stands still.  Firestore keeps microseconds, hence the step.
func nextCreation(existing []*dbtypes.Regimen, now time.Time) time.Time {
	for _, r := range existing {
		if !now.After(r.CreatedAt) {
			now = r.CreatedAt.Add(time.Microsecond)
		}
	}
	return now
}
