package dblayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"medtracker/dbtypes"

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

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRegimen(userID, name string, createdOffset time.Duration) *dbtypes.Regimen {
	return &dbtypes.Regimen{
		UserID:       userID,
		Kind:         dbtypes.KindMedication,
		Category:     dbtypes.CategoryCardiac,
		Name:         name,
		Dose:         "5mg",
		UnitsPerDose: 1,
		Route:        dbtypes.RouteOral,
		Times:        []dbtypes.ClockTime{dbtypes.MustParseClockTime("08:00"), dbtypes.MustParseClockTime("20:00")},
		Days:         dbtypes.SpecificDays(time.Monday, time.Thursday),
		StartOn:      date("2024-01-01"),
		Inventory:    &dbtypes.Inventory{Total: 30, Remaining: 30, AlertThreshold: 5},
		CreatedAt:    epoch.Add(createdOffset),
		UpdatedAt:    epoch.Add(createdOffset),
	}
}

func newRecord(userID, regimenID, day, clock string) *dbtypes.AdherenceRecord {
	return &dbtypes.AdherenceRecord{
		UserID:    userID,
		RegimenID: regimenID,
		Date:      date(day),
		Time:      dbtypes.MustParseClockTime(clock),
		Taken:     true,
		ActedAt:   epoch,
	}
}

// runStoreSuite exercises the Store contract; every backend must pass it.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RegimenRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		in := newRegimen("alice", "Atenolol", 0)
		end := date("2024-12-31")
		in.EndOn = &end
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateRegimen(ctx, in)
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if in.ID == "" {
			t.Fatalf("CreateRegimen did not assign an ID")
		}

		var got *dbtypes.Regimen
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			got, err = tx.GetRegimen(ctx, in.ID)
			return err
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if diff := cmp.Diff(got, in); diff != "" {
			t.Errorf("Bad regimen; diff (-got +want)\n%s", diff)
		}
	})

	t.Run("UnknownRegimen", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetRegimen(ctx, "nope")
			return err
		})
		if !errors.Is(err, dbtypes.ErrNotFound) {
			t.Errorf("GetRegimen of unknown id: got err %v, want ErrNotFound", err)
		}

		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			r := newRegimen("alice", "Ghost", 0)
			r.ID = "nope"
			return tx.UpdateRegimen(ctx, r)
		})
		if !errors.Is(err, dbtypes.ErrNotFound) {
			t.Errorf("UpdateRegimen of unknown id: got err %v, want ErrNotFound", err)
		}
	})

	t.Run("ListRegimensByUserInCreationOrder", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			for _, r := range []*dbtypes.Regimen{
				newRegimen("alice", "Second", 2*time.Hour),
				newRegimen("bob", "Other", 0),
				newRegimen("alice", "First", time.Hour),
			} {
				if err := tx.CreateRegimen(ctx, r); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		var names []string
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			rs, err := tx.ListRegimens(ctx, "alice")
			for _, r := range rs {
				names = append(names, r.Name)
			}
			return err
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if diff := cmp.Diff(names, []string{"First", "Second"}); diff != "" {
			t.Errorf("Bad listing; diff (-got +want)\n%s", diff)
		}

		users, err := s.ListUserIDs(ctx)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if diff := cmp.Diff(users, []string{"alice", "bob"}); diff != "" {
			t.Errorf("Bad users; diff (-got +want)\n%s", diff)
		}
	})

	t.Run("RecordKeyIsUnique", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		create := func(ctx context.Context, tx Tx) error {
			return tx.CreateRecord(ctx, newRecord("alice", "r1", "2024-01-04", "08:00"))
		}
		if err := s.RunTransaction(ctx, create); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := s.RunTransaction(ctx, create); !errors.Is(err, dbtypes.ErrConflict) {
			t.Errorf("Second CreateRecord: got err %v, want ErrConflict", err)
		}

		// PutRecord replaces.
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			rec := newRecord("alice", "r1", "2024-01-04", "08:00")
			rec.Taken = false
			rec.SkipReason = "Esqueci"
			return tx.PutRecord(ctx, rec)
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		var recs []*dbtypes.AdherenceRecord
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			recs, err = tx.ListRecords(ctx, "alice", date("2024-01-04"), date("2024-01-04"))
			return err
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(recs) != 1 || recs[0].Taken || recs[0].SkipReason != "Esqueci" {
			t.Errorf("Bad records after replace: %+v", recs)
		}
	})

	t.Run("DeleteRecord", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		rec := newRecord("alice", "r1", "2024-01-04", "08:00")
		if err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error { return tx.CreateRecord(ctx, rec) }); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error { return tx.DeleteRecord(ctx, rec.Key()) }); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetRecord(ctx, rec.Key())
			return err
		})
		if !errors.Is(err, dbtypes.ErrNotFound) {
			t.Errorf("GetRecord after delete: got err %v, want ErrNotFound", err)
		}
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error { return tx.DeleteRecord(ctx, rec.Key()) })
		if !errors.Is(err, dbtypes.ErrNotFound) {
			t.Errorf("Second DeleteRecord: got err %v, want ErrNotFound", err)
		}
	})

	t.Run("ListRecordsRange", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			for _, rec := range []*dbtypes.AdherenceRecord{
				newRecord("alice", "r1", "2024-01-03", "08:00"),
				newRecord("alice", "r2", "2024-01-04", "20:00"),
				newRecord("alice", "r1", "2024-01-04", "20:00"),
				newRecord("alice", "r1", "2024-01-04", "08:00"),
				newRecord("alice", "r1", "2024-01-06", "08:00"),
				newRecord("bob", "r3", "2024-01-04", "08:00"),
			} {
				if err := tx.CreateRecord(ctx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		var got []string
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			recs, err := tx.ListRecords(ctx, "alice", date("2024-01-04"), date("2024-01-05"))
			for _, rec := range recs {
				got = append(got, rec.Key().String())
			}
			return err
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want := []string{
			"alice/r1/2024-01-04/0800",
			"alice/r1/2024-01-04/2000",
			"alice/r2/2024-01-04/2000",
		}
		if diff := cmp.Diff(got, want); diff != "" {
			t.Errorf("Bad records; diff (-got +want)\n%s", diff)
		}
	})

	t.Run("FailedTransactionLeavesNoTrace", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		boom := errors.New("boom")
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.CreateRecord(ctx, newRecord("alice", "r1", "2024-01-04", "08:00")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Got err %v, want %v", err, boom)
		}

		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			recs, err := tx.ListRecords(ctx, "alice", date("2024-01-01"), date("2024-12-31"))
			if len(recs) != 0 {
				t.Errorf("Records leaked from an aborted transaction: %+v", recs)
			}
			return err
		})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewBadgerStore(t.TempDir())
		if err != nil {
			t.Fatalf("Unexpected error opening badger: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// conflictOnce fails the first transaction with ErrConflict.
type conflictOnce struct {
	Store
	calls int
}

func (c *conflictOnce) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	c.calls++
	if c.calls == 1 {
		return dbtypes.ErrConflict
	}
	return c.Store.RunTransaction(ctx, fn)
}

func TestUpdateRetriesConflictOnce(t *testing.T) {
	ctx := context.Background()

	s := &conflictOnce{Store: NewMemoryStore()}
	if err := Update(ctx, s, func(ctx context.Context, tx Tx) error { return nil }); err != nil {
		t.Errorf("Update did not recover from a single conflict: %v", err)
	}
	if s.calls != 2 {
		t.Errorf("Got %d attempts, want 2", s.calls)
	}

	always := &alwaysConflict{}
	if err := Update(ctx, always, func(ctx context.Context, tx Tx) error { return nil }); !errors.Is(err, dbtypes.ErrConflict) {
		t.Errorf("Got err %v, want ErrConflict", err)
	}
	if always.calls != 2 {
		t.Errorf("Got %d attempts, want exactly 2", always.calls)
	}
}

type alwaysConflict struct {
	MemoryStore
	calls int
}

func (a *alwaysConflict) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	a.calls++
	return dbtypes.ErrConflict
}

func TestRecordKeyOrdering(t *testing.T) {
	a := RecordKey(dbtypes.DoseKey{UserID: "u", RegimenID: "z", Date: date("2024-01-04"), Time: dbtypes.MustParseClockTime("23:00")})
	b := RecordKey(dbtypes.DoseKey{UserID: "u", RegimenID: "a", Date: date("2024-01-05"), Time: dbtypes.MustParseClockTime("00:00")})
	if string(a) >= string(b) {
		t.Errorf("Record keys do not sort by date first")
	}
}
