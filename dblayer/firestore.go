package dblayer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	regimensCollection = "Regimens"
	recordsCollection  = "AdherenceRecords"
)

// FirestoreStore keeps regimens and adherence records in Firestore.
//
// Adherence records are stored under a document ID derived from their
// DoseKey, so the one-record-per-key rule is enforced by Firestore itself.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := startSpan(ctx, "FirestoreStore.RunTransaction", attribute.String("backend", "firestore"))

	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{client: s.client, txn: txn})
	})
	return endSpan(span, mapFirestoreError(err))
}

func (s *FirestoreStore) ListUserIDs(ctx context.Context) ([]string, error) {
	ctx, span := startSpan(ctx, "FirestoreStore.ListUserIDs", attribute.String("backend", "firestore"))

	seen := map[string]bool{}
	var out []string
	iter := s.client.Collection(regimensCollection).Select("userId").Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, endSpan(span, fmt.Errorf("while iterating regimens: %w", err))
		}

		userID, err := snap.DataAt("userId")
		if err != nil {
			return nil, endSpan(span, fmt.Errorf("while reading owner of regimen %s: %w", snap.Ref.ID, err))
		}
		id, _ := userID.(string)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, endSpan(span, nil)
}

// mapFirestoreError turns Firestore status codes into dbtypes error kinds.
// Errors returned by the transaction function pass through unchanged.
func mapFirestoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dbtypes.ErrNotFound) || errors.Is(err, dbtypes.ErrConflict) || errors.Is(err, dbtypes.ErrValidation) {
		return err
	}
	switch status.Code(err) {
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%v: %w", err, dbtypes.ErrConflict)
	case codes.NotFound:
		return fmt.Errorf("%v: %w", err, dbtypes.ErrNotFound)
	}
	return err
}

type firestoreTx struct {
	client *firestore.Client
	txn    *firestore.Transaction
}

func (tx *firestoreTx) regimenRef(id string) *firestore.DocumentRef {
	return tx.client.Collection(regimensCollection).Doc(id)
}

// recordDocID hashes the key; user IDs may contain characters that are not
// allowed in document IDs.
func recordDocID(key dbtypes.DoseKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

func (tx *firestoreTx) recordRef(key dbtypes.DoseKey) *firestore.DocumentRef {
	return tx.client.Collection(recordsCollection).Doc(recordDocID(key))
}

func (tx *firestoreTx) GetRegimen(ctx context.Context, id string) (*dbtypes.Regimen, error) {
	snap, err := tx.txn.Get(tx.regimenRef(id))
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("regimen %s: %w", id, dbtypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving regimen %s: %w", id, err)
	}

	doc := &fsRegimen{}
	if err := snap.DataTo(doc); err != nil {
		return nil, fmt.Errorf("while unmarshaling regimen %s: %w", id, err)
	}
	return doc.toRegimen(snap.Ref.ID)
}

func (tx *firestoreTx) ListRegimens(ctx context.Context, userID string) ([]*dbtypes.Regimen, error) {
	q := tx.client.Collection(regimensCollection).Where("userId", "==", userID)
	snaps, err := tx.txn.Documents(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("while listing regimens of %s: %w", userID, err)
	}

	out := make([]*dbtypes.Regimen, 0, len(snaps))
	for _, snap := range snaps {
		doc := &fsRegimen{}
		if err := snap.DataTo(doc); err != nil {
			return nil, fmt.Errorf("while unmarshaling regimen %s: %w", snap.Ref.ID, err)
		}
		r, err := doc.toRegimen(snap.Ref.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return regimenLess(out[i], out[j]) })
	return out, nil
}

func (tx *firestoreTx) CreateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	var ref *firestore.DocumentRef
	if r.ID == "" {
		ref = tx.client.Collection(regimensCollection).NewDoc()
		r.ID = ref.ID
	} else {
		ref = tx.regimenRef(r.ID)
	}
	if err := tx.txn.Create(ref, fromRegimen(r)); err != nil {
		return fmt.Errorf("while creating regimen %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRegimen rewrites every field with an Update, which, unlike Set, fails
// at commit when the document does not exist.
func (tx *firestoreTx) UpdateRegimen(ctx context.Context, r *dbtypes.Regimen) error {
	if err := tx.txn.Update(tx.regimenRef(r.ID), fromRegimen(r).updates()); err != nil {
		return fmt.Errorf("while updating regimen %s: %w", r.ID, err)
	}
	return nil
}

func (tx *firestoreTx) GetRecord(ctx context.Context, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error) {
	snap, err := tx.txn.Get(tx.recordRef(key))
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("adherence record %s: %w", key, dbtypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving adherence record %s: %w", key, err)
	}

	doc := &fsRecord{}
	if err := snap.DataTo(doc); err != nil {
		return nil, fmt.Errorf("while unmarshaling adherence record %s: %w", key, err)
	}
	return doc.toRecord()
}

func (tx *firestoreTx) CreateRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	if rec.ID == "" {
		rec.ID = recordDocID(rec.Key())
	}
	// Create fails at commit with AlreadyExists when the key is taken.
	if err := tx.txn.Create(tx.recordRef(rec.Key()), fromRecord(rec)); err != nil {
		return fmt.Errorf("while creating adherence record %s: %w", rec.Key(), err)
	}
	return nil
}

func (tx *firestoreTx) PutRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error {
	if rec.ID == "" {
		rec.ID = recordDocID(rec.Key())
	}
	if err := tx.txn.Set(tx.recordRef(rec.Key()), fromRecord(rec)); err != nil {
		return fmt.Errorf("while writing adherence record %s: %w", rec.Key(), err)
	}
	return nil
}

func (tx *firestoreTx) DeleteRecord(ctx context.Context, key dbtypes.DoseKey) error {
	if err := tx.txn.Delete(tx.recordRef(key), firestore.Exists); err != nil {
		return fmt.Errorf("while deleting adherence record %s: %w", key, err)
	}
	return nil
}

func (tx *firestoreTx) ListRecords(ctx context.Context, userID string, from, to civil.Date) ([]*dbtypes.AdherenceRecord, error) {
	q := tx.client.Collection(recordsCollection).
		Where("userId", "==", userID).
		Where("date", ">=", from.String()).
		Where("date", "<=", to.String())
	snaps, err := tx.txn.Documents(q).GetAll()
	if err != nil {
		return nil, fmt.Errorf("while listing adherence records of %s: %w", userID, err)
	}

	out := make([]*dbtypes.AdherenceRecord, 0, len(snaps))
	for _, snap := range snaps {
		doc := &fsRecord{}
		if err := snap.DataTo(doc); err != nil {
			return nil, fmt.Errorf("while unmarshaling adherence record %s: %w", snap.Ref.ID, err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return recordLess(out[i], out[j]) })
	return out, nil
}

// fsRegimen is the Firestore document form of a regimen.  Dates and clock
// times are strings so that they can be queried and read in the console.
type fsRegimen struct {
	UserID           string       `firestore:"userId"`
	Kind             string       `firestore:"kind"`
	Category         string       `firestore:"category"`
	Name             string       `firestore:"name"`
	ActiveIngredient string       `firestore:"activeIngredient"`
	Dose             string       `firestore:"dose"`
	UnitsPerDose     int64        `firestore:"unitsPerDose"`
	Route            string       `firestore:"route"`
	TimeOfDay        string       `firestore:"timeOfDay"`
	Unit             string       `firestore:"unit"`
	Times            []string     `firestore:"times"`
	EveryDay         bool         `firestore:"everyDay"`
	Days             []string     `firestore:"days"`
	StartOn          string       `firestore:"startOn"`
	EndOn            string       `firestore:"endOn"`
	Inventory        *fsInventory `firestore:"inventory"`
	Deactivated      bool         `firestore:"deactivated"`
	DeactivatedAt    *time.Time   `firestore:"deactivatedAt"`
	CreatedAt        time.Time    `firestore:"createdAt"`
	UpdatedAt        time.Time    `firestore:"updatedAt"`
}

type fsInventory struct {
	Total          int64  `firestore:"total"`
	Remaining      int64  `firestore:"remaining"`
	AlertThreshold int64  `firestore:"alertThreshold"`
	ExpiresOn      string `firestore:"expiresOn"`
}

func fromRegimen(r *dbtypes.Regimen) *fsRegimen {
	doc := &fsRegimen{
		UserID:           r.UserID,
		Kind:             string(r.Kind),
		Category:         string(r.Category),
		Name:             r.Name,
		ActiveIngredient: r.ActiveIngredient,
		Dose:             r.Dose,
		UnitsPerDose:     r.UnitsPerDose,
		Route:            string(r.Route),
		TimeOfDay:        string(r.TimeOfDay),
		Unit:             string(r.Unit),
		EveryDay:         r.Days.IsAllDays(),
		Days:             dbtypes.WeekdayNames(r.Days.Days()),
		StartOn:          r.StartOn.String(),
		Deactivated:      r.Deactivated,
		DeactivatedAt:    r.DeactivatedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	for _, t := range r.Times {
		doc.Times = append(doc.Times, t.String())
	}
	if r.EndOn != nil {
		doc.EndOn = r.EndOn.String()
	}
	if r.Inventory != nil {
		doc.Inventory = &fsInventory{
			Total:          r.Inventory.Total,
			Remaining:      r.Inventory.Remaining,
			AlertThreshold: r.Inventory.AlertThreshold,
		}
		if r.Inventory.ExpiresOn != nil {
			doc.Inventory.ExpiresOn = r.Inventory.ExpiresOn.String()
		}
	}
	return doc
}

func (doc *fsRegimen) updates() []firestore.Update {
	return []firestore.Update{
		{Path: "userId", Value: doc.UserID},
		{Path: "kind", Value: doc.Kind},
		{Path: "category", Value: doc.Category},
		{Path: "name", Value: doc.Name},
		{Path: "activeIngredient", Value: doc.ActiveIngredient},
		{Path: "dose", Value: doc.Dose},
		{Path: "unitsPerDose", Value: doc.UnitsPerDose},
		{Path: "route", Value: doc.Route},
		{Path: "timeOfDay", Value: doc.TimeOfDay},
		{Path: "unit", Value: doc.Unit},
		{Path: "times", Value: doc.Times},
		{Path: "everyDay", Value: doc.EveryDay},
		{Path: "days", Value: doc.Days},
		{Path: "startOn", Value: doc.StartOn},
		{Path: "endOn", Value: doc.EndOn},
		{Path: "inventory", Value: doc.Inventory},
		{Path: "deactivated", Value: doc.Deactivated},
		{Path: "deactivatedAt", Value: doc.DeactivatedAt},
		{Path: "createdAt", Value: doc.CreatedAt},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
}

func (doc *fsRegimen) toRegimen(id string) (*dbtypes.Regimen, error) {
	r := &dbtypes.Regimen{
		ID:               id,
		UserID:           doc.UserID,
		Kind:             dbtypes.Kind(doc.Kind),
		Category:         dbtypes.Category(doc.Category),
		Name:             doc.Name,
		ActiveIngredient: doc.ActiveIngredient,
		Dose:             doc.Dose,
		UnitsPerDose:     doc.UnitsPerDose,
		Route:            dbtypes.Route(doc.Route),
		TimeOfDay:        dbtypes.TimeOfDay(doc.TimeOfDay),
		Unit:             dbtypes.Unit(doc.Unit),
		Deactivated:      doc.Deactivated,
		DeactivatedAt:    doc.DeactivatedAt,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}

	for _, s := range doc.Times {
		t, err := dbtypes.ParseClockTime(s)
		if err != nil {
			return nil, fmt.Errorf("while decoding regimen %s: %w", id, err)
		}
		r.Times = append(r.Times, t)
	}

	if doc.EveryDay {
		r.Days = dbtypes.AllDays()
	} else {
		days, err := dbtypes.ParseWeekdays(doc.Days)
		if err != nil {
			return nil, fmt.Errorf("while decoding regimen %s: %w", id, err)
		}
		r.Days = dbtypes.SpecificDays(days...)
	}

	var err error
	if r.StartOn, err = civil.ParseDate(doc.StartOn); err != nil {
		return nil, fmt.Errorf("while decoding start date of regimen %s: %w", id, err)
	}
	if r.EndOn, err = parseOptionalDate(doc.EndOn); err != nil {
		return nil, fmt.Errorf("while decoding end date of regimen %s: %w", id, err)
	}

	if doc.Inventory != nil {
		r.Inventory = &dbtypes.Inventory{
			Total:          doc.Inventory.Total,
			Remaining:      doc.Inventory.Remaining,
			AlertThreshold: doc.Inventory.AlertThreshold,
		}
		if r.Inventory.ExpiresOn, err = parseOptionalDate(doc.Inventory.ExpiresOn); err != nil {
			return nil, fmt.Errorf("while decoding expiry of regimen %s: %w", id, err)
		}
	}

	return r, nil
}

type fsRecord struct {
	ID                string    `firestore:"id"`
	UserID            string    `firestore:"userId"`
	RegimenID         string    `firestore:"regimenId"`
	Date              string    `firestore:"date"`
	Time              string    `firestore:"time"`
	Taken             bool      `firestore:"taken"`
	SkipReason        string    `firestore:"skipReason"`
	ActedAt           time.Time `firestore:"actedAt"`
	InventoryDeducted int64     `firestore:"inventoryDeducted"`
}

func fromRecord(rec *dbtypes.AdherenceRecord) *fsRecord {
	return &fsRecord{
		ID:                rec.ID,
		UserID:            rec.UserID,
		RegimenID:         rec.RegimenID,
		Date:              rec.Date.String(),
		Time:              rec.Time.String(),
		Taken:             rec.Taken,
		SkipReason:        rec.SkipReason,
		ActedAt:           rec.ActedAt,
		InventoryDeducted: rec.InventoryDeducted,
	}
}

func (doc *fsRecord) toRecord() (*dbtypes.AdherenceRecord, error) {
	d, err := civil.ParseDate(doc.Date)
	if err != nil {
		return nil, fmt.Errorf("while decoding date of adherence record %s: %w", doc.ID, err)
	}
	t, err := dbtypes.ParseClockTime(doc.Time)
	if err != nil {
		return nil, fmt.Errorf("while decoding time of adherence record %s: %w", doc.ID, err)
	}
	return &dbtypes.AdherenceRecord{
		ID:                doc.ID,
		UserID:            doc.UserID,
		RegimenID:         doc.RegimenID,
		Date:              d,
		Time:              t,
		Taken:             doc.Taken,
		SkipReason:        doc.SkipReason,
		ActedAt:           doc.ActedAt,
		InventoryDeducted: doc.InventoryDeducted,
	}, nil
}

func parseOptionalDate(s string) (*civil.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
