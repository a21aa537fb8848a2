// Package dblayer is the repository boundary for regimens and adherence
// records.  Callers describe each unit of work as a transaction over a Tx; the
// backends (Firestore, Badger, memory) make it atomic.
package dblayer

import (
	"context"
	"errors"
	"log/slog"

	"medtracker/dbtypes"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is implemented by every backend.
type Store interface {
	// RunTransaction runs fn atomically.  fn may be invoked more than once by
	// backends that retry internally, so it must not leak state between runs.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListUserIDs returns every user that owns at least one regimen.
	ListUserIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Tx is a view of the store inside one transaction.  All reads must happen
// before the first write.
type Tx interface {
	// GetRegimen returns dbtypes.ErrNotFound for an unknown id.
	GetRegimen(ctx context.Context, id string) (*dbtypes.Regimen, error)

	// ListRegimens returns the user's regimens in creation order.
	ListRegimens(ctx context.Context, userID string) ([]*dbtypes.Regimen, error)

	// CreateRegimen assigns an ID when r.ID is empty.
	CreateRegimen(ctx context.Context, r *dbtypes.Regimen) error

	// UpdateRegimen returns dbtypes.ErrNotFound for an unknown id.
	UpdateRegimen(ctx context.Context, r *dbtypes.Regimen) error

	// GetRecord returns dbtypes.ErrNotFound when no record exists for key.
	GetRecord(ctx context.Context, key dbtypes.DoseKey) (*dbtypes.AdherenceRecord, error)

	// CreateRecord fails with dbtypes.ErrConflict when a record already exists
	// for the record's key.  An ID is assigned when empty.
	CreateRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error

	// PutRecord creates or replaces the record for its key.
	PutRecord(ctx context.Context, rec *dbtypes.AdherenceRecord) error

	// DeleteRecord returns dbtypes.ErrNotFound when no record exists for key.
	DeleteRecord(ctx context.Context, key dbtypes.DoseKey) error

	// ListRecords returns the user's records with from <= Date <= to, ordered
	// by date, then regimen, then time.
	ListRecords(ctx context.Context, userID string, from, to civil.Date) ([]*dbtypes.AdherenceRecord, error)
}

// Update runs fn in a transaction.  A transaction that fails with
// dbtypes.ErrConflict is run once more against fresh state before the
// conflict is returned.
func Update(ctx context.Context, store Store, fn func(ctx context.Context, tx Tx) error) error {
	err := store.RunTransaction(ctx, fn)
	if !errors.Is(err, dbtypes.ErrConflict) {
		return err
	}

	slog.InfoContext(ctx, "Retrying transaction after conflict", slog.Any("err", err))
	return store.RunTransaction(ctx, fn)
}

// View runs a read-only fn in a transaction.
func View(ctx context.Context, store Store, fn func(ctx context.Context, tx Tx) error) error {
	return store.RunTransaction(ctx, fn)
}

const tracerName = "medtracker/dblayer"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

// endSpan records the outcome of a traced operation and passes err through.
func endSpan(span trace.Span, err error) error {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// recordLess orders records by date, regimen, then time.
func recordLess(a, b *dbtypes.AdherenceRecord) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	if a.RegimenID != b.RegimenID {
		return a.RegimenID < b.RegimenID
	}
	return a.Time.Before(b.Time)
}

func regimenLess(a, b *dbtypes.Regimen) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func inRange(d, from, to civil.Date) bool {
	return !d.Before(from) && !d.After(to)
}
