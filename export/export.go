// Package export writes a person's regimens and adherence history as
// newline-delimited JSON.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"medtracker/dbtypes"
	"medtracker/tracker"

	"cloud.google.com/go/civil"
)

// Line is one line of an export.  Exactly one of Regimen and Record is set.
type Line struct {
	Type    string                   `json:"type"`
	Regimen *dbtypes.Regimen         `json:"regimen,omitempty"`
	Record  *dbtypes.AdherenceRecord `json:"record,omitempty"`
}

const (
	TypeRegimen = "regimen"
	TypeRecord  = "record"
)

// Stats counts what an export wrote.
type Stats struct {
	Regimens int
	Records  int
}

// Write emits every regimen of userID, deactivated ones included, followed
// by the user's adherence records dated from through to.
func Write(ctx context.Context, w io.Writer, t *tracker.Tracker, userID string, from, to civil.Date) (Stats, error) {
	var stats Stats

	regimens, err := t.Catalog().ListRegimens(ctx, userID)
	if err != nil {
		return stats, err
	}
	records, err := t.Ledger().RecordsBetween(ctx, userID, from, to)
	if err != nil {
		return stats, err
	}

	enc := json.NewEncoder(w)
	for _, r := range regimens {
		if err := enc.Encode(&Line{Type: TypeRegimen, Regimen: r}); err != nil {
			return stats, fmt.Errorf("while writing regimen %s: %w", r.ID, err)
		}
		stats.Regimens++
	}
	for _, rec := range records {
		if err := enc.Encode(&Line{Type: TypeRecord, Record: rec}); err != nil {
			return stats, fmt.Errorf("while writing record %v: %w", rec.Key(), err)
		}
		stats.Records++
	}
	return stats, nil
}

// Read decodes an export produced by Write.
func Read(r io.Reader) ([]*Line, error) {
	var out []*Line
	dec := json.NewDecoder(r)
	for dec.More() {
		l := &Line{}
		if err := dec.Decode(l); err != nil {
			return nil, fmt.Errorf("while decoding line %d: %w", len(out)+1, err)
		}
		out = append(out, l)
	}
	return out, nil
}
