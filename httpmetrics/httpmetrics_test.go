package httpmetrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opencensus.io/stats/view"
)

func TestRecordsRouteAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/regimens/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	w := New("test", mux)
	if err := w.RegisterMetrics(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer w.UnregisterMetrics()

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		w.ServeHTTP(rec, httptest.NewRequest("GET", "/api/regimens/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Got status %d, want 404", rec.Code)
		}
	}

	rows, err := view.RetrieveData("test/requests")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Got %d rows, want one per route and status: %v", len(rows), rows)
	}

	tags := map[string]string{}
	for _, tg := range rows[0].Tags {
		tags[tg.Key.Name()] = tg.Value
	}
	if tags["route"] != "GET /api/regimens/{id}" || tags["status"] != "404" {
		t.Errorf("Got tags %v", tags)
	}
	if count := rows[0].Data.(*view.CountData).Value; count != 2 {
		t.Errorf("Got count %d, want 2", count)
	}
}
