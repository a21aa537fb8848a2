// Package httpmetrics records OpenCensus request counts and latencies for an
// http.Handler.
package httpmetrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	keyRoute  = tag.MustNewKey("route")
	keyMethod = tag.MustNewKey("method")
	keyStatus = tag.MustNewKey("status")
)

type Wrapper struct {
	requestCount       *stats.Int64Measure
	requestLatency     *stats.Float64Measure
	requestCountView   *view.View
	requestLatencyView *view.View

	inner http.Handler
}

// New wraps inner.  prefix namespaces the measures so several wrapped
// servers can share a process.
func New(prefix string, inner http.Handler) *Wrapper {
	w := &Wrapper{}

	tagKeys := []tag.Key{keyRoute, keyMethod, keyStatus}

	w.requestCount = stats.Int64(prefix+"/requests", "Requests handled", stats.UnitDimensionless)
	w.requestCountView = &view.View{
		Name:        prefix + "/requests",
		Description: "Counter of requests that have been handled",
		TagKeys:     tagKeys,
		Measure:     w.requestCount,
		Aggregation: view.Count(),
	}

	w.requestLatency = stats.Float64(prefix+"/latency", "Request latency", stats.UnitMilliseconds)
	w.requestLatencyView = &view.View{
		Name:        prefix + "/latency",
		Description: "Distribution of request latency",
		TagKeys:     tagKeys,
		Measure:     w.requestLatency,
		Aggregation: view.Distribution(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	}

	w.inner = inner
	return w
}

func (h *Wrapper) RegisterMetrics() error {
	return view.Register(h.requestCountView, h.requestLatencyView)
}

func (h *Wrapper) UnregisterMetrics() {
	view.Unregister(h.requestCountView, h.requestLatencyView)
}

// statusRecorder remembers the status code written by the inner handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Wrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	h.inner.ServeHTTP(rec, r)

	// The matched mux pattern keeps path parameters out of the tag values.
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	elapsed := time.Since(start)

	slog.DebugContext(r.Context(), "Served request", slog.String("route", route), slog.Int("status", rec.status), slog.Duration("elapsed", elapsed))

	stats.RecordWithOptions(
		r.Context(),
		stats.WithTags(
			tag.Insert(keyRoute, route),
			tag.Insert(keyMethod, r.Method),
			tag.Insert(keyStatus, strconv.Itoa(rec.status)),
		),
		stats.WithMeasurements(
			h.requestCount.M(1),
			h.requestLatency.M(float64(elapsed)/float64(time.Millisecond)),
		))
}
