// Package monitoring hooks the binaries up to Cloud Trace, Cloud Monitoring
// and Cloud Profiler.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/profiler"
	"contrib.go.opencensus.io/exporter/stackdriver"
	cloudmetrics "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	cloudtrace "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Options struct {
	// Service name reported to the profiler and used as the metric prefix.
	Service string

	// Overrides the project used for monitoring.  If empty, the project
	// associated with Application Default Credentials is used.
	Project string

	EnableProfiling bool
	EnableTracing   bool
	EnableMetrics   bool

	// What ratio of traces should be exported?
	TraceRatio float64
}

// Install starts every enabled exporter.  The returned function flushes and
// stops them, and must be called before exit.
func Install(ctx context.Context, opts Options) (func(), error) {
	var stops []func()
	shutdown := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if metadata.OnGCE() {
		sa, err := metadata.Email("")
		if err != nil {
			return shutdown, fmt.Errorf("while fetching service account: %w", err)
		}
		slog.InfoContext(ctx, "Running on GCE", slog.String("service-account", sa))
	}

	// Cloud Profiler initialization, best done as early as possible.
	if opts.EnableProfiling {
		if err := profiler.Start(profiler.Config{
			Service:   opts.Service,
			ProjectID: opts.Project,
		}); err != nil {
			return shutdown, fmt.Errorf("while starting profiler: %w", err)
		}
	}

	if opts.EnableTracing {
		traceOpts := []cloudtrace.Option{}
		if opts.Project != "" {
			traceOpts = append(traceOpts, cloudtrace.WithProjectID(opts.Project))
		}
		_, traceShutdown, err := cloudtrace.InstallNewPipeline(traceOpts, sdktrace.WithSampler(sdktrace.TraceIDRatioBased(opts.TraceRatio)))
		if err != nil {
			return shutdown, fmt.Errorf("while installing Cloud Trace pipeline: %w", err)
		}
		stops = append(stops, traceShutdown)
	}

	if opts.EnableMetrics {
		metricsOpts := []cloudmetrics.Option{}
		if opts.Project != "" {
			metricsOpts = append(metricsOpts, cloudmetrics.WithProjectID(opts.Project))
		}
		pusher, err := cloudmetrics.InstallNewPipeline(metricsOpts)
		if err != nil {
			return shutdown, fmt.Errorf("while installing Cloud Monitoring pipeline: %w", err)
		}
		stops = append(stops, func() {
			if err := pusher.Stop(context.Background()); err != nil {
				slog.Error("Error stopping metrics pusher", slog.Any("err", err))
			}
		})

		// The HTTP request views are OpenCensus views.
		exporter, err := stackdriver.NewExporter(stackdriver.Options{
			ProjectID:         opts.Project,
			MetricPrefix:      opts.Service,
			ReportingInterval: 60 * time.Second,
		})
		if err != nil {
			return shutdown, fmt.Errorf("while creating Stackdriver exporter: %w", err)
		}
		if err := exporter.StartMetricsExporter(); err != nil {
			return shutdown, fmt.Errorf("while starting Stackdriver metrics exporter: %w", err)
		}
		stops = append(stops, func() {
			exporter.StopMetricsExporter()
			exporter.Flush()
		})
	}

	return shutdown, nil
}
