package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medtracker/dblayer"
	"medtracker/healthz"
	"medtracker/monitoring"
	"medtracker/poller"
	"medtracker/tracker"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/sendgrid/sendgrid-go"
	secretmanagerpb "google.golang.org/genproto/googleapis/cloud/secretmanager/v1"
)

var (
	debugListen       = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	recheckPeriod     = flag.Duration("recheck-period", 1*time.Hour, "Time between scans")
	dataProject       = flag.String("data-project", "", "GCP project that contains the application state.")
	storeBackend      = flag.String("store-backend", "firestore", "Where application state lives: firestore, badger or memory.")
	badgerDir         = flag.String("badger-dir", "", "Data directory for the badger store backend.")
	credentialsFile   = flag.String("credentials-file", "", "Service account key for Firestore.  Application Default Credentials are used if empty.")
	timezone          = flag.String("timezone", "UTC", "IANA time zone that alert dates are evaluated in.")
	sendgridKeySecret = flag.String("sendgrid-key-secret", "", "GCP Secret Manager secret name that contains the Sendgrid API key")
	sendRate          = flag.Float64("send-rate", 2, "Maximum alert mails per second.")
	webUIBase         = flag.String("web-ui-base", "https://medtracker.dev", "Base URL of the web UI, linked from alert mails.")

	enableProfiling      = flag.Bool("enable-profiling", false, "")
	enableTracing        = flag.Bool("enable-tracing", false, "")
	enableMetrics        = flag.Bool("enable-metrics", false, "")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.01, "What ratio of traces should be exported?")
)

func main() {
	flag.Parse()

	slog.Info("Starting up")
	slog.Info(
		"Flags",
		slog.String("debug-listen", *debugListen),
		slog.Duration("recheck-period", *recheckPeriod),
		slog.String("data-project", *dataProject),
		slog.String("store-backend", *storeBackend),
		slog.String("timezone", *timezone),
		slog.String("sendgrid-key-secret", *sendgridKeySecret),
		slog.Float64("send-rate", *sendRate),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := do(ctx); err != nil {
		slog.ErrorContext(ctx, "Error", slog.Any("err", err))
		os.Exit(255)
	}
}

func do(ctx context.Context) error {
	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		return fmt.Errorf("while loading time zone: %w", err)
	}

	stopMonitoring, err := monitoring.Install(ctx, monitoring.Options{
		Service:         "medtracker-poller",
		Project:         *monitoringProject,
		EnableProfiling: *enableProfiling,
		EnableTracing:   *enableTracing,
		EnableMetrics:   *enableMetrics,
		TraceRatio:      *monitoringTraceRatio,
	})
	defer stopMonitoring()
	if err != nil {
		return fmt.Errorf("while setting up monitoring: %w", err)
	}

	sg, err := newSendgridClient(ctx)
	if err != nil {
		return fmt.Errorf("while creating Sendgrid client: %w", err)
	}

	store, err := dblayer.Open(ctx, dblayer.Config{
		Backend:         *storeBackend,
		DataProject:     *dataProject,
		CredentialsFile: *credentialsFile,
		BadgerDir:       *badgerDir,
	})
	if err != nil {
		return fmt.Errorf("while opening store: %w", err)
	}
	defer store.Close()

	p := poller.New(
		tracker.New(store, time.Now),
		poller.NewSendgridNotifier(sg, *sendRate),
		*recheckPeriod,
		loc,
		poller.WithBaseURL(*webUIBase),
	)

	debugServeMux := http.NewServeMux()
	debugServeMux.Handle("/healthz", healthz.New(nil))
	debugServeMux.Handle("/readyz", healthz.New(map[string]healthz.Check{
		"poller": p.Ready,
	}))
	debugServeMux.HandleFunc("/debug/pprof/", pprof.Index)
	debugServeMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debugServer := &http.Server{
		Addr:    *debugListen,
		Handler: debugServeMux,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "Debug server died", slog.Any("err", err))
			os.Exit(255)
		}
	}()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go func() {
		p.Run(pollCtx)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh

	slog.InfoContext(ctx, "Shutting down")
	stopPolling()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return debugServer.Shutdown(shutdownCtx)
}

func newSendgridClient(ctx context.Context) (*sendgrid.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	secretClient, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("while creating Secret Manager client: %w", err)
	}
	defer secretClient.Close()

	resp, err := secretClient.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", *dataProject, *sendgridKeySecret),
	})
	if err != nil {
		return nil, fmt.Errorf("while pulling secret: %w", err)
	}

	return sendgrid.NewSendClient(string(resp.GetPayload().GetData())), nil
}
