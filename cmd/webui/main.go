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
	"medtracker/httpmetrics"
	"medtracker/monitoring"
	"medtracker/tracker"
	"medtracker/webui"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

var (
	debugListen     = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	uiListen        = flag.String("ui-listen", "127.0.0.1:8000", "Server address:port for ui endpoint.")
	dataProject     = flag.String("data-project", "", "GCP project that contains the application state.")
	storeBackend    = flag.String("store-backend", "firestore", "Where application state lives: firestore, badger or memory.")
	badgerDir       = flag.String("badger-dir", "", "Data directory for the badger store backend.")
	credentialsFile = flag.String("credentials-file", "", "Service account key for Firestore.  Application Default Credentials are used if empty.")
	timezone        = flag.String("timezone", "UTC", "IANA time zone that schedules are evaluated in.")
	devUser         = flag.String("dev-user", "", "Act as this user instead of reading the IAP identity header.  For local development only.")

	enableProfiling      = flag.Bool("enable-profiling", false, "")
	enableTracing        = flag.Bool("enable-tracing", false, "")
	enableMetrics        = flag.Bool("enable-metrics", false, "")
	monitoringProject    = flag.String("monitoring-project", "", "Override project used for monitoring integration.")
	monitoringTraceRatio = flag.Float64("monitoring-trace-ratio", 0.01, "What ratio of traces should be exported?")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	slog.Info("Starting up")
	slog.Info(
		"Flags",
		slog.String("debug-listen", *debugListen),
		slog.String("ui-listen", *uiListen),
		slog.String("data-project", *dataProject),
		slog.String("store-backend", *storeBackend),
		slog.String("badger-dir", *badgerDir),
		slog.String("timezone", *timezone),
		slog.String("dev-user", *devUser),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := do(ctx); err != nil {
		slog.ErrorContext(ctx, "Error", slog.Any("err", err))
		glog.Flush()
		os.Exit(255)
	}
}

func do(ctx context.Context) error {
	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		return fmt.Errorf("while loading time zone: %w", err)
	}

	stopMonitoring, err := monitoring.Install(ctx, monitoring.Options{
		Service:         "medtracker-webui",
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

	tr := tracker.New(store, time.Now)

	opts := []webui.Option{webui.WithLocation(loc)}
	if *devUser != "" {
		opts = append(opts, webui.WithDevUser(*devUser))
	}
	ui := webui.New(tr, opts...)
	uiServeMux := http.NewServeMux()
	ui.Register(uiServeMux)

	metered := httpmetrics.New("medtracker/webui", uiServeMux)
	if err := metered.RegisterMetrics(); err != nil {
		return fmt.Errorf("while registering HTTP metrics: %w", err)
	}
	defer metered.UnregisterMetrics()

	uiServer := &http.Server{
		Addr:    *uiListen,
		Handler: metered,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	debugServeMux := http.NewServeMux()
	debugServeMux.Handle("/healthz", healthz.New(nil))
	debugServeMux.Handle("/readyz", healthz.New(map[string]healthz.Check{
		"store": func(ctx context.Context) error {
			_, err := store.ListUserIDs(ctx)
			return err
		},
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

	eg, egCtx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{debugServer, uiServer} {
		eg.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s died: %w", srv.Addr, err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-signalCh:
			slog.InfoContext(ctx, "Shutting down")
		case <-egCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(uiServer.Shutdown(shutdownCtx), debugServer.Shutdown(shutdownCtx))
	})

	return eg.Wait()
}
