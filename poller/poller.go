package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"medtracker/alerts"
	"medtracker/tracker"
	"medtracker/webui"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Digest is the alert mail for one person.
type Digest struct {
	Email      string
	Date       civil.Date
	LowStock   []*alerts.LowStockAlert
	NearExpiry []*alerts.NearExpiryAlert
	TodayLink  string
}

// Notifier delivers a digest.
type Notifier interface {
	Notify(ctx context.Context, d *Digest) error
}

// Poller runs an infinite loop, mailing each person the low-stock and
// near-expiry warnings for their regimens.  A person is only mailed again
// when their set of warnings changes.
type Poller struct {
	tracker       *tracker.Tracker
	notifier      Notifier
	recheckPeriod time.Duration
	location      *time.Location
	concurrency   int64
	baseURL       string

	mu sync.Mutex
	// Fingerprint of the last digest sent, per user.
	lastSent map[string]string

	ready atomic.Bool
}

type Option func(*Poller)

// WithBaseURL sets the web UI origin that digests link to.
func WithBaseURL(base string) Option {
	return func(p *Poller) {
		p.baseURL = strings.TrimSuffix(base, "/")
	}
}

func New(t *tracker.Tracker, notifier Notifier, recheckPeriod time.Duration, location *time.Location, opts ...Option) *Poller {
	if location == nil {
		location = time.UTC
	}
	p := &Poller{
		tracker:       t,
		notifier:      notifier,
		recheckPeriod: recheckPeriod,
		location:      location,
		concurrency:   16,
		baseURL:       "https://medtracker.dev",
		lastSent:      map[string]string{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ready reports nil once a pass over every user has completed.
func (p *Poller) Ready(ctx context.Context) error {
	if !p.ready.Load() {
		return errors.New("first poller pass has not completed")
	}
	return nil
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.recheckPeriod)
	defer ticker.Stop()

	// Poll once right away --- ticker doesn't fire until the tick period has
	// elapsed.
	if err := p.PollUsers(ctx); err != nil {
		slog.ErrorContext(ctx, "Error during poller pass", slog.Any("err", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.PollUsers(ctx); err != nil {
			slog.ErrorContext(ctx, "Error during poller pass", slog.Any("err", err))
		}
	}
}

// PollUsers checks every user once.  A failure for one user does not stop the
// others; the errors are joined.
func (p *Poller) PollUsers(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting poller pass")
	defer func() {
		slog.InfoContext(ctx, "Finished poller pass")
	}()

	users, err := p.tracker.Users(ctx)
	if err != nil {
		return fmt.Errorf("while listing users: %w", err)
	}

	today := civil.DateOf(p.tracker.Now().In(p.location))

	var (
		errsMu sync.Mutex
		errs   []error
	)

	// Use errgroup and semaphore to limit concurrency.
	eg, egCtx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(p.concurrency)
	for _, user := range users {
		if err := sem.Acquire(egCtx, 1); err != nil {
			return fmt.Errorf("while acquiring concurrency limiter semaphore: %w", err)
		}
		eg.Go(func() error {
			defer sem.Release(1)
			if err := p.processUser(egCtx, user, today); err != nil {
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("while polling user %s: %w", user, err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("while waiting for completion of errgroup: %w", err)
	}

	p.ready.Store(true)
	return errors.Join(errs...)
}

func (p *Poller) processUser(ctx context.Context, user string, today civil.Date) error {
	report, err := p.tracker.Alerts(ctx, user, today)
	if err != nil {
		return err
	}

	fp := fingerprint(report)

	p.mu.Lock()
	last := p.lastSent[user]
	p.mu.Unlock()

	if fp == last {
		return nil
	}
	if report.Empty() {
		// Everything was resolved; the next warning is news again.
		p.mu.Lock()
		delete(p.lastSent, user)
		p.mu.Unlock()
		return nil
	}

	digest := &Digest{
		Email:      user,
		Date:       today,
		LowStock:   report.LowStock,
		NearExpiry: report.NearExpiry,
		TodayLink:  p.baseURL + webui.TodayLink(today),
	}
	slog.InfoContext(ctx, "Sending alert digest", slog.String("user", user), slog.Int("low-stock", len(digest.LowStock)), slog.Int("near-expiry", len(digest.NearExpiry)))
	if err := p.notifier.Notify(ctx, digest); err != nil {
		return fmt.Errorf("while sending alert digest: %w", err)
	}

	p.mu.Lock()
	p.lastSent[user] = fp
	p.mu.Unlock()
	return nil
}

// fingerprint identifies which regimens are in which kind of trouble.  Stock
// that keeps dropping below the threshold does not change it.
func fingerprint(report *alerts.Report) string {
	var parts []string
	for _, a := range report.LowStock {
		parts = append(parts, "low:"+a.Regimen.ID)
	}
	for _, a := range report.NearExpiry {
		parts = append(parts, "expiry:"+a.Regimen.ID)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
