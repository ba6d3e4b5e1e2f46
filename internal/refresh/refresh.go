// ABOUTME: Scheduled refresher that re-reads /info for every registered extension
// ABOUTME: Updates stored metadata when it changed; failing extensions are logged and skipped

package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"

	"github.com/2389/jesseverse/internal/extension"
	"github.com/2389/jesseverse/internal/store"
)

// ErrAlreadyRunning is returned by RunOnce when another run is in progress.
var ErrAlreadyRunning = errors.New("refresh already running")

// InfoFetcher reads an extension's /info.
type InfoFetcher interface {
	Info(ctx context.Context, baseURL string) (*extension.Info, error)
}

// Report summarizes one refresh run.
type Report struct {
	Checked int      `json:"checked"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Config holds refresher dependencies.
type Config struct {
	Store          store.ExtensionStore
	Fetcher        InfoFetcher
	Schedule       string // cron spec such as "@every 1h"; empty disables scheduling
	MaxConcurrency int
	RunTimeout     time.Duration
	Logger         *slog.Logger
}

// Refresher keeps stored extension metadata in step with what extensions
// report. Capabilities are never cached, so only /info is refreshed.
type Refresher struct {
	store          store.ExtensionStore
	fetcher        InfoFetcher
	schedule       string
	maxConcurrency int
	runTimeout     time.Duration
	logger         *slog.Logger

	running sync.Mutex
	mu      sync.Mutex
	cron    *rcron.Cron
}

// New creates a Refresher.
func New(cfg Config) *Refresher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 4
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Refresher{
		store:          cfg.Store,
		fetcher:        cfg.Fetcher,
		schedule:       cfg.Schedule,
		maxConcurrency: maxConcurrency,
		runTimeout:     runTimeout,
		logger:         logger.With("component", "refresh"),
	}
}

// Start schedules periodic runs. It is a no-op when no schedule is set.
// Scheduled runs stop when ctx is done or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	if r.schedule == "" {
		r.logger.Debug("metadata refresh disabled")
		return nil
	}

	c := rcron.New()
	if _, err := c.AddFunc(r.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
		defer cancel()

		report, err := r.RunOnce(runCtx)
		if err != nil {
			r.logger.Warn("scheduled refresh skipped", "error", err)
			return
		}
		r.logger.Info("scheduled refresh complete",
			"checked", report.Checked,
			"updated", report.Updated,
			"failed", report.Failed,
		)
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	c.Start()
	r.logger.Info("metadata refresh scheduled", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce refreshes every registered extension now. Runs never overlap.
func (r *Refresher) RunOnce(ctx context.Context) (*Report, error) {
	if !r.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Unlock()

	exts, err := r.store.ListExtensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing extensions: %w", err)
	}

	type outcome struct {
		updated bool
		err     error
	}
	outcomes := make([]outcome, len(exts))

	p := pool.New().WithMaxGoroutines(r.maxConcurrency)
	for i, ext := range exts {
		p.Go(func() {
			updated, err := r.refreshOne(ctx, ext)
			outcomes[i] = outcome{updated: updated, err: err}
		})
	}
	p.Wait()

	report := &Report{Checked: len(exts)}
	for i, o := range outcomes {
		switch {
		case o.err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", exts[i].Name, o.err))
		case o.updated:
			report.Updated++
		}
	}
	return report, nil
}

// refreshOne re-reads /info and upserts when any metadata field changed.
func (r *Refresher) refreshOne(ctx context.Context, ext *store.Extension) (bool, error) {
	info, err := r.fetcher.Info(ctx, ext.URL)
	if err != nil {
		r.logger.Warn("extension refresh failed", "extension", ext.Name, "error", err)
		return false, err
	}

	next := *ext
	next.Title = info.Title
	next.Description = info.Description
	next.Version = info.Version
	next.Author = info.Author
	next.IconURL = info.IconURL
	next.HomepageURL = info.HomepageURL

	if sameMetadata(ext, &next) {
		return false, nil
	}

	if _, err := r.store.UpsertExtension(ctx, &next); err != nil {
		return false, fmt.Errorf("storing refreshed metadata: %w", err)
	}
	r.logger.Info("extension metadata updated",
		"extension", ext.Name,
		"old_version", ext.Version,
		"new_version", next.Version,
	)
	return true, nil
}

func sameMetadata(a, b *store.Extension) bool {
	return a.Title == b.Title &&
		a.Description == b.Description &&
		a.Version == b.Version &&
		a.Author == b.Author &&
		a.IconURL == b.IconURL &&
		a.HomepageURL == b.HomepageURL
}
