// Package mixer resolves a pair of emoji to the URL of their emoji kitchen
// mash-up.
//
// The mapping is downloaded from a published metadata document, stored in
// SQLite and refreshed on demand. The first lookup against an empty store
// installs the mapping; later lookups never touch the network.
//
// Usage:
//
//	svc, err := mixer.New(cfg, logger)
//	defer svc.Close()
//	url, err := svc.ResolvePair(ctx, "😀_😂")
package mixer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/emojimix/idgen"
	"github.com/hazyhaar/emojimix/kit"
	"github.com/hazyhaar/emojimix/mixer/internal/fetch"
	"github.com/hazyhaar/emojimix/mixer/internal/refresh"
	"github.com/hazyhaar/emojimix/mixer/internal/store"
	"github.com/hazyhaar/emojimix/observability"
	"github.com/hazyhaar/emojimix/watch"
)

// Snapshot describes the installed mapping.
type Snapshot = store.Snapshot

// RefreshLogEntry is one recorded refresh attempt.
type RefreshLogEntry = store.RefreshLogEntry

// Service is the emojimix orchestrator.
type Service struct {
	cfg     *Config
	logger  *slog.Logger
	store   *store.Store
	coord   *refresh.Coordinator
	metrics *observability.MetricsManager
	watcher *watch.Watcher
}

type serviceOptions struct {
	db         *sql.DB
	httpClient *http.Client
	newID      idgen.Generator
	noMetrics  bool
}

// Option customises New.
type Option func(*serviceOptions)

// WithDB uses an already-opened database instead of opening cfg.DBPath.
// The caller keeps ownership of db.
func WithDB(db *sql.DB) Option { return func(o *serviceOptions) { o.db = db } }

// WithHTTPClient overrides the client used to download the document.
func WithHTTPClient(c *http.Client) Option {
	return func(o *serviceOptions) { o.httpClient = c }
}

// WithIDGenerator overrides refresh ID generation.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(o *serviceOptions) { o.newID = gen }
}

// WithoutMetrics disables the SQLite metrics recorder.
func WithoutMetrics() Option { return func(o *serviceOptions) { o.noMetrics = true } }

// New creates a Service. A nil cfg uses DefaultConfig; a nil logger uses
// slog.Default().
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mixer: config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	storeOpts := []store.Option{
		store.WithMemoTTL(cfg.Cache.TTL),
		store.WithMemoCapacity(cfg.Cache.Capacity),
	}
	var (
		st  *store.Store
		err error
	)
	if o.db != nil {
		st, err = store.New(o.db, storeOpts...)
	} else {
		st, err = store.Open(cfg.DBPath, storeOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("mixer: %w", err)
	}

	svc := &Service{
		cfg:    cfg,
		logger: logger,
		store:  st,
	}

	if !o.noMetrics {
		if err := observability.Init(st.DB); err != nil {
			svc.Close()
			return nil, fmt.Errorf("mixer: %w", err)
		}
		svc.metrics = observability.NewMetricsManager(st.DB, 100, 5*time.Second, logger)
	}

	f := fetch.New(fetch.Config{
		URL:       cfg.Fetch.URL,
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
		Client:    o.httpClient,
		Retries:   max(cfg.Fetch.Retries, 0),
		Backoff:   cfg.Fetch.RetryBackoff,
		Logger:    logger,
	})
	svc.coord = refresh.New(f, st, refresh.Config{
		RawPath: cfg.RawPath,
		Timeout: cfg.Refresh.Timeout,
		NewID:   o.newID,
		Metrics: svc.metrics,
		Logger:  logger,
	})
	svc.watcher = watch.New(st.DB, watch.Options{
		Interval: cfg.Watch.Interval,
		Detector: watch.MaxColumnDetector("snapshots", "generation"),
		Logger:   logger,
	})
	return svc, nil
}

// Close flushes metrics and closes the store.
func (svc *Service) Close() error {
	svc.metrics.Close()
	return svc.store.Close()
}

// Resolve returns the mash-up URL for the unordered pair {a, b}.
// Surrounding whitespace is ignored. If no mapping is installed yet, the
// first caller installs it.
func (svc *Service) Resolve(ctx context.Context, a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", ErrInputFormat
	}
	if err := svc.Bootstrap(ctx); err != nil {
		return "", err
	}

	url, err := svc.store.Lookup(ctx, a, b)
	switch {
	case err == nil:
		svc.recordLookup("hit")
		return url, nil
	case errors.Is(err, store.ErrNotFound):
		svc.recordLookup("miss")
		return "", ErrNotFound
	case errors.Is(err, store.ErrNotInitialized):
		return "", ErrNotInitialized
	default:
		svc.recordLookup("error")
		return "", fmt.Errorf("mixer: lookup: %w", err)
	}
}

// ResolvePair resolves a query of the form "<A>_<B>". Anything other than
// exactly two non-empty tokens is ErrInputFormat and touches neither the
// store nor the network.
func (svc *Service) ResolvePair(ctx context.Context, query string) (string, error) {
	parts := strings.Split(query, "_")
	if len(parts) != 2 {
		return "", ErrInputFormat
	}
	return svc.Resolve(ctx, parts[0], parts[1])
}

// Bootstrap installs the mapping if none is installed. When another caller
// is already refreshing, it waits for that refresh rather than starting a
// second one, polling every Refresh.BootstrapPoll.
func (svc *Service) Bootstrap(ctx context.Context) error {
	ok, err := svc.store.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("mixer: %w", err)
	}
	if ok {
		return nil
	}

	out, err := svc.coord.Refresh(ctx)
	if err != nil {
		return err
	}
	if out.Status == refresh.Completed {
		return nil
	}

	ticker := time.NewTicker(svc.cfg.Refresh.BootstrapPoll)
	defer ticker.Stop()
	for {
		inProgress := svc.coord.InProgress()
		ok, err := svc.store.Initialized(ctx)
		if err != nil {
			return fmt.Errorf("mixer: %w", err)
		}
		if ok {
			return nil
		}
		if !inProgress {
			// The other refresh ended without installing anything.
			return ErrNotInitialized
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh downloads the document and replaces the mapping. A concurrent call
// gets an outcome with Status RefreshAlreadyInProgress and no error.
func (svc *Service) Refresh(ctx context.Context) (*RefreshOutcome, error) {
	svc.logger.Info("mixer: refresh requested",
		"transport", kit.GetTransport(ctx), "trace_id", kit.GetTraceID(ctx))
	return svc.coord.Refresh(ctx)
}

// Status is a point-in-time view of the service.
type Status struct {
	Initialized       bool                    `json:"initialized"`
	RefreshInProgress bool                    `json:"refresh_in_progress"`
	Snapshot          *Snapshot               `json:"snapshot,omitempty"`
	History           []*RefreshLogEntry      `json:"history"`
	RefreshDurations  []*observability.Metric `json:"refresh_durations"` // flushed in batches, may lag
	Watch             watch.Stats             `json:"watch"`
}

// Status reports the installed snapshot and the latest refresh attempts.
func (svc *Service) Status(ctx context.Context, historyLimit int) (*Status, error) {
	st := &Status{
		RefreshInProgress: svc.coord.InProgress(),
		Watch:             svc.watcher.Stats(),
	}
	snap, err := svc.store.Current(ctx)
	switch {
	case err == nil:
		st.Initialized = true
		st.Snapshot = snap
	case !errors.Is(err, store.ErrNotInitialized):
		return nil, fmt.Errorf("mixer: status: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	hist, err := svc.store.RefreshHistory(ctx, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("mixer: status: %w", err)
	}
	st.History = hist
	if st.History == nil {
		st.History = []*RefreshLogEntry{}
	}
	st.RefreshDurations = []*observability.Metric{}
	if svc.metrics != nil {
		durations, err := svc.metrics.Query(ctx, observability.MetricRefreshDurationMs, time.Time{}, historyLimit)
		if err != nil {
			return nil, fmt.Errorf("mixer: status: %w", err)
		}
		if durations != nil {
			st.RefreshDurations = durations
		}
	}
	return st, nil
}

// Watch blocks until ctx is cancelled, dropping memoised lookups whenever
// another process installs a new snapshot in the same database.
func (svc *Service) Watch(ctx context.Context) error {
	svc.watcher.OnChange(ctx, func() error {
		svc.store.Invalidate()
		return nil
	})
	return nil
}

func (svc *Service) recordLookup(outcome string) {
	if svc.metrics == nil {
		return
	}
	svc.metrics.Record(&observability.Metric{
		Name:   observability.MetricLookup,
		Value:  1,
		Unit:   "count",
		Labels: map[string]string{"outcome": outcome},
	})
}
