// Package refresh runs the fetch → persist → parse → replace cycle that
// installs a new mapping snapshot, one cycle at a time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/emojimix/horosafe"
	"github.com/hazyhaar/emojimix/idgen"
	"github.com/hazyhaar/emojimix/mixer/internal/fetch"
	"github.com/hazyhaar/emojimix/mixer/internal/metadata"
	"github.com/hazyhaar/emojimix/mixer/internal/store"
	"github.com/hazyhaar/emojimix/observability"
)

// Fetcher downloads the upstream document.
type Fetcher interface {
	Fetch(ctx context.Context) (*fetch.Result, error)
}

// Store receives parsed snapshots and the refresh log.
type Store interface {
	ReplaceAll(ctx context.Context, in store.ReplaceInput) (*store.Snapshot, error)
	InsertRefreshLog(ctx context.Context, e *store.RefreshLogEntry) error
}

// Status is the kind of outcome of a Refresh call.
type Status string

const (
	Completed         Status = "completed"
	AlreadyInProgress Status = "already_in_progress"
)

// Outcome describes a Refresh call that did not fail.
type Outcome struct {
	Status     Status        `json:"status"`
	RefreshID  string        `json:"refresh_id,omitempty"`
	Records    int           `json:"records"`
	Skipped    int           `json:"skipped"`
	Generation int64         `json:"generation,omitempty"`
	SourceHash string        `json:"source_hash,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Config tunes a Coordinator.
type Config struct {
	// RawPath receives a copy of every fetched document. Empty disables it.
	RawPath string
	// Timeout bounds one whole cycle. Default: 2m.
	Timeout time.Duration
	// NewID generates refresh IDs. Default: idgen.Prefixed("rfr_", idgen.Default).
	NewID idgen.Generator
	// Metrics is optional.
	Metrics *observability.MetricsManager
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("rfr_", idgen.Default)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Coordinator serialises refreshes behind a Guard.
type Coordinator struct {
	fetcher Fetcher
	store   Store
	guard   Guard
	cfg     Config
}

// New creates a Coordinator.
func New(f Fetcher, s Store, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{fetcher: f, store: s, cfg: cfg}
}

// InProgress reports whether a refresh is running.
func (c *Coordinator) InProgress() bool { return c.guard.InProgress() }

// Refresh runs one cycle. If another cycle holds the guard it returns an
// AlreadyInProgress outcome at once, without touching the network.
// The cycle is detached from ctx cancellation and bounded by Config.Timeout,
// so a caller that goes away does not abort a half-done refresh.
// On failure the error is a *RefreshError and the installed snapshot is
// unchanged.
func (c *Coordinator) Refresh(ctx context.Context) (*Outcome, error) {
	if !c.guard.TryBegin() {
		c.cfg.Logger.Debug("refresh: already in progress")
		return &Outcome{Status: AlreadyInProgress}, nil
	}
	defer c.guard.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	id := c.cfg.NewID()
	log := c.cfg.Logger.With("refresh_id", id)
	start := time.Now()
	log.Info("refresh: started")

	out, hash, err := c.run(ctx, id)
	elapsed := time.Since(start)

	entry := &store.RefreshLogEntry{
		ID:          id,
		Status:      "ok",
		ContentHash: hash,
		DurationMs:  elapsed.Milliseconds(),
		StartedAt:   start.UnixMilli(),
	}
	var rerr *RefreshError
	if errors.As(err, &rerr) {
		entry.Status = "error"
		entry.Stage = string(rerr.Stage)
		entry.StatusCode = rerr.StatusCode
		entry.ErrorMessage = rerr.Err.Error()
	} else {
		entry.Records = out.Records
		entry.Skipped = out.Skipped
	}
	c.writeLog(ctx, log, entry)
	c.recordMetrics(entry)

	if err != nil {
		log.Warn("refresh: failed", "stage", entry.Stage, "error", err, "duration", elapsed)
		return nil, err
	}

	out.Duration = elapsed
	log.Info("refresh: completed",
		"records", out.Records, "skipped", out.Skipped,
		"generation", out.Generation, "duration", elapsed)
	return out, nil
}

func (c *Coordinator) run(ctx context.Context, id string) (*Outcome, string, error) {
	res, err := c.fetcher.Fetch(ctx)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			return nil, "", &RefreshError{Stage: StageHTTPStatus, StatusCode: se.StatusCode, Err: err}
		}
		if errors.Is(err, horosafe.ErrResponseTooLarge) {
			// The transfer worked; the document itself is unusable.
			return nil, "", &RefreshError{Stage: StageDecode, Err: err}
		}
		return nil, "", &RefreshError{Stage: StageNetwork, Err: err}
	}

	if c.cfg.RawPath != "" {
		if err := writeAtomic(c.cfg.RawPath, res.Body); err != nil {
			return nil, res.Hash, &RefreshError{Stage: StagePersist, Err: fmt.Errorf("%s: %w", c.cfg.RawPath, err)}
		}
	}

	doc, err := metadata.Parse(res.Body)
	if err != nil {
		return nil, res.Hash, &RefreshError{Stage: StageDecode, Err: err}
	}

	records := make([]store.Combination, len(doc.Records))
	for i, r := range doc.Records {
		records[i] = store.Combination{
			BaseEmoji:  r.BaseEmoji,
			LeftEmoji:  r.LeftEmoji,
			RightEmoji: r.RightEmoji,
			ImageURL:   r.ImageURL,
		}
	}

	snap, err := c.store.ReplaceAll(ctx, store.ReplaceInput{
		RefreshID:  id,
		Records:    records,
		Skipped:    doc.Skipped,
		SourceHash: res.Hash,
	})
	if err != nil {
		return nil, res.Hash, &RefreshError{Stage: StageStore, Err: err}
	}

	return &Outcome{
		Status:     Completed,
		RefreshID:  id,
		Records:    snap.Records,
		Skipped:    doc.Skipped,
		Generation: snap.Generation,
		SourceHash: res.Hash,
	}, res.Hash, nil
}

func (c *Coordinator) writeLog(ctx context.Context, log *slog.Logger, e *store.RefreshLogEntry) {
	// The cycle deadline may already be spent; the log row still goes in.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.InsertRefreshLog(ctx, e); err != nil {
		log.Error("refresh: write refresh log", "error", err)
	}
}

func (c *Coordinator) recordMetrics(e *store.RefreshLogEntry) {
	m := c.cfg.Metrics
	if m == nil {
		return
	}
	m.Record(&observability.Metric{
		Name:   observability.MetricRefreshDurationMs,
		Value:  float64(e.DurationMs),
		Unit:   "milliseconds",
		Labels: map[string]string{"status": e.Status},
	})
	if e.Status != "ok" {
		m.Record(&observability.Metric{
			Name:   observability.MetricRefreshFailed,
			Value:  1,
			Unit:   "count",
			Labels: map[string]string{"stage": e.Stage},
		})
		return
	}
	m.RecordSimple(observability.MetricRefreshRecords, float64(e.Records), "count")
	m.RecordSimple(observability.MetricRefreshSkipped, float64(e.Skipped), "count")
}
