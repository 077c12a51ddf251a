// Package fetch downloads the upstream metadata document.
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/emojimix/horosafe"
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: upstream returned %s", e.Status)
}

// Result is a fetched document.
type Result struct {
	Body       []byte
	StatusCode int
	Hash       string // SHA-256 of body, hex
	Duration   time.Duration
}

// Config configures the fetcher.
type Config struct {
	URL       string        // document location
	Timeout   time.Duration // HTTP timeout. Default: 60s.
	MaxBytes  int64         // Max body size. Default: horosafe.MaxResponseBody.
	UserAgent string
	// URLValidator runs on the configured URL and every redirect.
	// Default: horosafe.ValidateScheme.
	URLValidator func(string) error
	// Client overrides the HTTP client. Its Timeout is left as is.
	Client *http.Client
	// Retries is how many times a transport failure is retried. Upstream
	// status errors and oversized bodies are never retried. Default: 0.
	Retries int
	// Backoff is the first wait between retries, doubled each attempt.
	// Default: 1s.
	Backoff time.Duration
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = horosafe.MaxResponseBody
	}
	if c.UserAgent == "" {
		c.UserAgent = "emojimix/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateScheme
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs the single GET a refresh needs.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher. Redirects are capped at 5 and validated.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		validate := cfg.URLValidator
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		}
	}
	return &Fetcher{client: client, config: cfg}
}

// Fetch retrieves the document. A non-2xx answer yields *StatusError; an
// oversized body yields an error wrapping horosafe.ErrResponseTooLarge.
// Transport failures are retried with exponential backoff up to
// Config.Retries times while ctx is live.
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	if err := f.config.URLValidator(f.config.URL); err != nil {
		return nil, fmt.Errorf("fetch: url rejected: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.Retries; attempt++ {
		result, err := f.fetchOnce(ctx)
		if err == nil || !retryable(err) {
			return result, err
		}
		lastErr = err
		if ctx.Err() != nil || attempt == f.config.Retries {
			break
		}
		wait := f.config.Backoff * (1 << uint(attempt))
		f.config.Logger.WarnContext(ctx, "fetch: retrying",
			"attempt", attempt+1,
			"max_retries", f.config.Retries,
			"backoff_ms", wait.Milliseconds(),
			"error", err)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// transportError marks a failure before any response was received.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

func (f *Fetcher) fetchOnce(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &transportError{fmt.Errorf("fetch: http get: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{StatusCode: resp.StatusCode},
			&StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrResponseTooLarge) {
			return &Result{StatusCode: resp.StatusCode}, fmt.Errorf("fetch: %w", err)
		}
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	h := sha256.Sum256(body)
	return &Result{
		Body:       body,
		StatusCode: resp.StatusCode,
		Hash:       fmt.Sprintf("%x", h),
		Duration:   time.Since(start),
	}, nil
}
