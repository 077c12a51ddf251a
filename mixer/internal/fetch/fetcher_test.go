package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/emojimix/horosafe"
)

func TestFetch_Success(t *testing.T) {
	// WHAT: Basic GET returns body, status and hash.
	// WHY: Every refresh starts here.
	body := `{"data":{}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "emojimix-test" {
			t.Errorf("user agent = %q", ua)
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL, UserAgent: "emojimix-test"})
	result, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.StatusCode != 200 {
		t.Errorf("status: got %d", result.StatusCode)
	}
	if string(result.Body) != body {
		t.Errorf("body: got %q", result.Body)
	}
	h := sha256.Sum256([]byte(body))
	if want := fmt.Sprintf("%x", h); result.Hash != want {
		t.Errorf("hash: got %q, want %q", result.Hash, want)
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Fetch(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", se.StatusCode)
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, MaxBytes: 10}).Fetch(context.Background())
	if !errors.Is(err, horosafe.ErrResponseTooLarge) {
		t.Fatalf("error = %v, want ErrResponseTooLarge", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Fatalf("timeout reported as status error: %v", err)
	}
}

func TestFetch_RejectsScheme(t *testing.T) {
	_, err := New(Config{URL: "file:///etc/passwd"}).Fetch(context.Background())
	if !errors.Is(err, horosafe.ErrUnsafeScheme) {
		t.Fatalf("error = %v, want ErrUnsafeScheme", err)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{URL: srv.URL}).Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestFetch_RetriesTransportErrors(t *testing.T) {
	// WHAT: Dropped connections are retried, then the fetch succeeds.
	// WHY: A flaky hop should not cost a whole refresh cycle.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	result, err := New(Config{URL: srv.URL, Retries: 2, Backoff: time.Millisecond}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(result.Body) != "{}" || hits.Load() < 3 {
		t.Fatalf("body = %q, hits = %d", result.Body, hits.Load())
	}
}

func TestFetch_DoesNotRetryStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, Retries: 3, Backoff: time.Millisecond}).Fetch(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || hits.Load() != 1 {
		t.Fatalf("error = %v, hits = %d", err, hits.Load())
	}
}
