package mixer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/emojimix/dbopen"
	"github.com/hazyhaar/emojimix/idgen"
	"github.com/hazyhaar/emojimix/mixer/internal/store"
)

const testDoc = `{"data":{
  "1f600":{"emoji":"😀","combinations":{
    "1f602":[{"leftEmoji":"😀","rightEmoji":"😂","gStaticUrl":"http://x/1.png"}],
    "1f431":[{"leftEmoji":"🐱","rightEmoji":"😀","gStaticUrl":"http://x/2.png"}]
  }}
}}`

// upstream is a controllable stand-in for the metadata host.
type upstream struct {
	srv     *httptest.Server
	hits    atomic.Int32
	status  atomic.Int32
	body    atomic.Value // string
	arrived chan struct{}
	release chan struct{} // nil means answer at once
}

func newUpstream(t *testing.T, body string, gated bool) *upstream {
	t.Helper()
	u := &upstream{arrived: make(chan struct{}, 64)}
	u.body.Store(body)
	if gated {
		u.release = make(chan struct{})
	}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.arrived <- struct{}{}
		if u.release != nil {
			select {
			case <-u.release:
			case <-r.Context().Done():
				return
			}
		}
		if code := u.status.Load(); code != 0 {
			http.Error(w, "upstream error", int(code))
			return
		}
		w.Write([]byte(u.body.Load().(string)))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestService(t *testing.T, upstreamURL string, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := &Config{
		RawPath: filepath.Join(t.TempDir(), "metadata.json"),
		Fetch:   FetchConfig{URL: upstreamURL},
		Refresh: RefreshConfig{BootstrapPoll: 5 * time.Millisecond},
		Watch:   WatchConfig{Interval: 10 * time.Millisecond},
	}
	for _, m := range mutate {
		m(cfg)
	}
	svc, err := New(cfg, nil, WithDB(dbopen.OpenMemory(t)), WithIDGenerator(idgen.Sequence("rfr_")))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestResolve_Scenario(t *testing.T) {
	// WHAT: The reference lookup scenario, starting from an empty store.
	// WHY: Symmetry, not-found and format errors are the whole contract.
	up := newUpstream(t, testDoc, false)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	if _, err := svc.ResolvePair(ctx, "😀"); !errors.Is(err, ErrInputFormat) {
		t.Fatalf("single token error = %v, want ErrInputFormat", err)
	}
	if up.hits.Load() != 0 {
		t.Fatal("format error reached the network")
	}

	for _, q := range []string{"😀_😂", "😂_😀", " 😂 _ 😀 "} {
		url, err := svc.ResolvePair(ctx, q)
		if err != nil || url != "http://x/1.png" {
			t.Fatalf("ResolvePair(%q) = %q, %v", q, url, err)
		}
	}
	if _, err := svc.ResolvePair(ctx, "😀_🙂"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown pair error = %v, want ErrNotFound", err)
	}
	if up.hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1 (bootstrap only)", up.hits.Load())
	}
}

func TestResolvePair_InputFormat(t *testing.T) {
	up := newUpstream(t, testDoc, false)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	for _, q := range []string{"", "😀", "_😀", "😀_", "a_b_c", " _ ", "__"} {
		if _, err := svc.ResolvePair(ctx, q); !errors.Is(err, ErrInputFormat) {
			t.Errorf("ResolvePair(%q) error = %v, want ErrInputFormat", q, err)
		}
	}
	if up.hits.Load() != 0 {
		t.Fatalf("upstream hits = %d, want 0", up.hits.Load())
	}
}

func TestResolve_ConcurrentBootstrapRefreshesOnce(t *testing.T) {
	// WHAT: Many first lookups against an empty store cause one fetch.
	// WHY: Losers of the guard must wait for the winner, not fail or refetch.
	up := newUpstream(t, testDoc, true)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	const n = 8
	urls := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			url, err := svc.Resolve(ctx, "😂", "😀")
			urls[i] = url
			return err
		})
	}
	<-up.arrived
	time.Sleep(30 * time.Millisecond)
	close(up.release)

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, u := range urls {
		if u != "http://x/1.png" {
			t.Fatalf("caller %d got %q", i, u)
		}
	}
	if got := up.hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, want 1", got)
	}
}

func TestResolve_BootstrapFailure(t *testing.T) {
	up := newUpstream(t, testDoc, false)
	up.status.Store(http.StatusServiceUnavailable)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "😀", "😂")
	var rerr *RefreshError
	if !errors.As(err, &rerr) || !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("error = %v, want HTTP status RefreshError", err)
	}

	// The next lookup retries the bootstrap.
	up.status.Store(0)
	if url, err := svc.Resolve(ctx, "😀", "😂"); err != nil || url != "http://x/1.png" {
		t.Fatalf("after recovery = %q, %v", url, err)
	}
	if got := up.hits.Load(); got != 2 {
		t.Fatalf("upstream hits = %d, want 2", got)
	}
}

func TestResolve_WaiterSeesFailedBootstrap(t *testing.T) {
	up := newUpstream(t, testDoc, true)
	up.status.Store(http.StatusInternalServerError)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := svc.Resolve(ctx, "😀", "😂")
		first <- err
	}()
	<-up.arrived

	second := make(chan error, 1)
	go func() {
		_, err := svc.Resolve(ctx, "😀", "😂")
		second <- err
	}()
	time.Sleep(30 * time.Millisecond)
	close(up.release)

	if err := <-first; !errors.Is(err, ErrHTTPStatus) {
		t.Fatalf("first caller error = %v", err)
	}
	if err := <-second; !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("waiting caller error = %v, want ErrNotInitialized", err)
	}
}

func TestResolve_WaiterHonoursContext(t *testing.T) {
	up := newUpstream(t, testDoc, true)
	svc := newTestService(t, up.srv.URL)
	t.Cleanup(func() { close(up.release) })

	go svc.Resolve(context.Background(), "😀", "😂")
	<-up.arrived

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := svc.Resolve(ctx, "😀", "😂"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestRefresh_ReplacesMapping(t *testing.T) {
	up := newUpstream(t, testDoc, false)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, "😀", "😂"); err != nil {
		t.Fatal(err)
	}

	up.body.Store(`{"data":{"x":{"emoji":"🐶","combinations":{"g":[
	  {"leftEmoji":"🐶","rightEmoji":"🐱","gStaticUrl":"http://x/9.png"}]}}}}`)
	out, err := svc.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != RefreshCompleted || out.RefreshID != "rfr_2" || out.Records != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	if _, err := svc.Resolve(ctx, "😂", "😀"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old pair error = %v, want ErrNotFound", err)
	}
	if url, err := svc.Resolve(ctx, "🐱", "🐶"); err != nil || url != "http://x/9.png" {
		t.Fatalf("new pair = %q, %v", url, err)
	}

	raw, err := os.ReadFile(svc.cfg.RawPath)
	if err != nil || len(raw) == 0 {
		t.Fatalf("raw copy: %v", err)
	}
}

func TestStatus(t *testing.T) {
	up := newUpstream(t, testDoc, false)
	svc := newTestService(t, up.srv.URL)
	ctx := context.Background()

	st, err := svc.Status(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if st.Initialized || st.Snapshot != nil || len(st.History) != 0 {
		t.Fatalf("fresh status = %+v", st)
	}

	if _, err := svc.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	st, err = svc.Status(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Initialized || st.Snapshot.Records != 2 || st.Snapshot.RefreshID != "rfr_1" {
		t.Fatalf("status = %+v", st)
	}
	if len(st.History) != 1 || st.History[0].Status != "ok" {
		t.Fatalf("history = %+v", st.History)
	}

	svc.metrics.Flush()
	st, err = svc.Status(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.RefreshDurations) != 1 || st.RefreshDurations[0].Unit != "milliseconds" {
		t.Fatalf("refresh durations = %+v", st.RefreshDurations)
	}
	if st.Watch.Version != 0 {
		t.Fatalf("watch version before watching = %d", st.Watch.Version)
	}
}

func TestWatch_InvalidatesOnExternalReplace(t *testing.T) {
	// WHAT: A snapshot installed by another writer becomes visible.
	// WHY: "emojimix refresh" runs as a separate process next to the server.
	up := newUpstream(t, testDoc, false)
	svc := newTestService(t, up.srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := svc.Resolve(ctx, "😀", "😂"); err != nil {
		t.Fatal(err)
	}
	go svc.Watch(ctx)
	waitFor(t, func() bool { return svc.watcher.Stats().Checks > 0 })

	// Same database, different Store: the in-process memo is not told.
	other, err := store.New(svc.store.DB)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if _, err := other.ReplaceAll(ctx, store.ReplaceInput{RefreshID: "external", Records: []store.Combination{
		{LeftEmoji: "😀", RightEmoji: "😂", ImageURL: "http://x/external.png"},
	}}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		url, _ := svc.Resolve(ctx, "😂", "😀")
		return url == "http://x/external.png"
	})
	if v := svc.watcher.Stats().Version; v != 2 {
		t.Fatalf("watched generation = %d, want 2", v)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(&Config{Fetch: FetchConfig{URL: "ftp://example.com/metadata.json"}}, nil,
		WithDB(dbopen.OpenMemory(t)))
	if err == nil {
		t.Fatal("expected config error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolve_DoesNotWaitOnWriter(t *testing.T) {
	// WHAT: Lookups on the file database while another handle holds the
	// write lock, long enough for lookup metrics to fill a batch.
	// WHY: A CLI refresh next to the server must not stall lookups.
	up := newUpstream(t, testDoc, false)
	dir := t.TempDir()
	cfg := &Config{
		DBPath:  filepath.Join(dir, "emoji.db"),
		RawPath: filepath.Join(dir, "metadata.json"),
		Fetch:   FetchConfig{URL: up.srv.URL},
	}
	svc, err := New(cfg, nil, WithIDGenerator(idgen.Sequence("rfr_")))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { svc.Close() })
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, "😀", "😂"); err != nil {
		t.Fatal(err)
	}

	other, err := dbopen.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	held, err := other.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := held.Exec(`DELETE FROM combinations`); err != nil {
		t.Fatal(err)
	}

	var worst time.Duration
	for i := 0; i < 150; i++ {
		a, b := "😂", "😀"
		if i%2 == 1 {
			a, b = "🐱", "😀"
		}
		start := time.Now()
		if _, err := svc.Resolve(ctx, a, b); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		worst = max(worst, time.Since(start))
	}
	if err := held.Rollback(); err != nil {
		t.Fatal(err)
	}
	if worst > 100*time.Millisecond {
		t.Fatalf("worst lookup latency behind a held write lock: %v", worst)
	}
}
