// Package store holds the emoji-pair mapping in SQLite.
//
// Lookups hit a memo cache keyed by generation and normalised pair. The generation is
// read before the query and bumped after every committed replace, so an entry
// computed against an older snapshot is never served once a newer one is
// installed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/hazyhaar/emojimix/dbopen"
	"github.com/hazyhaar/emojimix/mixer/internal/pair"
)

var (
	// ErrNotFound means no record matches the pair.
	ErrNotFound = errors.New("store: not found")
	// ErrNotInitialized means no snapshot has been installed yet.
	ErrNotInitialized = errors.New("store: not initialized")
)

type memoKey struct {
	gen  int64
	pair pair.Key
}

type memoValue struct {
	url   string
	found bool
}

type options struct {
	memoTTL      time.Duration
	memoCapacity uint64
}

// Option customises the Store.
type Option func(*options)

// WithMemoTTL sets how long a lookup result stays memoised. Default: 10m.
func WithMemoTTL(d time.Duration) Option { return func(o *options) { o.memoTTL = d } }

// WithMemoCapacity bounds the number of memoised lookups. Default: 10000.
func WithMemoCapacity(n uint64) Option { return func(o *options) { o.memoCapacity = n } }

// Store wraps the emojimix database.
type Store struct {
	DB *sql.DB

	ownsDB      bool
	memo        *ttlcache.Cache[memoKey, memoValue]
	gen         atomic.Int64
	initialized atomic.Bool

	beforeCommit func() // test hook, runs inside the replace transaction
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := newStore(db, opts)
	s.ownsDB = true
	return s, nil
}

// New wraps an already-opened database and applies the schema.
// Close does not close db.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if err := ApplySchema(db); err != nil {
		return nil, err
	}
	return newStore(db, opts), nil
}

func newStore(db *sql.DB, opts []Option) *Store {
	o := options{memoTTL: 10 * time.Minute, memoCapacity: 10_000}
	for _, fn := range opts {
		fn(&o)
	}
	memo := ttlcache.New(
		ttlcache.WithTTL[memoKey, memoValue](o.memoTTL),
		ttlcache.WithCapacity[memoKey, memoValue](o.memoCapacity),
		ttlcache.WithDisableTouchOnHit[memoKey, memoValue](),
	)
	go memo.Start()
	return &Store{DB: db, memo: memo}
}

// Close stops the memo janitor and closes the database if Open created it.
func (s *Store) Close() error {
	s.memo.Stop()
	if s.ownsDB {
		return s.DB.Close()
	}
	return nil
}

// Generation is the in-process memo generation.
func (s *Store) Generation() int64 { return s.gen.Load() }

// Invalidate drops every memoised lookup. Used when another process has
// replaced the mapping.
func (s *Store) Invalidate() {
	s.gen.Add(1)
	s.memo.DeleteAll()
}

// Initialized reports whether a snapshot has ever been installed.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	if s.initialized.Load() {
		return true, nil
	}
	var ok bool
	if err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM snapshots)`).Scan(&ok); err != nil {
		return false, fmt.Errorf("store: check initialized: %w", err)
	}
	if ok {
		s.initialized.Store(true)
	}
	return ok, nil
}

// Current returns the installed snapshot, or ErrNotInitialized.
func (s *Store) Current(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	err := s.DB.QueryRowContext(ctx,
		`SELECT generation, refresh_id, records, skipped, source_hash, installed_at
		FROM snapshots ORDER BY generation DESC LIMIT 1`).
		Scan(&snap.Generation, &snap.RefreshID, &snap.Records, &snap.Skipped,
			&snap.SourceHash, &snap.InstalledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("store: current snapshot: %w", err)
	}
	return &snap, nil
}
