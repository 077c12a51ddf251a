package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/hazyhaar/emojimix/dbopen"
	"github.com/hazyhaar/emojimix/mixer/internal/pair"
)

// Lookup returns the image URL for the unordered pair {a, b}.
func (s *Store) Lookup(ctx context.Context, a, b string) (string, error) {
	ok, err := s.Initialized(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}

	key := memoKey{gen: s.gen.Load(), pair: pair.Of(a, b)}

	var loadErr error
	loader := ttlcache.LoaderFunc[memoKey, memoValue](
		func(cache *ttlcache.Cache[memoKey, memoValue], key memoKey) *ttlcache.Item[memoKey, memoValue] {
			url, err := s.LookupUncached(ctx, key.pair.Lo, key.pair.Hi)
			switch {
			case err == nil:
				return cache.Set(key, memoValue{url: url, found: true}, ttlcache.DefaultTTL)
			case errors.Is(err, ErrNotFound):
				return cache.Set(key, memoValue{}, ttlcache.DefaultTTL)
			default:
				loadErr = err
				return nil
			}
		},
	)
	item := s.memo.Get(key, ttlcache.WithLoader(loader))
	if item == nil {
		if loadErr != nil {
			return "", loadErr
		}
		return "", fmt.Errorf("store: lookup %s: no result", key.pair)
	}
	if !item.Value().found {
		return "", ErrNotFound
	}
	return item.Value().url, nil
}

// LookupUncached queries the table directly. a and b may be in any order.
func (s *Store) LookupUncached(ctx context.Context, a, b string) (string, error) {
	lo, hi := pair.Normalize(a, b)
	var url string
	err := s.DB.QueryRowContext(ctx,
		`SELECT image_url FROM combinations WHERE lo_emoji = ? AND hi_emoji = ?`,
		lo, hi).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup: %w", err)
	}
	return url, nil
}

// ReplaceAll swaps the whole mapping in one transaction and records a new
// snapshot. Records sharing a pair resolve to the last one in slice order.
// On error nothing changes.
func (s *Store) ReplaceAll(ctx context.Context, in ReplaceInput) (*Snapshot, error) {
	var snap Snapshot
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM combinations`); err != nil {
			return fmt.Errorf("clear combinations: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO combinations (base_emoji, lo_emoji, hi_emoji, left_emoji, right_emoji, image_url)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (lo_emoji, hi_emoji) DO UPDATE SET
				base_emoji = excluded.base_emoji,
				left_emoji = excluded.left_emoji,
				right_emoji = excluded.right_emoji,
				image_url = excluded.image_url`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, c := range in.Records {
			lo, hi := pair.Normalize(c.LeftEmoji, c.RightEmoji)
			if _, err := stmt.ExecContext(ctx, c.BaseEmoji, lo, hi, c.LeftEmoji, c.RightEmoji, c.ImageURL); err != nil {
				return fmt.Errorf("insert record %d: %w", i, err)
			}
		}

		var rows int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM combinations`).Scan(&rows); err != nil {
			return fmt.Errorf("count combinations: %w", err)
		}

		snap = Snapshot{
			RefreshID:   in.RefreshID,
			Records:     rows,
			Skipped:     in.Skipped,
			SourceHash:  in.SourceHash,
			InstalledAt: time.Now().UnixMilli(),
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (refresh_id, records, skipped, source_hash, installed_at)
			VALUES (?, ?, ?, ?, ?)`,
			snap.RefreshID, snap.Records, snap.Skipped, snap.SourceHash, snap.InstalledAt)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if snap.Generation, err = res.LastInsertId(); err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: replace all: %w", err)
	}

	s.initialized.Store(true)
	s.Invalidate()
	return &snap, nil
}
