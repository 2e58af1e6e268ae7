package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chaincache/internal/common"
	"github.com/dmitrijs2005/chaincache/internal/store"
)

func (m *Manager) newEntry(key string, data any, typ EntryType, ttlMinutes int) (Entry, error) {
	switch {
	case key == "":
		return Entry{}, fmt.Errorf("%w: empty cache key", common.ErrInvalidKey)
	case !typ.Valid():
		return Entry{}, fmt.Errorf("%w: %q", common.ErrInvalidEntryType, typ)
	case ttlMinutes < 0:
		return Entry{}, fmt.Errorf("%w: %d minutes", common.ErrInvalidTTL, ttlMinutes)
	}

	raw, err := codec.Marshal(data)
	if err != nil {
		return Entry{}, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	now := m.now()
	return Entry{
		Key:       key,
		Data:      raw,
		Type:      typ,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttlMinutes) * time.Minute),
	}, nil
}

// SetCacheEntry stores data under key for ttlMinutes. A TTL of zero stores an
// entry that is already expired.
func (m *Manager) SetCacheEntry(ctx context.Context, key string, data any, typ EntryType, ttlMinutes int) error {
	e, err := m.newEntry(key, data, typ, ttlMinutes)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, EntriesCollection, e); err != nil {
		return fmt.Errorf("set cache entry %s: %w", key, err)
	}
	return nil
}

// GetCacheEntry returns the entry for key, or nil when it is absent or
// expired. Expired entries are deleted on the way.
func (m *Manager) GetCacheEntry(ctx context.Context, key string) (*Entry, error) {
	e, err := m.rawEntry(ctx, key)
	if err != nil || e == nil {
		return nil, err
	}
	now := m.now()
	if !IsExpired(*e, now) {
		return e, nil
	}

	cur, err := m.dropIfExpired(ctx, key, now)
	if err != nil {
		m.log.Warn(ctx, "failed to drop expired cache entry", "key", key, "error", err)
		return nil, nil
	}
	return cur, nil
}

// dropIfExpired deletes the entry for key if it is still expired at now. An
// entry rewritten since it was read is left alone and returned.
func (m *Manager) dropIfExpired(ctx context.Context, key string, now time.Time) (*Entry, error) {
	var cur *Entry
	err := m.store.Update(ctx, func(tx *store.Txn) error {
		var e Entry
		found, err := tx.Get(EntriesCollection, key, &e)
		if err != nil || !found {
			return err
		}
		if !IsExpired(e, now) {
			cur = &e
			return nil
		}
		return tx.Delete(EntriesCollection, key)
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (m *Manager) rawEntry(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	found, err := m.store.Get(ctx, EntriesCollection, key, &e)
	if err != nil {
		return nil, fmt.Errorf("get cache entry %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// IsDataFresh reports whether key has an unexpired entry created less than
// maxAgeMinutes ago.
func (m *Manager) IsDataFresh(ctx context.Context, key string, maxAgeMinutes int) (bool, error) {
	e, err := m.GetCacheEntry(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	return m.now().Sub(e.CreatedAt) < time.Duration(maxAgeMinutes)*time.Minute, nil
}

// Invalidate marks the entry for key as expired now while keeping its data
// and creation time. Absent keys are ignored.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	now := m.now()
	err := m.store.Update(ctx, func(tx *store.Txn) error {
		var e Entry
		found, err := tx.Get(EntriesCollection, key, &e)
		if err != nil || !found || IsExpired(e, now) {
			return err
		}
		e.ExpiresAt = now
		if e.ExpiresAt.Before(e.CreatedAt) {
			e.ExpiresAt = e.CreatedAt
		}
		return tx.Put(EntriesCollection, e)
	})
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// DeleteCacheEntry removes the entry for key.
func (m *Manager) DeleteCacheEntry(ctx context.Context, key string) error {
	return m.store.Delete(ctx, EntriesCollection, key)
}

// CleanupExpiredCache deletes every expired entry and reports how many were
// removed.
func (m *Manager) CleanupExpiredCache(ctx context.Context) (int, error) {
	var entries []Entry
	if err := m.store.GetAll(ctx, EntriesCollection, &entries); err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	now := m.now()
	var expired []string
	for _, e := range entries {
		if IsExpired(e, now) {
			expired = append(expired, e.Key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	// Each candidate is checked again inside the transaction: a key rewritten
	// after the scan must survive.
	removed := 0
	err := m.store.Update(ctx, func(tx *store.Txn) error {
		for _, key := range expired {
			var e Entry
			found, err := tx.Get(EntriesCollection, key, &e)
			if err != nil {
				return err
			}
			if !found || !IsExpired(e, now) {
				continue
			}
			if err := tx.Delete(EntriesCollection, key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return removed, nil
}

// RunSweeper calls CleanupExpiredCache every interval until ctx is done.
// A non-positive interval disables the sweeper.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := m.CleanupExpiredCache(ctx)
			if err != nil {
				m.log.Warn(ctx, "periodic cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				m.log.Debug(ctx, "periodic cleanup", "removed", n)
			}
		}
	}
}
