package cache

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/dmitrijs2005/chaincache/internal/store"
)

// ClearAllCache empties profiles, posts and cache entries in one transaction.
// Preferences are kept.
func (m *Manager) ClearAllCache(ctx context.Context) error {
	err := m.store.Update(ctx, func(tx *store.Txn) error {
		for _, c := range []string{ProfilesCollection, PostsCollection, EntriesCollection} {
			if err := tx.Clear(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	m.log.Info(ctx, "cache cleared")
	return nil
}

// GetStats counts the records of every collection. The counts run
// concurrently; any failure is returned after all of them settle.
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	targets := map[string]*int{
		ProfilesCollection:    &s.Profiles,
		PostsCollection:       &s.Posts,
		EntriesCollection:     &s.CacheEntries,
		PreferencesCollection: &s.UserPreferences,
	}

	p := pool.New().WithContext(ctx)
	for name, dst := range targets {
		p.Go(func(ctx context.Context) error {
			n, err := m.store.Count(ctx, name)
			if err != nil {
				return fmt.Errorf("count %s: %w", name, err)
			}
			*dst = n
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Stats{}, err
	}
	return s, nil
}
