package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/chaincache/internal/store"
)

// CacheProfile stamps LastUpdated and stores the profile.
func (m *Manager) CacheProfile(ctx context.Context, p Profile) error {
	p.LastUpdated = m.now()
	if err := m.store.Put(ctx, ProfilesCollection, p); err != nil {
		return fmt.Errorf("cache profile %s: %w", p.Address, err)
	}
	return nil
}

// CachePost stamps LastUpdated and stores the post.
func (m *Manager) CachePost(ctx context.Context, p Post) error {
	p.LastUpdated = m.now()
	if err := m.store.Put(ctx, PostsCollection, p); err != nil {
		return fmt.Errorf("cache post %d: %w", p.ID, err)
	}
	return nil
}

// CachePosts stores all posts in one transaction. If any write fails nothing
// is stored and the error names the failing post.
func (m *Manager) CachePosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	return m.store.Update(ctx, func(tx *store.Txn) error {
		return m.putPosts(tx, posts)
	})
}

// CachePostsWithEntry stores posts and the cache entry tracking them in one
// transaction, so readers never see the marker without the posts.
func (m *Manager) CachePostsWithEntry(ctx context.Context, posts []Post, key string, typ EntryType, ttlMinutes int) error {
	e, err := m.newEntry(key, true, typ, ttlMinutes)
	if err != nil {
		return err
	}
	return m.store.Update(ctx, func(tx *store.Txn) error {
		if err := m.putPosts(tx, posts); err != nil {
			return err
		}
		if err := tx.Put(EntriesCollection, e); err != nil {
			return fmt.Errorf("set cache entry %s: %w", key, err)
		}
		return nil
	})
}

func (m *Manager) putPosts(tx *store.Txn, posts []Post) error {
	now := m.now()
	for _, p := range posts {
		p.LastUpdated = now
		if err := tx.Put(PostsCollection, p); err != nil {
			return fmt.Errorf("cache posts: post %d: %w", p.ID, err)
		}
	}
	return nil
}

// GetCachedProfile returns nil when the profile is not cached.
func (m *Manager) GetCachedProfile(ctx context.Context, address string) (*Profile, error) {
	var p Profile
	found, err := m.store.Get(ctx, ProfilesCollection, address, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// GetCachedPost returns nil when the post is not cached.
func (m *Manager) GetCachedPost(ctx context.Context, id int64) (*Post, error) {
	var p Post
	found, err := m.store.Get(ctx, PostsCollection, id, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) GetAllCachedProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	if err := m.store.GetAll(ctx, ProfilesCollection, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllCachedPosts returns every cached post, newest first.
func (m *Manager) GetAllCachedPosts(ctx context.Context) ([]Post, error) {
	var out []Post
	if err := m.store.GetAll(ctx, PostsCollection, &out); err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// GetCachedPostsByAuthor returns the author's cached posts, newest first.
func (m *Manager) GetCachedPostsByAuthor(ctx context.Context, author string) ([]Post, error) {
	var out []Post
	if err := m.store.GetByIndex(ctx, PostsCollection, "author", author, &out); err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by CreatedAt descending; equal timestamps fall back
// to the higher ID first so the order is stable across reads.
func sortNewestFirst(posts []Post) {
	slices.SortFunc(posts, func(a, b Post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}
