package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/dmitrijs2005/chaincache/internal/cache"
)

// AllPosts returns every existing post, newest first.
func (l *Loader) AllPosts(ctx context.Context, force bool) ([]cache.Post, error) {
	ttl := l.window(ctx)
	if !force {
		fresh, err := l.cache.IsDataFresh(ctx, cache.AllPostsKey, ttl)
		if err != nil {
			return nil, err
		}
		if fresh {
			return l.cache.GetAllCachedPosts(ctx)
		}
	}

	if _, err := l.refreshPosts(ctx, ttl); err != nil {
		cached, cerr := l.cache.GetAllCachedPosts(ctx)
		if cerr != nil || len(cached) == 0 {
			return nil, err
		}
		l.log.Warn(ctx, "serving stale posts", "count", len(cached), "error", err)
		return cached, nil
	}
	return l.cache.GetAllCachedPosts(ctx)
}

// PostsByAuthor returns the author's posts, newest first.
func (l *Loader) PostsByAuthor(ctx context.Context, author string, force bool) ([]cache.Post, error) {
	key := cache.UserPostsKey(author)
	ttl := l.window(ctx)
	if !force {
		fresh, err := l.cache.IsDataFresh(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if fresh {
			return l.cache.GetCachedPostsByAuthor(ctx, author)
		}
	}

	posts, err := l.refreshPosts(ctx, ttl)
	if err == nil {
		var mine []cache.Post
		for _, p := range posts {
			if p.Author == author {
				mine = append(mine, p)
			}
		}
		err = l.cache.SetCacheEntry(ctx, key, postIDs(mine), cache.EntryUserPosts, ttl)
	}
	if err != nil {
		cached, cerr := l.cache.GetCachedPostsByAuthor(ctx, author)
		if cerr != nil || len(cached) == 0 {
			return nil, err
		}
		l.log.Warn(ctx, "serving stale posts", "author", author, "count", len(cached), "error", err)
		return cached, nil
	}
	return l.cache.GetCachedPostsByAuthor(ctx, author)
}

// refreshPosts reads every post from the contract, attaches author snapshots
// and stores the result together with the all_posts entry.
func (l *Loader) refreshPosts(ctx context.Context, ttl int) ([]cache.Post, error) {
	ids, err := retry(ctx, l, "post ids", func(ctx context.Context) ([]uint64, error) {
		return l.reader.GetAllPostIDs(ctx)
	})
	if err != nil {
		return nil, err
	}

	posts, err := l.fetchPosts(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := l.attachAuthors(ctx, posts); err != nil {
		return nil, err
	}

	if err := l.cache.CachePostsWithEntry(ctx, posts, cache.AllPostsKey, cache.EntryPostsList, ttl); err != nil {
		return nil, err
	}
	l.log.Info(ctx, "posts refreshed", "listed", len(ids), "cached", len(posts))
	return posts, nil
}

func (l *Loader) fetchPosts(ctx context.Context, ids []uint64) ([]cache.Post, error) {
	var (
		p     = pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(l.workers)
		mu    sync.Mutex
		posts = make([]cache.Post, 0, len(ids))
	)

	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			post, err := l.fetchPost(ctx, id)
			if err != nil {
				return err
			}
			if post == nil {
				l.log.Debug(ctx, "skipping missing post", "post", id)
				return nil
			}
			mu.Lock()
			posts = append(posts, *post)
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	return posts, nil
}

// attachAuthors resolves each distinct author once. Authors without a
// profile on the contract are left without a snapshot.
func (l *Loader) attachAuthors(ctx context.Context, posts []cache.Post) error {
	authors := make(map[string]*cache.Profile)
	for _, p := range posts {
		authors[p.Author] = nil
	}

	for addr := range authors {
		prof, err := l.authorProfile(ctx, addr)
		if err != nil {
			return err
		}
		authors[addr] = prof
	}

	for i := range posts {
		posts[i].AuthorProfile = authors[posts[i].Author]
	}
	return nil
}
