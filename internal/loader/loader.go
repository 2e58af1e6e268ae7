// Package loader serves domain records from the cache when they are fresh and
// refreshes them from the contract otherwise.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrijs2005/chaincache/internal/cache"
	"github.com/dmitrijs2005/chaincache/internal/logging"
	"github.com/dmitrijs2005/chaincache/internal/origin"
)

const (
	defaultTTLMinutes    = 15
	defaultRetryAttempts = 3
	defaultRetryInterval = 200 * time.Millisecond
	defaultFetchWorkers  = 8
)

// Loader combines a cache Manager with a contract Reader.
type Loader struct {
	cache  *cache.Manager
	reader origin.Reader
	log    logging.Logger

	ttl           int
	viewer        string
	retryAttempts uint64
	retryInterval time.Duration
	workers       int
}

type Option func(*Loader)

// WithTTL sets the freshness window and entry lifetime in minutes.
func WithTTL(minutes int) Option {
	return func(l *Loader) { l.ttl = minutes }
}

// WithViewer makes the viewer's stored CacheTimeout preference the freshness
// window and entry lifetime, in place of the WithTTL value.
func WithViewer(address string) Option {
	return func(l *Loader) { l.viewer = address }
}

// WithRetry sets how many times a failed origin read is retried and the
// initial backoff interval.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(l *Loader) {
		l.retryAttempts = uint64(max(attempts, 0))
		l.retryInterval = interval
	}
}

// WithWorkers bounds the number of concurrent post fetches.
func WithWorkers(n int) Option {
	return func(l *Loader) { l.workers = max(n, 1) }
}

func WithLogger(log logging.Logger) Option {
	return func(l *Loader) { l.log = log }
}

func New(c *cache.Manager, r origin.Reader, opts ...Option) *Loader {
	l := &Loader{
		cache:         c,
		reader:        r,
		log:           logging.Nop(),
		ttl:           defaultTTLMinutes,
		retryAttempts: defaultRetryAttempts,
		retryInterval: defaultRetryInterval,
		workers:       defaultFetchWorkers,
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With("component", "loader")
	return l
}

// window returns the freshness window in minutes. Without a viewer, or when
// the viewer's preferences cannot be read, it is the configured TTL.
func (l *Loader) window(ctx context.Context) int {
	if l.viewer == "" {
		return l.ttl
	}
	p, err := l.cache.GetUserPreferencesWithDefaults(ctx, l.viewer)
	if err != nil {
		l.log.Warn(ctx, "viewer preferences unavailable, using default ttl", "viewer", l.viewer, "error", err)
		return l.ttl
	}
	return p.CacheTimeout
}

// Profile returns the profile for address, reading the contract when the
// cached copy is missing, stale or force is set.
func (l *Loader) Profile(ctx context.Context, address string, force bool) (*cache.Profile, error) {
	key := cache.ProfileKey(address)
	ttl := l.window(ctx)
	if !force {
		if p, err := l.freshProfile(ctx, key, address, ttl); p != nil || err != nil {
			return p, err
		}
	}

	p, err := l.fetchProfile(ctx, address)
	if err == nil {
		err = l.cache.SetCacheEntry(ctx, key, address, cache.EntryProfile, ttl)
	}
	if err != nil {
		return l.staleProfile(ctx, address, err)
	}
	return p, nil
}

// Post returns the post with id. Posts that no longer exist on the contract
// are reported as origin.ErrPostNotFound.
func (l *Loader) Post(ctx context.Context, id int64, force bool) (*cache.Post, error) {
	key := cache.PostKey(id)
	ttl := l.window(ctx)
	if !force {
		fresh, err := l.cache.IsDataFresh(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if fresh {
			p, err := l.cache.GetCachedPost(ctx, id)
			if p != nil || err != nil {
				return p, err
			}
		}
	}

	post, err := l.fetchPost(ctx, uint64(id))
	if err == nil && post == nil {
		return nil, fmt.Errorf("%w: %d", origin.ErrPostNotFound, id)
	}
	if err == nil {
		l.attachAuthor(ctx, post)
		err = l.cache.CachePost(ctx, *post)
	}
	if err == nil {
		err = l.cache.SetCacheEntry(ctx, key, id, cache.EntryPost, ttl)
	}
	if err != nil {
		return l.stalePost(ctx, id, err)
	}
	return l.cache.GetCachedPost(ctx, id)
}

// retry runs op with exponential backoff. Not-found and context errors stop
// retries immediately.
func retry[T any](ctx context.Context, l *Loader, what string, op func(context.Context) (T, error)) (T, error) {
	var result T

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(l.retryInterval),
		backoff.WithMaxElapsedTime(0),
	), l.retryAttempts)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		result, err = op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		l.log.Debug(ctx, "origin read failed", "what", what, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return result, fmt.Errorf("read %s: %w", what, err)
	}
	return result, nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, origin.ErrProfileNotFound),
		errors.Is(err, origin.ErrPostNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (l *Loader) freshProfile(ctx context.Context, key, address string, ttl int) (*cache.Profile, error) {
	fresh, err := l.cache.IsDataFresh(ctx, key, ttl)
	if err != nil || !fresh {
		return nil, err
	}
	return l.cache.GetCachedProfile(ctx, address)
}

// fetchProfile reads the profile from the contract and caches it.
func (l *Loader) fetchProfile(ctx context.Context, address string) (*cache.Profile, error) {
	t, err := retry(ctx, l, "profile "+address, func(ctx context.Context) (origin.ProfileTuple, error) {
		return l.reader.GetProfile(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if err := l.cache.CacheProfile(ctx, origin.ToProfile(address, t)); err != nil {
		return nil, err
	}
	return l.cache.GetCachedProfile(ctx, address)
}

// fetchPost returns nil without error for posts the contract marks as
// missing.
func (l *Loader) fetchPost(ctx context.Context, id uint64) (*cache.Post, error) {
	t, err := retry(ctx, l, fmt.Sprintf("post %d", id), func(ctx context.Context) (origin.PostTuple, error) {
		return l.reader.GetPost(ctx, id)
	})
	switch {
	case errors.Is(err, origin.ErrPostNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case !t.Exists:
		return nil, nil
	}
	p := origin.ToPost(t)
	return &p, nil
}

// attachAuthor sets the post's author snapshot. Failures leave the snapshot
// empty.
func (l *Loader) attachAuthor(ctx context.Context, p *cache.Post) {
	author, err := l.authorProfile(ctx, p.Author)
	if err != nil {
		l.log.Warn(ctx, "author profile unavailable", "author", p.Author, "post", p.ID, "error", err)
		return
	}
	p.AuthorProfile = author
}

// authorProfile returns the cached profile of address, fetching it when it
// has never been cached. Addresses without a profile on the contract yield
// nil without a profile read.
func (l *Loader) authorProfile(ctx context.Context, address string) (*cache.Profile, error) {
	prof, err := l.cache.GetCachedProfile(ctx, address)
	if err != nil || prof != nil {
		return prof, err
	}

	has, err := retry(ctx, l, "has profile "+address, func(ctx context.Context) (bool, error) {
		return l.reader.HasProfile(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	if !has {
		l.log.Debug(ctx, "author has no profile", "author", address)
		return nil, nil
	}

	prof, err = l.fetchProfile(ctx, address)
	if errors.Is(err, origin.ErrProfileNotFound) {
		return nil, nil
	}
	return prof, err
}

func (l *Loader) staleProfile(ctx context.Context, address string, cause error) (*cache.Profile, error) {
	if errors.Is(cause, origin.ErrProfileNotFound) {
		return nil, cause
	}
	p, err := l.cache.GetCachedProfile(ctx, address)
	if err != nil || p == nil {
		return nil, cause
	}
	l.log.Warn(ctx, "serving stale profile", "address", address, "error", cause)
	return p, nil
}

func (l *Loader) stalePost(ctx context.Context, id int64, cause error) (*cache.Post, error) {
	p, err := l.cache.GetCachedPost(ctx, id)
	if err != nil || p == nil {
		return nil, cause
	}
	l.log.Warn(ctx, "serving stale post", "post", id, "error", cause)
	return p, nil
}

func postIDs(posts []cache.Post) []int64 {
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)
	return ids
}
