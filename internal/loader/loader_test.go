package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/chaincache/internal/cache"
	"github.com/dmitrijs2005/chaincache/internal/origin"
)

var errRPC = errors.New("rpc: connection refused")

// flakyReader wraps a MemoryReader, counting calls and failing the first
// failN of them.
type flakyReader struct {
	*origin.MemoryReader
	calls        atomic.Int64
	profileReads atomic.Int64
	failN        atomic.Int64
	down         atomic.Bool
}

func (r *flakyReader) fail() error {
	r.calls.Add(1)
	if r.down.Load() {
		return errRPC
	}
	if r.failN.Load() > 0 {
		r.failN.Add(-1)
		return errRPC
	}
	return nil
}

func (r *flakyReader) GetProfile(ctx context.Context, address string) (origin.ProfileTuple, error) {
	r.profileReads.Add(1)
	if err := r.fail(); err != nil {
		return origin.ProfileTuple{}, err
	}
	return r.MemoryReader.GetProfile(ctx, address)
}

func (r *flakyReader) GetPost(ctx context.Context, id uint64) (origin.PostTuple, error) {
	if err := r.fail(); err != nil {
		return origin.PostTuple{}, err
	}
	return r.MemoryReader.GetPost(ctx, id)
}

func (r *flakyReader) GetAllPostIDs(ctx context.Context) ([]uint64, error) {
	if err := r.fail(); err != nil {
		return nil, err
	}
	return r.MemoryReader.GetAllPostIDs(ctx)
}

func (r *flakyReader) HasProfile(ctx context.Context, address string) (bool, error) {
	if err := r.fail(); err != nil {
		return false, err
	}
	return r.MemoryReader.HasProfile(ctx, address)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func chain() *flakyReader {
	r := origin.NewMemoryReader()
	r.SetProfile("0xa", origin.ProfileTuple{Username: "alice", CreatedAt: 10, Exists: true})
	r.SetProfile("0xb", origin.ProfileTuple{Username: "bob", CreatedAt: 20, Exists: true})
	r.SetPost(origin.PostTuple{ID: 1, Author: "0xa", Title: "first", CreatedAt: 100, Exists: true})
	r.SetPost(origin.PostTuple{ID: 2, Author: "0xb", Title: "second", CreatedAt: 200, Exists: true})
	r.SetPost(origin.PostTuple{ID: 3, Author: "0xa", Title: "removed", CreatedAt: 300, Exists: false})
	r.SetPost(origin.PostTuple{ID: 4, Author: "0xc", Title: "anon", CreatedAt: 400, Exists: true})
	return &flakyReader{MemoryReader: r}
}

func setup(t *testing.T) (*Loader, *flakyReader, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := cache.New(":memory:", cache.WithClock(clk.Now))
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	r := chain()
	l := New(m, r, WithTTL(10), WithRetry(2, time.Millisecond), WithWorkers(2))
	return l, r, clk
}

func TestProfile_ServedFromCacheWhileFresh(t *testing.T) {
	ctx := context.Background()
	l, r, clk := setup(t)

	p, err := l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, clk.Now().Equal(p.LastUpdated))
	assert.EqualValues(t, 1, r.calls.Load())

	clk.Advance(5 * time.Minute)
	_, err = l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.calls.Load(), "fresh profile must not hit the origin")

	_, err = l.Profile(ctx, "0xa", true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.calls.Load())

	clk.Advance(11 * time.Minute)
	_, err = l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, r.calls.Load())
}

func TestProfile_RetriesTransientErrors(t *testing.T) {
	l, r, _ := setup(t)
	r.failN.Store(2)

	p, err := l.Profile(context.Background(), "0xb", false)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Username)
	assert.EqualValues(t, 3, r.calls.Load())
}

func TestProfile_NotFoundIsNotRetried(t *testing.T) {
	l, r, _ := setup(t)

	_, err := l.Profile(context.Background(), "0xnobody", false)
	assert.ErrorIs(t, err, origin.ErrProfileNotFound)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestProfile_StaleFallback(t *testing.T) {
	ctx := context.Background()
	l, r, clk := setup(t)

	_, err := l.Profile(ctx, "0xa", false)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	r.down.Store(true)

	p, err := l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = l.Profile(ctx, "0xb", false)
	assert.ErrorIs(t, err, errRPC, "nothing cached to fall back to")
}

func TestPost_AttachesAuthorAndRejectsMissing(t *testing.T) {
	ctx := context.Background()
	l, _, _ := setup(t)

	p, err := l.Post(ctx, 1, false)
	require.NoError(t, err)
	require.NotNil(t, p.AuthorProfile)
	assert.Equal(t, "alice", p.AuthorProfile.Username)

	_, err = l.Post(ctx, 3, false)
	assert.ErrorIs(t, err, origin.ErrPostNotFound)

	_, err = l.Post(ctx, 99, false)
	assert.ErrorIs(t, err, origin.ErrPostNotFound)
}

func TestAllPosts(t *testing.T) {
	ctx := context.Background()
	l, r, _ := setup(t)

	posts, err := l.AllPosts(ctx, false)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []int64{4, 2, 1}, []int64{posts[0].ID, posts[1].ID, posts[2].ID})
	assert.Nil(t, posts[0].AuthorProfile, "0xc has no profile")
	require.NotNil(t, posts[1].AuthorProfile)
	assert.Equal(t, "bob", posts[1].AuthorProfile.Username)

	calls := r.calls.Load()
	again, err := l.AllPosts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, calls, r.calls.Load())
}

func TestAllPosts_StaleFallbackAndFailure(t *testing.T) {
	ctx := context.Background()
	l, r, _ := setup(t)
	r.down.Store(true)

	_, err := l.AllPosts(ctx, true)
	assert.ErrorIs(t, err, errRPC)

	r.down.Store(false)
	_, err = l.AllPosts(ctx, true)
	require.NoError(t, err)

	r.down.Store(true)
	posts, err := l.AllPosts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
}

func TestPostsByAuthor(t *testing.T) {
	ctx := context.Background()
	l, r, _ := setup(t)

	posts, err := l.PostsByAuthor(ctx, "0xa", false)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(1), posts[0].ID)

	calls := r.calls.Load()
	_, err = l.PostsByAuthor(ctx, "0xa", false)
	require.NoError(t, err)
	assert.Equal(t, calls, r.calls.Load())

	e, err := l.cache.GetCacheEntry(ctx, cache.UserPostsKey("0xa"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, cache.EntryUserPosts, e.Type)
	var ids []int64
	require.NoError(t, e.Decode(&ids))
	assert.Equal(t, []int64{1}, ids)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	l, r, _ := setup(t)
	r.down.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Profile(ctx, "0xa", true)
	assert.Error(t, err)
}

func TestAllPosts_SkipsProfileReadForAuthorsWithoutProfile(t *testing.T) {
	ctx := context.Background()
	l, r, _ := setup(t)

	_, err := l.AllPosts(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.profileReads.Load(), "0xc has no profile to read")

	cached, err := l.cache.GetCachedProfile(ctx, "0xc")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestPost_KnownAuthorSkipsExistenceCheck(t *testing.T) {
	ctx := context.Background()
	l, r, _ := setup(t)

	_, err := l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	before := r.calls.Load()

	p, err := l.Post(ctx, 1, false)
	require.NoError(t, err)
	require.NotNil(t, p.AuthorProfile)
	assert.Equal(t, before+1, r.calls.Load(), "only the post itself is read")
}

func TestViewer_CacheTimeoutSetsWindow(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := cache.New(":memory:", cache.WithClock(clk.Now))
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Close() })

	prefs := cache.DefaultPreferences("0xv")
	prefs.CacheTimeout = 3
	require.NoError(t, m.SaveUserPreferences(ctx, prefs))

	r := chain()
	l := New(m, r, WithTTL(10), WithViewer("0xv"), WithRetry(2, time.Millisecond))

	_, err := l.Profile(ctx, "0xa", false)
	require.NoError(t, err)

	e, err := m.GetCacheEntry(ctx, cache.ProfileKey("0xa"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, clk.Now().Add(3*time.Minute).Equal(e.ExpiresAt))

	clk.Advance(5 * time.Minute)
	_, err = l.Profile(ctx, "0xa", false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.profileReads.Load(), "a 3 minute window is over after 5 minutes")
}

func TestViewer_DefaultsWhenPreferencesMissing(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	m := cache.New(":memory:", cache.WithClock(clk.Now))
	require.NoError(t, m.Initialize(ctx))
	t.Cleanup(func() { _ = m.Close() })

	l := New(m, chain(), WithTTL(10), WithViewer("0xnew"))
	assert.Equal(t, cache.DefaultPreferences("0xnew").CacheTimeout, l.window(ctx))

	n, err := m.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n.UserPreferences)
}
