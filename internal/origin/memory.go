package origin

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/bytedance/sonic"
)

// Fixture is the on-disk form of a MemoryReader.
type Fixture struct {
	Profiles map[string]ProfileTuple `json:"profiles"`
	Posts    []PostTuple             `json:"posts"`
}

// MemoryReader is an in-memory contract. It is safe for concurrent use.
type MemoryReader struct {
	mu       sync.RWMutex
	profiles map[string]ProfileTuple
	posts    map[uint64]PostTuple
}

func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		profiles: make(map[string]ProfileTuple),
		posts:    make(map[uint64]PostTuple),
	}
}

// LoadFixture reads a JSON fixture file into a new MemoryReader.
func LoadFixture(path string) (*MemoryReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	r := NewMemoryReader()
	for addr, p := range f.Profiles {
		r.SetProfile(addr, p)
	}
	for _, p := range f.Posts {
		r.SetPost(p)
	}
	return r, nil
}

func (r *MemoryReader) SetProfile(address string, p ProfileTuple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[address] = p
}

func (r *MemoryReader) SetPost(p PostTuple) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts[p.ID] = p
}

func (r *MemoryReader) GetProfile(ctx context.Context, address string) (ProfileTuple, error) {
	if err := ctx.Err(); err != nil {
		return ProfileTuple{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[address]
	if !ok {
		return ProfileTuple{}, fmt.Errorf("%w: %s", ErrProfileNotFound, address)
	}
	return p, nil
}

func (r *MemoryReader) GetPost(ctx context.Context, id uint64) (PostTuple, error) {
	if err := ctx.Err(); err != nil {
		return PostTuple{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.posts[id]
	if !ok {
		return PostTuple{}, fmt.Errorf("%w: %d", ErrPostNotFound, id)
	}
	return p, nil
}

// GetAllPostIDs returns ids in ascending order, like the contract's array.
func (r *MemoryReader) GetAllPostIDs(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint64, 0, len(r.posts))
	for id := range r.posts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *MemoryReader) HasProfile(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[address]
	return ok && p.Exists, nil
}
