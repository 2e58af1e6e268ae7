// Package origin describes the read side of the social contract that the
// cache mirrors, and provides an in-memory implementation of it.
package origin

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/chaincache/internal/cache"
)

var (
	ErrProfileNotFound = errors.New("profile not found on chain")
	ErrPostNotFound    = errors.New("post not found on chain")
)

// ProfileTuple is the contract's profile return value. CreatedAt is in
// seconds since the epoch.
type ProfileTuple struct {
	Username  string `json:"username"`
	Bio       string `json:"bio"`
	CreatedAt uint64 `json:"createdAt"`
	Exists    bool   `json:"exists"`
}

// PostTuple is the contract's post return value. CreatedAt is in seconds
// since the epoch.
type PostTuple struct {
	ID        uint64 `json:"id"`
	Author    string `json:"author"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt uint64 `json:"createdAt"`
	Exists    bool   `json:"exists"`
}

// Reader is the contract's read interface. It is the source of truth for
// everything the cache stores.
type Reader interface {
	GetProfile(ctx context.Context, address string) (ProfileTuple, error)
	GetPost(ctx context.Context, id uint64) (PostTuple, error)
	GetAllPostIDs(ctx context.Context) ([]uint64, error)
	HasProfile(ctx context.Context, address string) (bool, error)
}

// ToProfile converts a contract tuple into a cache record.
func ToProfile(address string, t ProfileTuple) cache.Profile {
	return cache.Profile{
		Address:   address,
		Username:  t.Username,
		Bio:       t.Bio,
		CreatedAt: fromSeconds(t.CreatedAt),
		Exists:    t.Exists,
	}
}

// ToPost converts a contract tuple into a cache record.
func ToPost(t PostTuple) cache.Post {
	return cache.Post{
		ID:        int64(t.ID),
		Author:    t.Author,
		Title:     t.Title,
		Content:   t.Content,
		CreatedAt: fromSeconds(t.CreatedAt),
		Exists:    t.Exists,
	}
}

func fromSeconds(s uint64) time.Time {
	return time.UnixMilli(int64(s) * 1000).UTC()
}
