package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

// Profile is a cached user profile. LastUpdated is stamped by the Manager on
// every write.
type Profile struct {
	Address     string    `json:"address"`
	Username    string    `json:"username"`
	Bio         string    `json:"bio"`
	CreatedAt   time.Time `json:"createdAt"`
	Exists      bool      `json:"exists"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Post is a cached post. AuthorProfile is a snapshot taken when the post was
// cached, not a live reference.
type Post struct {
	ID            int64     `json:"id"`
	Author        string    `json:"author"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
	Exists        bool      `json:"exists"`
	LastUpdated   time.Time `json:"lastUpdated"`
	AuthorProfile *Profile  `json:"authorProfile,omitempty"`
}

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Preferences holds per-address user settings. CacheTimeout is in minutes.
type Preferences struct {
	Address       string         `json:"address"`
	Theme         Theme          `json:"theme"`
	Notifications bool           `json:"notifications"`
	AutoRefresh   bool           `json:"autoRefresh"`
	CacheTimeout  int            `json:"cacheTimeout"`
	DisplayName   string         `json:"displayName,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// DefaultPreferences returns the record created on first access.
func DefaultPreferences(address string) Preferences {
	return Preferences{
		Address:       address,
		Theme:         ThemeSystem,
		Notifications: true,
		AutoRefresh:   true,
		CacheTimeout:  15,
	}
}

func (p Preferences) Validate() error {
	switch {
	case p.Address == "":
		return fmt.Errorf("%w: empty address", common.ErrInvalidPreferences)
	case !p.Theme.Valid():
		return fmt.Errorf("%w: unknown theme %q", common.ErrInvalidPreferences, p.Theme)
	case p.CacheTimeout <= 0:
		return fmt.Errorf("%w: cache timeout must be positive, got %d", common.ErrInvalidPreferences, p.CacheTimeout)
	}
	return nil
}

// EntryType tags what a cache entry tracks.
type EntryType string

const (
	EntryProfile   EntryType = "profile"
	EntryPost      EntryType = "post"
	EntryPostsList EntryType = "posts_list"
	EntryUserPosts EntryType = "user_posts"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryProfile, EntryPost, EntryPostsList, EntryUserPosts:
		return true
	}
	return false
}

// Entry is an expiring cache record. ExpiresAt is never before CreatedAt.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Type      EntryType       `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Decode unmarshals the entry payload into dst.
func (e *Entry) Decode(dst any) error {
	return codec.Unmarshal(e.Data, dst)
}

// IsExpired reports whether e is no longer usable at now. Both the read path
// and the sweep use it.
func IsExpired(e Entry, now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats holds record counts per collection.
type Stats struct {
	Profiles        int `json:"profiles"`
	Posts           int `json:"posts"`
	CacheEntries    int `json:"cacheEntries"`
	UserPreferences int `json:"userPreferences"`
}
