package cache

import (
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/dmitrijs2005/chaincache/internal/store"
)

const (
	ProfilesCollection    = "profiles"
	PostsCollection       = "posts"
	PreferencesCollection = "userPreferences"
	EntriesCollection     = "cache"
)

var codec = sonic.ConfigStd

// DefaultSchema is the database layout used by Manager.
func DefaultSchema() store.Schema {
	return store.Schema{
		Name:    "chaincache",
		Version: 1,
		Collections: []store.Collection{
			{Name: ProfilesCollection, KeyPath: "address"},
			{Name: PostsCollection, KeyPath: "id", Indexes: []store.Index{{Name: "author", KeyPath: "author"}}},
			{Name: PreferencesCollection, KeyPath: "address"},
			{Name: EntriesCollection, KeyPath: "key", Indexes: []store.Index{{Name: "type", KeyPath: "type"}}},
		},
	}
}

// Well-known cache entry keys.
const AllPostsKey = "all_posts"

func ProfileKey(address string) string { return "profile_" + address }

func PostKey(id int64) string { return "post_" + strconv.FormatInt(id, 10) }

func UserPostsKey(author string) string { return "user_posts_" + author }
