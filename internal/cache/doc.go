// Package cache implements the domain cache on top of internal/store.
//
// A Manager owns one store laid out by DefaultSchema (profiles, posts,
// userPreferences, cache) and adds the domain rules: write-time stamping of
// LastUpdated, newest-first post ordering, lazily created preferences and
// expiring cache entries.
//
// # Freshness
//
// A cache entry is usable while it has not expired (see IsExpired). Expiry is
// enforced lazily: GetCacheEntry deletes an expired entry when it reads one,
// and Initialize sweeps all expired entries once. IsDataFresh additionally
// requires the entry to be younger than the caller's window, so a caller can
// ask for a tighter freshness than the TTL it stored but never a looser one.
//
// Construct exactly one Manager per database at process start and pass it to
// its consumers.
package cache
