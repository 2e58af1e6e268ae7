// Package store is a schema-driven document store on top of a local SQLite
// database.
//
// # Overview
//
// A Store owns one versioned database holding named collections. Each
// collection is a table with a primary-key column derived from a field of the
// JSON document (its key path) or an auto-incrementing surrogate key, plus any
// number of secondary indexes over document fields. Records are encoded with
// sonic and kept as JSON text, so index lookups run on json_extract expression
// indexes inside SQLite.
//
// # Versioning
//
// Initialize applies the declarative Schema through a goose Go migration
// registered at Schema.Version. The migration only runs when the requested
// version is newer than the stored one; every DDL statement uses IF NOT EXISTS,
// so re-opening an up-to-date database changes nothing. Opening with a version
// older than the stored one fails with common.ErrSchemaUpgrade.
//
// # Errors
//
// Absence is never an error: Get reports found=false and list operations
// return empty slices. Failures are wrapped around the sentinels in
// internal/common (ErrNotInitialized, ErrCollectionNotFound,
// ErrOperationFailed, ...), keeping the engine error in the chain.
//
// # Concurrency
//
// A Store is safe for concurrent use. Every single-record write runs in its own
// transaction; Update groups writes across collections into one transaction.
//
// Typical usage
//
//	s := store.New("app.db", schema, store.WithLogger(log))
//	if err := s.Initialize(ctx); err != nil { ... }
//	defer s.Close()
//	_ = s.Put(ctx, "posts", post)
//	var p Post
//	found, _ := s.Get(ctx, "posts", int64(7), &p)
package store
