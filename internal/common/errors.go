// Package common defines sentinel errors shared by the storage, cache and
// loader layers of chaincache. Callers should use errors.Is to match these
// values; the storage engine's own error stays reachable through the chain.
package common

import "errors"

var (
	// Storage-level errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSchemaUpgrade      = errors.New("schema upgrade failed")
	ErrNotInitialized     = errors.New("store not initialized")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrIndexNotFound      = errors.New("index not found")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidSchema      = errors.New("invalid schema")

	// Cache-level validation errors.
	ErrInvalidTTL         = errors.New("invalid ttl")
	ErrInvalidEntryType   = errors.New("invalid cache entry type")
	ErrInvalidPreferences = errors.New("invalid preferences")
	ErrInvalidKey         = errors.New("invalid key")
)
