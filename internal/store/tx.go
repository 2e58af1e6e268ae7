package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic. Panics are rethrown.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", common.ErrOperationFailed, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("%w: commit: %w", common.ErrOperationFailed, cerr)
		}
	}()

	return fn(ctx, tx)
}

// WriteError reports which write of an Update transaction failed. Position is
// the zero-based order of the write among the transaction's writes.
type WriteError struct {
	Collection string
	Position   int
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write #%d to %s: %v", e.Position, e.Collection, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Txn is a write handle valid only inside an Update callback.
type Txn struct {
	ctx    context.Context
	q      querier
	store  *Store
	writes int
}

// Update runs fn in a single transaction spanning any collections. Either all
// writes made through the Txn become visible or none do.
func (s *Store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return common.ErrNotInitialized
	}
	return withTx(ctx, s.db, func(ctx context.Context, q querier) error {
		return fn(&Txn{ctx: ctx, q: q, store: s})
	})
}

func (t *Txn) collection(name string) (*Collection, error) {
	c, ok := t.store.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrCollectionNotFound, name)
	}
	return c, nil
}

func (t *Txn) track(collection string, err error) error {
	pos := t.writes
	t.writes++
	if err != nil {
		return &WriteError{Collection: collection, Position: pos, Err: err}
	}
	return nil
}

// Get reads inside the transaction, so it sees the Txn's own writes and is
// isolated from concurrent ones. Reads do not count as write positions.
func (t *Txn) Get(collection string, key any, dst any) (bool, error) {
	c, err := t.collection(collection)
	if err != nil {
		return false, err
	}
	return getDoc(t.ctx, t.q, c, key, dst)
}

// Put is the transactional form of Store.Put.
func (t *Txn) Put(collection string, record any) error {
	c, err := t.collection(collection)
	if err != nil {
		return t.track(collection, err)
	}
	return t.track(collection, putDoc(t.ctx, t.q, c, record))
}

// Delete is the transactional form of Store.Delete.
func (t *Txn) Delete(collection string, key any) error {
	c, err := t.collection(collection)
	if err != nil {
		return t.track(collection, err)
	}
	return t.track(collection, deleteDoc(t.ctx, t.q, c, key))
}

// Clear is the transactional form of Store.Clear.
func (t *Txn) Clear(collection string) error {
	c, err := t.collection(collection)
	if err != nil {
		return t.track(collection, err)
	}
	return t.track(collection, clearDocs(t.ctx, t.q, c))
}
