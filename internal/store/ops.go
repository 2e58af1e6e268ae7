package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Add inserts record only when its key is not taken yet. created is false
// when an existing record was kept.
func (s *Store) Add(ctx context.Context, collection string, record any) (created bool, err error) {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return false, err
	}
	defer release()

	err = withTx(ctx, db, func(ctx context.Context, q querier) error {
		var werr error
		created, werr = writeDoc(ctx, q, c, record, false)
		return werr
	})
	return created, err
}

// Put inserts or replaces record under the key found at the collection's key
// path. The whole document is replaced; fields are never merged.
func (s *Store) Put(ctx context.Context, collection string, record any) error {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return err
	}
	defer release()

	return withTx(ctx, db, func(ctx context.Context, q querier) error {
		return putDoc(ctx, q, c, record)
	})
}

// Get decodes the record stored under key into dst. found is false when no
// such record exists.
func (s *Store) Get(ctx context.Context, collection string, key any, dst any) (bool, error) {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return false, err
	}
	defer release()

	return getDoc(ctx, db, c, key, dst)
}

// GetAll decodes every record of the collection into dst, which must point to
// a slice. Order is unspecified.
func (s *Store) GetAll(ctx context.Context, collection string, dst any) error {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return err
	}
	defer release()

	return queryArray(ctx, db, dst, c.Name,
		fmt.Sprintf(`SELECT json_group_array(json(doc)) FROM %s`, quote(c.Name)))
}

// GetByIndex decodes into dst every record whose indexed field equals value.
func (s *Store) GetByIndex(ctx context.Context, collection, index string, value any, dst any) error {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return err
	}
	defer release()

	idx, ok := c.index(index)
	if !ok {
		return fmt.Errorf("%w: %q on %q", common.ErrIndexNotFound, index, c.Name)
	}
	return queryArray(ctx, db, dst, c.Name,
		fmt.Sprintf(`SELECT json_group_array(json(doc)) FROM %s WHERE %s = ?`,
			quote(c.Name), fieldExpr(idx.KeyPath)), value)
}

// Delete removes the record stored under key, if any.
func (s *Store) Delete(ctx context.Context, collection string, key any) error {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return err
	}
	defer release()

	return deleteDoc(ctx, db, c, key)
}

// Clear removes every record of the collection.
func (s *Store) Clear(ctx context.Context, collection string) error {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return err
	}
	defer release()

	return clearDocs(ctx, db, c)
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	db, c, release, err := s.acquire(collection)
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quote(c.Name))).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", common.ErrOperationFailed, c.Name, err)
	}
	return n, nil
}

func putDoc(ctx context.Context, q querier, c *Collection, record any) error {
	_, err := writeDoc(ctx, q, c, record, true)
	return err
}

// writeDoc upserts record when replace is set and otherwise leaves an
// existing row alone. It reports whether a row was written.
func writeDoc(ctx context.Context, q querier, c *Collection, record any, replace bool) (bool, error) {
	doc, err := encode(record)
	if err != nil {
		return false, err
	}

	keyMissing := true
	if c.KeyPath != "" {
		var kind sql.NullString
		if err := q.QueryRowContext(ctx,
			`SELECT json_type(?, `+jsonPath(c.KeyPath)+`)`, doc).Scan(&kind); err != nil {
			return false, fmt.Errorf("%w: put %s: %w", common.ErrOperationFailed, c.Name, err)
		}
		switch kind.String {
		case "integer", "text":
			keyMissing = false
		case "", "null":
		default:
			return false, fmt.Errorf("%w: %s.%s has JSON type %s", common.ErrInvalidKey, c.Name, c.KeyPath, kind.String)
		}
	}
	if keyMissing && !c.AutoIncrement {
		return false, fmt.Errorf("%w: record for %s has no %q", common.ErrInvalidKey, c.Name, c.KeyPath)
	}

	keyExpr := "NULL"
	if c.KeyPath != "" {
		keyExpr = "json_extract(?1, " + jsonPath(c.KeyPath) + ")"
	}
	conflict := "DO NOTHING"
	if replace {
		conflict = "DO UPDATE SET doc = excluded.doc"
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (k, doc) VALUES (%s, ?1) ON CONFLICT(k) %s`,
		quote(c.Name), keyExpr, conflict), doc)
	if err != nil {
		return false, fmt.Errorf("%w: put %s: %w", common.ErrOperationFailed, c.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: put %s: %w", common.ErrOperationFailed, c.Name, err)
	}

	if keyMissing && c.KeyPath != "" && n > 0 {
		// Write the surrogate key back so readers see it in the document.
		_, err = q.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET doc = json_set(doc, %s, k) WHERE k = last_insert_rowid()`,
			quote(c.Name), jsonPath(c.KeyPath)))
		if err != nil {
			return false, fmt.Errorf("%w: put %s: %w", common.ErrOperationFailed, c.Name, err)
		}
	}
	return n > 0, nil
}

func getDoc(ctx context.Context, q querier, c *Collection, key any, dst any) (bool, error) {
	if key == nil {
		return false, fmt.Errorf("%w: nil key", common.ErrInvalidKey)
	}

	var doc string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE k = ?`, quote(c.Name)), key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s[%v]: %w", common.ErrOperationFailed, c.Name, key, err)
	}
	if err := decode(doc, dst); err != nil {
		return false, err
	}
	return true, nil
}

func deleteDoc(ctx context.Context, q querier, c *Collection, key any) error {
	if key == nil {
		return fmt.Errorf("%w: nil key", common.ErrInvalidKey)
	}
	if _, err := q.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, quote(c.Name)), key); err != nil {
		return fmt.Errorf("%w: delete %s[%v]: %w", common.ErrOperationFailed, c.Name, key, err)
	}
	return nil
}

func clearDocs(ctx context.Context, q querier, c *Collection) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, quote(c.Name))); err != nil {
		return fmt.Errorf("%w: clear %s: %w", common.ErrOperationFailed, c.Name, err)
	}
	return nil
}

// queryArray runs a query returning one JSON array and decodes it into dst.
func queryArray(ctx context.Context, q querier, dst any, name, query string, args ...any) error {
	var arr string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&arr); err != nil {
		return fmt.Errorf("%w: list %s: %w", common.ErrOperationFailed, name, err)
	}
	return decode(arr, dst)
}
