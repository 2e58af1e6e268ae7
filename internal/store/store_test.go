package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/chaincache/internal/common"
)

type note struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body,omitempty"`
	Stars  int    `json:"stars"`
}

type event struct {
	Seq  int64  `json:"seq,omitempty"`
	Kind string `json:"kind"`
}

func testSchema(version int64) Schema {
	return Schema{
		Name:    "test",
		Version: version,
		Collections: []Collection{
			{Name: "notes", KeyPath: "id", Indexes: []Index{{Name: "author", KeyPath: "author"}}},
			{Name: "events", KeyPath: "seq", AutoIncrement: true, Indexes: []Index{{Name: "kind", KeyPath: "kind"}}},
			{Name: "slugs", KeyPath: "id", Indexes: []Index{{Name: "body", KeyPath: "body", Unique: true}}},
		},
	}
}

func openStore(t *testing.T, dsn string, schema Schema) *Store {
	t.Helper()
	s := New(dsn, schema)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitialize_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	s := openStore(t, dsn, testSchema(1))
	require.NoError(t, s.Initialize(ctx), "second Initialize on an open store")
	require.NoError(t, s.Put(ctx, "notes", note{ID: "a", Author: "alice"}))
	require.NoError(t, s.Close())

	// Re-open the same file with the same schema: nothing is recreated.
	require.NoError(t, s.Initialize(ctx))
	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	var got note
	found, err := s.Get(ctx, "notes", "a", &got)
	require.NoError(t, err)
	assert.True(t, found, "data must survive a re-open")
}

func TestPutGet_RoundTripAndReplace(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	require.NoError(t, s.Put(ctx, "notes", note{ID: "n1", Author: "alice", Body: "hello", Stars: 3}))

	var got note
	found, err := s.Get(ctx, "notes", "n1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, note{ID: "n1", Author: "alice", Body: "hello", Stars: 3}, got)

	// Replace, not merge: Body is dropped by the new record.
	require.NoError(t, s.Put(ctx, "notes", note{ID: "n1", Author: "bob"}))
	got = note{}
	found, err = s.Get(ctx, "notes", "n1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, note{ID: "n1", Author: "bob"}, got)

	n, err := s.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGet_AbsentIsNotAnError(t *testing.T) {
	s := openStore(t, ":memory:", testSchema(1))

	var got note
	found, err := s.Get(context.Background(), "notes", "nope", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetAllAndGetByIndex(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	var all []note
	require.NoError(t, s.GetAll(ctx, "notes", &all))
	assert.Empty(t, all)

	for _, n := range []note{
		{ID: "1", Author: "alice"},
		{ID: "2", Author: "bob"},
		{ID: "3", Author: "alice"},
	} {
		require.NoError(t, s.Put(ctx, "notes", n))
	}

	require.NoError(t, s.GetAll(ctx, "notes", &all))
	assert.Len(t, all, 3)

	var byAlice []note
	require.NoError(t, s.GetByIndex(ctx, "notes", "author", "alice", &byAlice))
	ids := []string{}
	for _, n := range byAlice {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"1", "3"}, ids)

	var none []note
	require.NoError(t, s.GetByIndex(ctx, "notes", "author", "carol", &none))
	assert.Empty(t, none)

	err := s.GetByIndex(ctx, "notes", "missing", "x", &none)
	assert.ErrorIs(t, err, common.ErrIndexNotFound)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	require.NoError(t, s.Put(ctx, "notes", note{ID: "1"}))
	require.NoError(t, s.Put(ctx, "notes", note{ID: "2"}))

	require.NoError(t, s.Delete(ctx, "notes", "1"))
	require.NoError(t, s.Delete(ctx, "notes", "1"), "deleting an absent key is a no-op")

	n, err := s.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Clear(ctx, "notes"))
	n, err = s.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAutoIncrement_AssignsAndWritesBackKeys(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	require.NoError(t, s.Put(ctx, "events", event{Kind: "sync"}))
	require.NoError(t, s.Put(ctx, "events", event{Kind: "sweep"}))

	var got event
	found, err := s.Get(ctx, "events", int64(2), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, event{Seq: 2, Kind: "sweep"}, got)

	// An explicit key replaces in place.
	require.NoError(t, s.Put(ctx, "events", event{Seq: 1, Kind: "resync"}))
	var all []event
	require.NoError(t, s.GetAll(ctx, "events", &all))
	assert.ElementsMatch(t, []event{{Seq: 1, Kind: "resync"}, {Seq: 2, Kind: "sweep"}}, all)
}

func TestPut_MissingKeyRejected(t *testing.T) {
	s := openStore(t, ":memory:", testSchema(1))

	err := s.Put(context.Background(), "notes", note{Author: "alice"})
	assert.ErrorIs(t, err, common.ErrInvalidKey)

	err = s.Put(context.Background(), "notes", map[string]any{"id": 1.5})
	assert.ErrorIs(t, err, common.ErrInvalidKey)
}

func TestPut_UniqueIndexViolationIsOperationFailed(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	require.NoError(t, s.Put(ctx, "slugs", note{ID: "a", Body: "same"}))
	err := s.Put(ctx, "slugs", note{ID: "b", Body: "same"})
	require.ErrorIs(t, err, common.ErrOperationFailed)
	assert.NotNil(t, errors.Unwrap(err), "engine error must stay in the chain")
}

func TestOperations_BeforeInitializeAndAfterClose(t *testing.T) {
	ctx := context.Background()
	s := New(":memory:", testSchema(1))

	var n note
	_, err := s.Get(ctx, "notes", "x", &n)
	assert.ErrorIs(t, err, common.ErrNotInitialized)
	assert.ErrorIs(t, s.Put(ctx, "notes", note{ID: "x"}), common.ErrNotInitialized)

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close is harmless")

	assert.ErrorIs(t, s.Clear(ctx, "notes"), common.ErrNotInitialized)
	assert.ErrorIs(t, s.Update(ctx, func(*Txn) error { return nil }), common.ErrNotInitialized)
	_, err = s.Count(ctx, "notes")
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestUnknownCollection(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	assert.ErrorIs(t, s.Put(ctx, "ghosts", note{ID: "1"}), common.ErrCollectionNotFound)
	var all []note
	assert.ErrorIs(t, s.GetAll(ctx, "ghosts", &all), common.ErrCollectionNotFound)
}

func TestInitialize_StorageUnavailable(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "no", "such", "dir", "cache.db")
	s := New(dsn, testSchema(1))

	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)

	_, err = s.Count(context.Background(), "notes")
	assert.ErrorIs(t, err, common.ErrNotInitialized)
}

func TestInitialize_InvalidSchema(t *testing.T) {
	bad := []Schema{
		{Name: "x", Version: 0},
		{Name: "x", Version: 1, Collections: []Collection{{Name: "drop table", KeyPath: "id"}}},
		{Name: "x", Version: 1, Collections: []Collection{{Name: "a"}}},
		{Name: "x", Version: 1, Collections: []Collection{{Name: "a", KeyPath: "id"}, {Name: "A", KeyPath: "id"}}},
		{Name: "x", Version: 1, Collections: []Collection{{Name: "sqlite_master", KeyPath: "id"}}},
		{Name: "x", Version: 1, Collections: []Collection{{Name: "a", KeyPath: "id",
			Indexes: []Index{{Name: "i", KeyPath: "f"}, {Name: "i", KeyPath: "g"}}}}},
	}
	for _, schema := range bad {
		err := New(":memory:", schema).Initialize(context.Background())
		assert.ErrorIs(t, err, common.ErrInvalidSchema, "%+v", schema)
	}
}

func TestSchemaUpgrade_AddsCollectionsAndKeepsData(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	v1 := Schema{Name: "test", Version: 1, Collections: []Collection{{Name: "notes", KeyPath: "id"}}}
	s1 := New(dsn, v1)
	require.NoError(t, s1.Initialize(ctx))
	require.NoError(t, s1.Put(ctx, "notes", note{ID: "keep"}))
	require.NoError(t, s1.Close())

	s2 := openStore(t, dsn, testSchema(2))
	v, err := s2.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	var got note
	found, err := s2.Get(ctx, "notes", "keep", &got)
	require.NoError(t, err)
	assert.True(t, found)

	// The index added at version 2 serves rows written at version 1.
	var byAuthor []note
	require.NoError(t, s2.GetByIndex(ctx, "notes", "author", "", &byAuthor))
	assert.Len(t, byAuthor, 1)

	require.NoError(t, s2.Put(ctx, "events", event{Kind: "upgraded"}))
}

func TestSchemaUpgrade_OlderVersionRejected(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	s2 := New(dsn, testSchema(2))
	require.NoError(t, s2.Initialize(ctx))
	require.NoError(t, s2.Close())

	err := New(dsn, testSchema(1)).Initialize(ctx)
	assert.ErrorIs(t, err, common.ErrSchemaUpgrade)
}

func TestUpdate_CommitsAcrossCollections(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))
	require.NoError(t, s.Put(ctx, "notes", note{ID: "old"}))

	err := s.Update(ctx, func(tx *Txn) error {
		if err := tx.Clear("notes"); err != nil {
			return err
		}
		if err := tx.Put("notes", note{ID: "new"}); err != nil {
			return err
		}
		return tx.Put("events", event{Kind: "replaced"})
	})
	require.NoError(t, err)

	notes, err := s.Count(ctx, "notes")
	require.NoError(t, err)
	events, err := s.Count(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 1, notes)
	assert.Equal(t, 1, events)
}

func TestUpdate_RollsBackAndReportsFailingWrite(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	err := s.Update(ctx, func(tx *Txn) error {
		for _, n := range []note{{ID: "1"}, {ID: "2"}, {Author: "no id"}, {ID: "4"}} {
			if err := tx.Put("notes", n); err != nil {
				return err
			}
		}
		return nil
	})
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "notes", we.Collection)
	assert.Equal(t, 2, we.Position)
	assert.ErrorIs(t, err, common.ErrInvalidKey)

	n, err := s.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Zero(t, n, "nothing from the failed transaction may be visible")
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "cache.db"), testSchema(1))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, "events", event{Kind: "k"}))
			var all []event
			assert.NoError(t, s.GetByIndex(ctx, "events", "kind", "k", &all))
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestAdd_KeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))

	created, err := s.Add(ctx, "notes", note{ID: "a", Author: "alice", Stars: 5})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Add(ctx, "notes", note{ID: "a", Author: "defaults"})
	require.NoError(t, err)
	assert.False(t, created)

	var got note
	_, err = s.Get(ctx, "notes", "a", &got)
	require.NoError(t, err)
	assert.Equal(t, note{ID: "a", Author: "alice", Stars: 5}, got)

	created, err = s.Add(ctx, "events", event{Kind: "first"})
	require.NoError(t, err)
	assert.True(t, created)
	var ev event
	found, err := s.Get(ctx, "events", 1, &ev)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), ev.Seq)

	_, err = s.Add(ctx, "notes", note{Author: "no id"})
	assert.ErrorIs(t, err, common.ErrInvalidKey)
}

func TestTxnGet_SeesOwnWritesOnly(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, ":memory:", testSchema(1))
	require.NoError(t, s.Put(ctx, "notes", note{ID: "a", Stars: 1}))

	err := s.Update(ctx, func(tx *Txn) error {
		var n note
		found, err := tx.Get("notes", "a", &n)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, n.Stars)

		require.NoError(t, tx.Put("notes", note{ID: "a", Stars: 2}))
		found, err = tx.Get("notes", "a", &n)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 2, n.Stars)

		found, err = tx.Get("notes", "missing", &n)
		require.NoError(t, err)
		assert.False(t, found)

		_, err = tx.Get("nope", "a", &n)
		assert.ErrorIs(t, err, common.ErrCollectionNotFound)

		// Only one write precedes this one; reads do not take positions.
		return tx.Put("notes", note{Author: "no id"})
	})
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Position)
}
