package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/pkg/db"
)

func TestBatch(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *KVStore)
	}{
		{
			name: "basic_batch_operations",
			fn:   testBasicBatchOperations,
		},
		{
			name: "batch_commit_closure",
			fn:   testBatchCommitAndClose,
		},
		{
			name: "discarded_batch",
			fn:   testDiscardedBatch,
		},
		{
			name: "empty_delete_range",
			fn:   testEmptyDeleteRange,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewKVStore()
			require.NoError(t, err)
			defer store.Close() //nolint:errcheck // test cleanup

			tc.fn(t, store)
		})
	}
}

func testBasicBatchOperations(t *testing.T, store *KVStore) {
	b := store.newBatch()
	defer b.Close() //nolint:errcheck // closed after commit

	keys := [][]byte{[]byte("key1"), []byte("key2"), []byte("key3")}
	values := [][]byte{[]byte("value1"), []byte("value2"), []byte("value3")}

	for i := range keys {
		require.NoError(t, b.apply(db.Op{Kind: db.OpInsert, Column: db.ColBlock, Key: keys[i], Value: values[i]}))
	}

	// Delete one key in the same batch
	require.NoError(t, b.apply(db.Op{Kind: db.OpDelete, Column: db.ColBlock, Key: keys[1]}))

	// Nothing is visible before commit
	_, ok, err := store.Get(db.ColBlock, keys[0])
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Commit(store.writeOpts))

	for i, key := range keys {
		v, ok, err := store.Get(db.ColBlock, key)
		require.NoError(t, err)
		if i == 1 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, values[i], v)
	}
}

func testBatchCommitAndClose(t *testing.T, store *KVStore) {
	b := store.newBatch()

	require.NoError(t, b.apply(db.Op{Kind: db.OpInsert, Column: db.ColBlock, Key: []byte("key"), Value: []byte("value")}))
	require.NoError(t, b.Commit(store.writeOpts))

	// Operations after commit should fail
	err := b.apply(db.Op{Kind: db.OpInsert, Column: db.ColBlock, Key: []byte("key2"), Value: []byte("value2")})
	assert.ErrorIs(t, err, ErrBatchDone)
	assert.ErrorIs(t, b.Commit(store.writeOpts), ErrBatchDone)

	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func testDiscardedBatch(t *testing.T, store *KVStore) {
	b := store.newBatch()
	require.NoError(t, b.apply(db.Op{Kind: db.OpInsert, Column: db.ColBlock, Key: []byte("key"), Value: []byte("value")}))
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Commit(store.writeOpts), ErrBatchDone)

	_, ok, err := store.Get(db.ColBlock, []byte("key"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func testEmptyDeleteRange(t *testing.T, store *KVStore) {
	write(t, store, func(tx *db.Transaction) {
		tx.Insert(db.ColBlockHeight, []byte("a"), nil)
		tx.Insert(db.ColBlockHeight, []byte("z"), nil)
	})

	b := store.newBatch()
	defer b.Close() //nolint:errcheck // closed after commit
	require.NoError(t, b.apply(db.Op{Kind: db.OpDeleteRange, Column: db.ColBlockHeight, Key: []byte("z"), End: []byte("a")}))
	require.NoError(t, b.Commit(store.writeOpts))

	ok, err := db.Has(store, db.ColBlockHeight, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.Has(store, db.ColBlockHeight, []byte("z"))
	require.NoError(t, err)
	assert.True(t, ok)
}
