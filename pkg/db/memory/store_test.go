package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/db/dbtest"
)

func newDB(t *testing.T) db.Database {
	return NewKVStore()
}

func TestConformance(t *testing.T) {
	dbtest.Run(t, newDB)
}

func TestKVStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *KVStore)
	}{
		{
			name: "len_counts_visible_and_dead_entries",
			fn:   testLen,
		},
		{
			name: "returned_values_are_copies",
			fn:   testValueCopies,
		},
		{
			name: "delete_range_bounds",
			fn:   testDeleteRangeBounds,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := NewKVStore()
			defer store.Close() //nolint:errcheck // closing twice is a no-op

			tc.fn(t, store)
		})
	}
}

func write(t *testing.T, store *KVStore, build func(tx *db.Transaction)) {
	t.Helper()
	tx := db.NewTransaction()
	build(tx)
	require.NoError(t, store.Write(tx))
}

func testLen(t *testing.T, store *KVStore) {
	write(t, store, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("a"), []byte("1"))
		tx.Insert(db.ColBlock, []byte("b"), []byte("2"))
		tx.IncrementRefcount(db.ColState, []byte("n"), []byte("node"))
		tx.DecrementRefcount(db.ColState, []byte("n"))
	})
	assert.Equal(t, 2, store.Len(db.ColBlock))
	// A node whose count dropped to zero is kept until it is revived or pruned.
	assert.Equal(t, 1, store.Len(db.ColState))
	assert.Equal(t, 0, store.Len(db.ColReceipts))
	assert.Equal(t, 0, store.Len(db.Column(99)))
}

func testValueCopies(t *testing.T, store *KVStore) {
	write(t, store, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("k"), []byte("value"))
	})

	v, ok, err := store.Get(db.ColBlock, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	v[0] = 'X'

	v, _, err = store.Get(db.ColBlock, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "value", string(v))

	it, err := store.Iter(db.ColBlock)
	require.NoError(t, err)
	defer it.Close() //nolint:errcheck // test cleanup
	require.True(t, it.Next())
	it.Key()[0] = 'X'
	assert.Equal(t, "k", string(it.Key()))
}

func testDeleteRangeBounds(t *testing.T, store *KVStore) {
	write(t, store, func(tx *db.Transaction) {
		for _, k := range []string{"a", "b", "c", "d"} {
			tx.Insert(db.ColBlockHeight, []byte(k), []byte(k))
		}
	})

	// Inverted ranges are empty.
	write(t, store, func(tx *db.Transaction) {
		tx.DeleteRange(db.ColBlockHeight, []byte("d"), []byte("a"))
	})
	assert.Equal(t, 4, store.Len(db.ColBlockHeight))

	write(t, store, func(tx *db.Transaction) {
		tx.DeleteRange(db.ColBlockHeight, []byte("b"), []byte("d"))
	})
	it, err := store.Iter(db.ColBlockHeight)
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "a", string(kvs[0].Key))
	assert.Equal(t, "d", string(kvs[1].Key))
}
