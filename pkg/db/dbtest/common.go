package dbtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eigerco/nodestore/pkg/db"
)

func testGetMissing(t *testing.T, d db.Database) {
	v, ok, err := d.Get(db.ColBlock, []byte("non-existent"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func testInsertGet(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("test-key"), []byte("test-value"))
		tx.Insert(db.ColBlock, []byte("empty"), nil)
	})

	v, ok := get(t, d, db.ColBlock, "test-key")
	require.True(t, ok)
	assert.Equal(t, "test-value", v)

	// An empty value is present, not absent.
	v, ok = get(t, d, db.ColBlock, "empty")
	require.True(t, ok)
	assert.Empty(t, v)

	// Returned slices are owned by the caller.
	raw, ok, err := d.Get(db.ColBlock, []byte("test-key"))
	require.NoError(t, err)
	require.True(t, ok)
	raw[0] = 'X'
	v, _ = get(t, d, db.ColBlock, "test-key")
	assert.Equal(t, "test-value", v)
}

func testBinaryKeys(t *testing.T, d db.Database) {
	keys := [][]byte{{}, {0x00}, {0x00, 0x00}, {0xff}, {0xff, 0xff, 0xff}, {0x7f, 0x80}}
	write(t, d, func(tx *db.Transaction) {
		for i, k := range keys {
			tx.Insert(db.ColBlockMisc, k, []byte{byte(i)})
		}
	})
	for i, k := range keys {
		v, ok, err := d.Get(db.ColBlockMisc, k)
		require.NoError(t, err)
		require.True(t, ok, "key %x", k)
		assert.Equal(t, []byte{byte(i)}, v)
	}
}

func testDelete(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("delete-test"), []byte("to-be-deleted"))
	})
	write(t, d, func(tx *db.Transaction) {
		tx.Delete(db.ColBlock, []byte("delete-test"))
	})
	_, ok := get(t, d, db.ColBlock, "delete-test")
	assert.False(t, ok)

	// Delete non-existent key should not error
	write(t, d, func(tx *db.Transaction) {
		tx.Delete(db.ColBlock, []byte("non-existent"))
	})
}

func testIdempotentInsert(t *testing.T, d db.Database) {
	for i := 0; i < 2; i++ {
		write(t, d, func(tx *db.Transaction) {
			tx.Insert(db.ColBlockHeader, []byte("h"), []byte("header"))
		})
		v, ok := get(t, d, db.ColBlockHeader, "h")
		require.True(t, ok)
		assert.Equal(t, "header", v)
	}
}

func testLastWriteWins(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("k1"), []byte("first"))
		tx.Insert(db.ColBlock, []byte("k1"), []byte("second"))
		tx.Insert(db.ColBlock, []byte("k2"), []byte("doomed"))
		tx.Delete(db.ColBlock, []byte("k2"))
		tx.Delete(db.ColBlock, []byte("k3"))
		tx.Insert(db.ColBlock, []byte("k3"), []byte("revived"))
	})

	v, ok := get(t, d, db.ColBlock, "k1")
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = get(t, d, db.ColBlock, "k2")
	assert.False(t, ok)

	v, ok = get(t, d, db.ColBlock, "k3")
	require.True(t, ok)
	assert.Equal(t, "revived", v)
}

func testMergeConcat(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Merge(db.ColStateChanges, []byte("m"), []byte("ab"))
		tx.Merge(db.ColStateChanges, []byte("m"), []byte("cd"))
	})
	write(t, d, func(tx *db.Transaction) {
		tx.Merge(db.ColStateChanges, []byte("m"), []byte("ef"))
	})
	v, ok := get(t, d, db.ColStateChanges, "m")
	require.True(t, ok)
	assert.Equal(t, "abcdef", v)
}

func testMergeAfterInsertAndDelete(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlockMisc, []byte("a"), []byte("base"))
		tx.Merge(db.ColBlockMisc, []byte("a"), []byte("+1"))
		tx.Merge(db.ColBlockMisc, []byte("b"), []byte("old"))
		tx.Delete(db.ColBlockMisc, []byte("b"))
		tx.Merge(db.ColBlockMisc, []byte("b"), []byte("new"))
	})
	write(t, d, func(tx *db.Transaction) {
		tx.Merge(db.ColBlockMisc, []byte("a"), []byte("+2"))
		tx.Insert(db.ColBlockMisc, []byte("b"), []byte("reset"))
	})

	v, ok := get(t, d, db.ColBlockMisc, "a")
	require.True(t, ok)
	assert.Equal(t, "base+1+2", v)

	v, ok = get(t, d, db.ColBlockMisc, "b")
	require.True(t, ok)
	assert.Equal(t, "reset", v)
}

func testRefcount(t *testing.T, d db.Database) {
	key := []byte("node")
	write(t, d, func(tx *db.Transaction) {
		tx.IncrementRefcount(db.ColState, key, []byte("payload"))
		tx.IncrementRefcount(db.ColState, key, []byte("payload"))
	})
	v, ok := get(t, d, db.ColState, "node")
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	write(t, d, func(tx *db.Transaction) {
		tx.DecrementRefcount(db.ColState, key)
	})
	v, ok = get(t, d, db.ColState, "node")
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	write(t, d, func(tx *db.Transaction) {
		tx.DecrementRefcount(db.ColState, key)
	})
	_, ok = get(t, d, db.ColState, "node")
	assert.False(t, ok)

	// Dropping below zero keeps the entry dead until enough references return.
	write(t, d, func(tx *db.Transaction) {
		tx.DecrementRefcount(db.ColState, key)
	})
	write(t, d, func(tx *db.Transaction) {
		tx.IncrementRefcount(db.ColState, key, []byte("payload"))
	})
	_, ok = get(t, d, db.ColState, "node")
	assert.False(t, ok)
	write(t, d, func(tx *db.Transaction) {
		tx.IncrementRefcount(db.ColState, key, []byte("payload"))
	})
	v, ok = get(t, d, db.ColState, "node")
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	// Delete drops the entry regardless of its count.
	write(t, d, func(tx *db.Transaction) {
		tx.Delete(db.ColState, key)
	})
	_, ok = get(t, d, db.ColState, "node")
	assert.False(t, ok)
}

func testRefcountContract(t *testing.T, d db.Database) {
	tx := db.NewTransaction()
	tx.Insert(db.ColTransactions, []byte("t"), []byte("raw"))
	assert.ErrorIs(t, d.Write(tx), db.ErrInvalidOperation)

	tx = db.NewTransaction()
	tx.Merge(db.ColReceipts, []byte("r"), []byte("short"))
	assert.ErrorIs(t, d.Write(tx), db.ErrInvalidOperation)

	tx = db.NewTransaction()
	tx.Merge(db.ColReceipts, []byte("r"), nil)
	assert.ErrorIs(t, d.Write(tx), db.ErrInvalidOperation)

	_, ok := get(t, d, db.ColTransactions, "t")
	assert.False(t, ok)
	_, ok = get(t, d, db.ColReceipts, "r")
	assert.False(t, ok)
}

func testUnknownColumn(t *testing.T, d db.Database) {
	bogus := db.Column(200)

	_, _, err := d.Get(bogus, []byte("k"))
	assert.ErrorIs(t, err, db.ErrUnknownColumn)

	_, err = d.Iter(bogus)
	assert.ErrorIs(t, err, db.ErrUnknownColumn)

	_, err = d.Capabilities(bogus)
	assert.ErrorIs(t, err, db.ErrUnknownColumn)

	tx := db.NewTransaction()
	tx.Insert(bogus, []byte("k"), []byte("v"))
	assert.ErrorIs(t, d.Write(tx), db.ErrUnknownColumn)
}

func testRejectedTransaction(t *testing.T, d db.Database) {
	tx := db.NewTransaction()
	tx.Insert(db.ColBlock, []byte("a"), []byte("1"))
	tx.Insert(db.ColBlockHeader, []byte("b"), []byte("2"))
	// ColBlock does not permit range deletion.
	tx.DeleteRange(db.ColBlock, []byte("x"), []byte("y"))
	assert.ErrorIs(t, d.Write(tx), db.ErrUnsupportedOperation)

	_, ok := get(t, d, db.ColBlock, "a")
	assert.False(t, ok)
	_, ok = get(t, d, db.ColBlockHeader, "b")
	assert.False(t, ok)
}

func testTransactionConsumed(t *testing.T, d db.Database) {
	tx := db.NewTransaction()
	tx.Insert(db.ColBlock, []byte("k"), []byte("v"))
	require.NoError(t, d.Write(tx))
	assert.ErrorIs(t, d.Write(tx), db.ErrTransactionConsumed)
}

func testColumnIsolation(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("shared"), []byte("block"))
		tx.Insert(db.ColBlockHeader, []byte("shared"), []byte("header"))
		tx.Insert(db.ColBlock, []byte{0xff, 0xff}, []byte("edge"))
	})

	v, ok := get(t, d, db.ColBlock, "shared")
	require.True(t, ok)
	assert.Equal(t, "block", v)
	v, ok = get(t, d, db.ColBlockHeader, "shared")
	require.True(t, ok)
	assert.Equal(t, "header", v)
	_, ok = get(t, d, db.ColBlockHeight, "shared")
	assert.False(t, ok)

	caps, err := d.Capabilities(db.ColBlockHeader)
	require.NoError(t, err)
	if caps.Iterable {
		it, err := d.Iter(db.ColBlockHeader)
		keys := collectKeys(t, it, err)
		assert.Equal(t, []string{"shared"}, keys)
	}
}

// testConcurrentAtomicity runs writers that each insert a pair of keys in one
// transaction while readers check that no pair is ever observed half-written.
func testConcurrentAtomicity(t *testing.T, d db.Database) {
	const writers = 8
	const perWriter = 25

	var g errgroup.Group
	done := make(chan struct{})
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				tx := db.NewTransaction()
				tx.Insert(db.ColBlock, []byte(fmt.Sprintf("%d-%d-a", w, i)), []byte("v"))
				tx.Insert(db.ColBlockHeader, []byte(fmt.Sprintf("%d-%d-b", w, i)), []byte("v"))
				if err := d.Write(tx); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var readers errgroup.Group
	for r := 0; r < 2; r++ {
		readers.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}
				for w := 0; w < writers; w++ {
					for i := 0; i < perWriter; i++ {
						// Read b first: a visible b implies a visible a.
						_, okB, err := d.Get(db.ColBlockHeader, []byte(fmt.Sprintf("%d-%d-b", w, i)))
						if err != nil {
							return err
						}
						_, okA, err := d.Get(db.ColBlock, []byte(fmt.Sprintf("%d-%d-a", w, i)))
						if err != nil {
							return err
						}
						if okB && !okA {
							return fmt.Errorf("pair %d-%d observed half written", w, i)
						}
					}
				}
			}
		})
	}

	require.NoError(t, g.Wait())
	close(done)
	require.NoError(t, readers.Wait())

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			_, ok := get(t, d, db.ColBlock, fmt.Sprintf("%d-%d-a", w, i))
			assert.True(t, ok)
		}
	}
}

func testDeleteRange(t *testing.T, d db.Database) {
	caps, err := d.Capabilities(db.ColStateChanges)
	require.NoError(t, err)

	write(t, d, func(tx *db.Transaction) {
		for _, k := range []string{"a", "b", "c", "d", "e"} {
			tx.Insert(db.ColStateChanges, []byte(k), []byte("v"+k))
		}
		tx.Insert(db.ColTrieChanges, []byte("c"), []byte("other column"))
	})

	tx := db.NewTransaction()
	tx.DeleteRange(db.ColStateChanges, []byte("b"), []byte("d"))
	err = d.Write(tx)
	if !caps.DeleteRange {
		assert.ErrorIs(t, err, db.ErrUnsupportedOperation)
		return
	}
	require.NoError(t, err)

	present := func(k string) bool {
		_, ok := get(t, d, db.ColStateChanges, k)
		return ok
	}
	assert.True(t, present("a"))
	assert.False(t, present("b"))
	assert.False(t, present("c"))
	assert.True(t, present("d"))
	assert.True(t, present("e"))

	v, ok := get(t, d, db.ColTrieChanges, "c")
	require.True(t, ok)
	assert.Equal(t, "other column", v)

	// Insert after a range deletion in the same transaction survives it.
	write(t, d, func(tx *db.Transaction) {
		tx.DeleteRange(db.ColStateChanges, []byte("d"), nil)
		tx.Insert(db.ColStateChanges, []byte("z"), []byte("vz"))
	})
	assert.False(t, present("d"))
	assert.False(t, present("e"))
	assert.True(t, present("z"))

	// Inverted bounds delete nothing.
	write(t, d, func(tx *db.Transaction) {
		tx.DeleteRange(db.ColStateChanges, []byte("z"), []byte("a"))
	})
	assert.True(t, present("a"))

	write(t, d, func(tx *db.Transaction) {
		tx.DeleteRange(db.ColStateChanges, nil, nil)
	})
	assert.False(t, present("a"))
	assert.False(t, present("z"))
	_, ok = get(t, d, db.ColTrieChanges, "c")
	assert.True(t, ok)
}

func testClose(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("k"), []byte("v"))
	})
	require.NoError(t, d.Close())

	_, _, err := d.Get(db.ColBlock, []byte("k"))
	assert.ErrorIs(t, err, db.ErrClosed)

	_, err = d.Iter(db.ColBlock)
	assert.ErrorIs(t, err, db.ErrClosed)

	tx := db.NewTransaction()
	tx.Insert(db.ColBlock, []byte("k2"), []byte("v"))
	assert.ErrorIs(t, d.Write(tx), db.ErrClosed)

	// Double close should not error
	assert.NoError(t, d.Close())
}
