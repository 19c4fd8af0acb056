package dbtest

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/pkg/db"
)

var referenceKeys = []string{"a", "aa", "aa1", "bb1", "cc1"}

func writeReferenceKeys(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		for _, k := range referenceKeys {
			tx.Insert(db.ColBlock, []byte(k), []byte("val_"+k))
		}
	})
}

func testReferenceScenario(t *testing.T, d db.Database) {
	writeReferenceKeys(t, d)

	it, err := d.Iter(db.ColBlock)
	assert.Equal(t, referenceKeys, collectKeys(t, it, err))

	it, err = d.IterRange(db.ColBlock, []byte("aa"), []byte("bb1"))
	assert.Equal(t, []string{"aa", "aa1"}, collectKeys(t, it, err))

	it, err = d.Iter(db.ColBlock)
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	for _, kv := range kvs {
		assert.Equal(t, "val_"+string(kv.Key), string(kv.Value))
	}
}

func testReferenceScenarioUnsupported(t *testing.T, d db.Database) {
	writeReferenceKeys(t, d)

	_, err := d.Iter(db.ColBlock)
	assert.ErrorIs(t, err, db.ErrUnsupportedOperation)

	_, err = d.IterRange(db.ColBlock, []byte("aa"), []byte("bb1"))
	assert.ErrorIs(t, err, db.ErrUnsupportedOperation)

	_, err = db.IterPrefix(d, db.ColBlock, []byte("a"))
	assert.ErrorIs(t, err, db.ErrUnsupportedOperation)

	caps, err := d.Capabilities(db.ColBlock)
	require.NoError(t, err)
	assert.False(t, caps.Iterable)

	for _, k := range referenceKeys {
		v, ok := get(t, d, db.ColBlock, k)
		require.True(t, ok)
		assert.Equal(t, "val_"+k, v)
	}
}

func randomKeys(r *rand.Rand, n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		k := make([]byte, r.Intn(6))
		for j := range k {
			// A small alphabet including both extremes forces shared prefixes.
			k[j] = []byte{0x00, 0x01, 'a', 'b', 0x7f, 0x80, 0xfe, 0xff}[r.Intn(8)]
		}
		keys[i] = k
	}
	return keys
}

func sortedUnique(keys [][]byte) []string {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[string(k)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare([]byte(out[i]), []byte(out[j])) < 0
	})
	return out
}

func testOrdering(t *testing.T, d db.Database) {
	r := rand.New(rand.NewSource(1))
	keys := randomKeys(r, 300)

	// Spread over several transactions, with repeats, in random order.
	for start := 0; start < len(keys); start += 50 {
		write(t, d, func(tx *db.Transaction) {
			for _, k := range keys[start : start+50] {
				tx.Insert(db.ColBlock, k, k)
			}
		})
	}

	it, err := d.Iter(db.ColBlock)
	got := collectKeys(t, it, err)
	assert.Equal(t, sortedUnique(keys), got)

	for i := 1; i < len(got); i++ {
		assert.Negative(t, bytes.Compare([]byte(got[i-1]), []byte(got[i])), "keys out of order at %d", i)
	}
}

func testRangeBounds(t *testing.T, d db.Database) {
	r := rand.New(rand.NewSource(2))
	keys := randomKeys(r, 200)
	write(t, d, func(tx *db.Transaction) {
		for _, k := range keys {
			tx.Insert(db.ColBlock, k, []byte("v"))
		}
	})

	it, err := d.Iter(db.ColBlock)
	all := collectKeys(t, it, err)

	extremes := [][]byte{nil, {}, {0xff, 0xff, 0xff, 0xff, 0xff, 0xff}}
	starts := append(randomKeys(r, 40), extremes...)
	ends := append(randomKeys(r, 10), extremes...)
	for _, start := range starts {
		for _, end := range ends {
			var want []string
			for _, k := range all {
				if db.InRange([]byte(k), start, end) {
					want = append(want, k)
				}
			}
			it, err := d.IterRange(db.ColBlock, start, end)
			got := collectKeys(t, it, err)
			if len(want) == 0 {
				assert.Empty(t, got, "range [%x, %x)", start, end)
				continue
			}
			assert.Equal(t, want, got, "range [%x, %x)", start, end)
		}
	}
}

func testIterPrefix(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		for _, k := range []string{"p", "pa", "pb", "pz", "q", "o\xff"} {
			tx.Insert(db.ColBlockChildren, []byte(k), nil)
		}
		tx.Insert(db.ColBlockChildren, []byte{0xff, 0xff}, nil)
		tx.Insert(db.ColBlockChildren, []byte{0xff, 0xff, 0x01}, nil)
	})

	it, err := db.IterPrefix(d, db.ColBlockChildren, []byte("p"))
	assert.Equal(t, []string{"p", "pa", "pb", "pz"}, collectKeys(t, it, err))

	it, err = db.IterPrefix(d, db.ColBlockChildren, []byte{0xff, 0xff})
	assert.Equal(t, []string{"\xff\xff", "\xff\xff\x01"}, collectKeys(t, it, err))

	it, err = db.IterPrefix(d, db.ColBlockChildren, nil)
	assert.Len(t, collectKeys(t, it, err), 8)
}

func testIterationAfterDelete(t *testing.T, d db.Database) {
	writeReferenceKeys(t, d)
	write(t, d, func(tx *db.Transaction) {
		tx.Delete(db.ColBlock, []byte("aa"))
	})

	it, err := d.Iter(db.ColBlock)
	assert.Equal(t, []string{"a", "aa1", "bb1", "cc1"}, collectKeys(t, it, err))
}

func testIteratorValidity(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("key1"), []byte("value1"))
		tx.Insert(db.ColBlock, []byte("key2"), []byte("value2"))
	})

	iter, err := d.Iter(db.ColBlock)
	require.NoError(t, err)
	defer iter.Close() //nolint:errcheck // closed again below

	// Initial state - iterator is not positioned
	assert.False(t, iter.Valid())
	_, err = iter.Value()
	assert.Error(t, err)

	// First Next() should position at first element
	require.True(t, iter.Next())
	assert.True(t, iter.Valid())
	assert.Equal(t, []byte("key1"), iter.Key())
	val, err := iter.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), val)

	require.True(t, iter.Next())
	assert.Equal(t, []byte("key2"), iter.Key())

	// No more elements, and exhaustion is sticky
	assert.False(t, iter.Next())
	assert.False(t, iter.Valid())
	assert.False(t, iter.Next())
	assert.NoError(t, iter.Err())

	// Value() should error when invalid
	_, err = iter.Value()
	assert.Error(t, err)

	assert.NoError(t, iter.Close())
	assert.False(t, iter.Next())
}

func testIndependentCursors(t *testing.T, d db.Database) {
	writeReferenceKeys(t, d)

	first, err := d.Iter(db.ColBlock)
	require.NoError(t, err)
	defer first.Close() //nolint:errcheck // test cleanup

	require.True(t, first.Next())
	require.True(t, first.Next())
	assert.Equal(t, "aa", string(first.Key()))

	second, err := d.Iter(db.ColBlock)
	require.NoError(t, err)
	assert.Equal(t, referenceKeys, collectKeys(t, second, nil))

	require.True(t, first.Next())
	assert.Equal(t, "aa1", string(first.Key()))
}

// testSnapshotCursor checks that a cursor reflects the state as of its
// creation. Every iterable backend in this module provides snapshot cursors.
func testSnapshotCursor(t *testing.T, d db.Database) {
	writeReferenceKeys(t, d)

	it, err := d.Iter(db.ColBlock)
	require.NoError(t, err)

	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("ab"), []byte("late"))
		tx.Delete(db.ColBlock, []byte("cc1"))
	})

	assert.Equal(t, referenceKeys, collectKeys(t, it, nil))

	it, err = d.Iter(db.ColBlock)
	assert.Equal(t, []string{"a", "aa", "aa1", "ab", "bb1"}, collectKeys(t, it, err))
}

func testRefcountIteration(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.IncrementRefcount(db.ColReceipts, []byte("alive"), []byte("r1"))
		tx.IncrementRefcount(db.ColReceipts, []byte("dead"), []byte("r2"))
		tx.IncrementRefcount(db.ColReceipts, []byte("twice"), []byte("r3"))
		tx.IncrementRefcount(db.ColReceipts, []byte("twice"), []byte("r3"))
	})
	write(t, d, func(tx *db.Transaction) {
		tx.DecrementRefcount(db.ColReceipts, []byte("dead"))
		tx.DecrementRefcount(db.ColReceipts, []byte("twice"))
	})

	it, err := d.Iter(db.ColReceipts)
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, db.KV{Key: []byte("alive"), Value: []byte("r1")}, kvs[0])
	assert.Equal(t, db.KV{Key: []byte("twice"), Value: []byte("r3")}, kvs[1])
}

func testNonIterableColumn(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColContractCode, []byte("code"), []byte{0x60, 0x80})
	})

	caps, err := d.Capabilities(db.ColContractCode)
	require.NoError(t, err)
	assert.False(t, caps.Iterable)

	_, err = d.Iter(db.ColContractCode)
	assert.ErrorIs(t, err, db.ErrUnsupportedOperation)
	_, err = d.IterRange(db.ColContractCode, nil, []byte("z"))
	assert.ErrorIs(t, err, db.ErrUnsupportedOperation)

	v, ok := get(t, d, db.ColContractCode, "code")
	require.True(t, ok)
	assert.Equal(t, "\x60\x80", v)
}

func testIteratorAfterClose(t *testing.T, d db.Database) {
	write(t, d, func(tx *db.Transaction) {
		tx.Insert(db.ColBlock, []byte("a"), []byte("1"))
		tx.Insert(db.ColBlock, []byte("b"), []byte("2"))
	})

	it, err := d.Iter(db.ColBlock)
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, []byte("a"), it.Key())

	require.NoError(t, d.Close())
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), db.ErrClosed)
	assert.False(t, it.Valid())
	assert.Nil(t, it.Key())
	_, err = it.Value()
	assert.Error(t, err)
	assert.NoError(t, it.Close())
}
