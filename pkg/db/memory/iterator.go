package memory

import (
	"github.com/google/btree"

	"github.com/eigerco/nodestore/pkg/db"
)

// Iterator walks a snapshot of one column. Each Next re-descends the tree from
// the successor of the previous key, so entries are materialized on demand.
type Iterator struct {
	store *KVStore
	tree  *btree.BTreeG[item]
	col   db.Column
	end   []byte

	// pivot is the smallest key the next step may yield.
	pivot []byte
	key   []byte
	value []byte
	valid bool
	done  bool
	err   error
}

func newIterator(s *KVStore, t *btree.BTreeG[item], col db.Column, start, end []byte) *Iterator {
	return &Iterator{
		store: s,
		tree:  t,
		col:   col,
		pivot: start,
		end:   end,
	}
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.store.closed.Load() {
		it.stop(db.ErrClosed)
		return false
	}
	for {
		var (
			cur   item
			found bool
		)
		it.tree.AscendGreaterOrEqual(item{key: it.pivot}, func(i item) bool {
			cur, found = i, true
			return false
		})
		if !found || !db.InRange(cur.key, nil, it.end) {
			it.stop(nil)
			return false
		}
		it.pivot = db.Successor(cur.key)

		value, ok, err := db.StripRefcount(it.col, cur.value)
		if err != nil {
			it.stop(db.NewBackendError(backendName, "iterate", it.col, cur.key, err))
			return false
		}
		if !ok {
			continue
		}
		it.key, it.value, it.valid = cur.key, value, true
		return true
	}
}

func (it *Iterator) stop(err error) {
	it.done, it.valid = true, false
	it.key, it.value = nil, nil
	it.err = err
}

func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	result := make([]byte, len(it.key))
	copy(result, it.key)
	return result
}

func (it *Iterator) Value() ([]byte, error) {
	if !it.valid {
		return nil, ErrIteratorInvalid
	}
	result := make([]byte, len(it.value))
	copy(result, it.value)
	return result, nil
}

func (it *Iterator) Valid() bool {
	return it.valid
}

func (it *Iterator) Err() error {
	return it.err
}

// Close releases the snapshot. It never fails.
func (it *Iterator) Close() error {
	it.stop(it.err)
	it.tree = nil
	return nil
}
