// Package memory provides the in-memory reference implementation of
// db.Database. It supports every operation and serves as the oracle the other
// backends are compared against.
//
// Each column is an ordered google/btree. Published trees are never mutated:
// a write clones the trees it touches, applies the whole transaction to the
// clones and swaps them in under the write lock. Iterators capture the tree
// that is current when they are created and therefore see a stable snapshot.
package memory

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/eigerco/nodestore/pkg/db"
)

const (
	backendName = "memory"
	btreeDegree = 32
)

var capabilities = db.BackendCapabilities{Iterable: true, DeleteRange: true}

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// KVStore is an in-memory db.Database.
type KVStore struct {
	mu     sync.RWMutex
	trees  []*btree.BTreeG[item]
	closed atomic.Bool
}

// NewKVStore creates an empty in-memory store.
func NewKVStore() *KVStore {
	cols := db.Columns()
	s := &KVStore{trees: make([]*btree.BTreeG[item], len(cols))}
	for _, c := range cols {
		s.trees[c] = btree.NewG[item](btreeDegree, lessItem)
	}
	return s
}

func (s *KVStore) tree(col db.Column) (*btree.BTreeG[item], error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	if _, err := col.Info(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trees[col], nil
}

func (s *KVStore) Get(col db.Column, key []byte) ([]byte, bool, error) {
	t, err := s.tree(col)
	if err != nil {
		return nil, false, err
	}
	found, ok := t.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	value, ok, err := db.StripRefcount(col, found.value)
	if err != nil || !ok {
		return nil, false, err
	}
	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

func (s *KVStore) Iter(col db.Column) (db.Iterator, error) {
	return s.IterRange(col, nil, nil)
}

func (s *KVStore) IterRange(col db.Column, start, end []byte) (db.Iterator, error) {
	t, err := s.tree(col)
	if err != nil {
		return nil, err
	}
	caps, err := s.Capabilities(col)
	if err != nil {
		return nil, err
	}
	if !caps.Iterable {
		return nil, errors.Wrapf(db.ErrUnsupportedOperation, "iterate column %s", col)
	}
	return newIterator(s, t, col, start, end), nil
}

func (s *KVStore) Write(tx *db.Transaction) error {
	if err := tx.Consume(); err != nil {
		return err
	}
	if s.closed.Load() {
		return db.ErrClosed
	}
	if err := db.Validate(tx, capabilities); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[db.Column]*btree.BTreeG[item])
	for _, op := range tx.Ops() {
		t, ok := staged[op.Column]
		if !ok {
			t = s.trees[op.Column].Clone()
			staged[op.Column] = t
		}
		if err := apply(t, op); err != nil {
			// Nothing has been published yet; dropping the clones rolls back.
			return err
		}
	}
	for col, t := range staged {
		s.trees[col] = t
	}
	return nil
}

func apply(t *btree.BTreeG[item], op db.Op) error {
	switch op.Kind {
	case db.OpInsert:
		t.ReplaceOrInsert(item{key: op.Key, value: op.Value})
	case db.OpDelete:
		t.Delete(item{key: op.Key})
	case db.OpDeleteRange:
		var doomed [][]byte
		t.AscendGreaterOrEqual(item{key: op.Key}, func(i item) bool {
			if !db.InRange(i.key, nil, op.End) {
				return false
			}
			doomed = append(doomed, i.key)
			return true
		})
		for _, k := range doomed {
			t.Delete(item{key: k})
		}
	case db.OpMerge:
		base, ok := t.Get(item{key: op.Key})
		merged, err := db.MergeValues(op.Column, base.value, ok, op.Value)
		if err != nil {
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
		t.ReplaceOrInsert(item{key: op.Key, value: merged})
	}
	return nil
}

func (s *KVStore) Capabilities(col db.Column) (db.Capabilities, error) {
	return db.ColumnCapabilities(col, capabilities)
}

// Len returns the number of stored entries of col, including reference
// counted entries whose count dropped to zero.
func (s *KVStore) Len(col db.Column) int {
	t, err := s.tree(col)
	if err != nil {
		return 0
	}
	return t.Len()
}

// Close releases the store. Closing twice is a no-op.
func (s *KVStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.trees {
		s.trees[i] = btree.NewG[item](btreeDegree, lessItem)
	}
	return nil
}
