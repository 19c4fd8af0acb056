package pebble

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/eigerco/nodestore/pkg/db"
)

// Iterator wraps a bounded pebble iterator. Pebble pins the sequence number
// at creation, so an iterator never observes writes committed after it was
// opened.
type Iterator struct {
	store      *KVStore
	iter       *pebble.Iterator
	col        db.Column
	positioned bool
	exhausted  bool
	key        []byte
	value      []byte
	valid      bool
	err        error
}

func (p *KVStore) Iter(col db.Column) (db.Iterator, error) {
	return p.IterRange(col, nil, nil)
}

func (p *KVStore) IterRange(col db.Column, start, end []byte) (db.Iterator, error) {
	caps, err := p.Capabilities(col)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, db.ErrClosed
	}
	if !caps.Iterable {
		return nil, errors.Wrapf(db.ErrUnsupportedOperation, "iterate column %s", col)
	}

	lower, upper := columnBounds(col, start, end)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, db.NewBackendError(backendName, "iterate", col, start, errors.Wrap(err, ErrInIteratorCreation))
	}
	it := &Iterator{store: p, iter: iter, col: col}
	p.iterMu.Lock()
	p.iters[it] = iter
	p.iterMu.Unlock()
	return it, nil
}

// Next advances the iterator. It holds the store's read lock while it steps,
// so a concurrent Close waits for it; once the store is closed the iterator
// stops with db.ErrClosed.
func (it *Iterator) Next() bool {
	if it.err != nil || it.iter == nil || it.exhausted {
		return false
	}

	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	if it.store.closed {
		it.exhausted = true
		it.valid, it.key, it.value = false, nil, nil
		it.err = db.ErrClosed
		return false
	}
	for {
		var ok bool
		// If the iterator is un-positioned, position it at the first key
		if !it.positioned {
			it.positioned = true
			ok = it.iter.First()
		} else {
			// Otherwise, move to the next key
			ok = it.iter.Next()
		}
		if !ok {
			it.exhausted = true
			it.valid, it.key, it.value = false, nil, nil
			if err := it.iter.Error(); err != nil {
				it.err = db.NewBackendError(backendName, "iterate", it.col, nil, err)
			}
			return false
		}

		raw, err := it.iter.ValueAndErr()
		if err != nil {
			return it.fail(errors.Wrap(err, ErrIteratorValue))
		}
		value, live, err := db.StripRefcount(it.col, raw)
		if err != nil {
			return it.fail(err)
		}
		if !live {
			continue
		}
		key := it.iter.Key()
		it.key = make([]byte, len(key)-1)
		copy(it.key, key[1:])
		it.value = make([]byte, len(value))
		copy(it.value, value)
		it.valid = true
		return true
	}
}

func (it *Iterator) fail(err error) bool {
	it.exhausted = true
	it.valid, it.key, it.value = false, nil, nil
	it.err = db.NewBackendError(backendName, "iterate", it.col, it.iter.Key(), err)
	return false
}

// Key returns a copy of the current key without the column prefix.
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
	return it.value, nil
}

func (it *Iterator) Valid() bool {
	return it.valid
}

func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator. After the store was closed it has already
// been released and Close only resets it.
func (it *Iterator) Close() error {
	it.valid, it.key, it.value = false, nil, nil
	if it.iter == nil {
		return nil
	}
	iter := it.iter
	it.iter = nil

	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	it.store.iterMu.Lock()
	_, open := it.store.iters[it]
	delete(it.store.iters, it)
	it.store.iterMu.Unlock()
	if !open {
		return nil
	}
	if err := iter.Close(); err != nil {
		return db.NewBackendError(backendName, "close iterator", it.col, nil, err)
	}
	return nil
}
