package pebble

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/nodestore/pkg/db"
)

// batch stages the operations of one transaction in a pebble batch. Pebble
// commits a batch atomically, and operations inside it take effect in the
// order they were added.
type batch struct {
	batch  *pebble.Batch
	done   atomic.Bool
	closed atomic.Bool
}

func (p *KVStore) newBatch() *batch {
	return &batch{
		batch: p.db.NewBatch(),
	}
}

func (b *batch) apply(op db.Op) error {
	if b.done.Load() {
		return ErrBatchDone
	}

	var err error
	switch op.Kind {
	case db.OpInsert:
		err = b.batch.Set(makeKey(op.Column, op.Key), op.Value, nil)
	case db.OpDelete:
		err = b.batch.Delete(makeKey(op.Column, op.Key), nil)
	case db.OpDeleteRange:
		lower, upper := columnBounds(op.Column, op.Key, op.End)
		if bytes.Compare(lower, upper) >= 0 {
			// Empty range.
			return nil
		}
		err = b.batch.DeleteRange(lower, upper, nil)
	case db.OpMerge:
		err = b.batch.Merge(makeKey(op.Column, op.Key), op.Value, nil)
	}
	if err != nil {
		return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
	}
	return nil
}

func (b *batch) Commit(opts *pebble.WriteOptions) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	if err := b.batch.Commit(opts); err != nil {
		return db.NewStoreError(backendName, "commit", err)
	}
	b.done.Store(true)
	return nil
}

// Close releases the batch. A batch that was not committed is discarded.
// Closing twice is a no-op.
func (b *batch) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.done.Store(true)
	return b.batch.Close()
}
