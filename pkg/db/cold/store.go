// Package cold implements the archival store: a point-lookup db.Database
// over goleveldb. Values are snappy-compressed before they reach the engine.
// Iteration and range deletion are unsupported: archival data is
// only ever read by a known key.
package cold

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

const backendName = "cold"

var capabilities = db.BackendCapabilities{}

// Options tune the goleveldb instance.
type Options struct {
	// BlockCacheCapacity is the block cache size in bytes.
	BlockCacheCapacity int
	// BloomFilterBits is the number of bloom filter bits per key, 0 disables it.
	BloomFilterBits int
}

func DefaultOptions() Options {
	return Options{
		BlockCacheCapacity: 16 * 1024 * 1024, // 16MB
		BloomFilterBits:    10,
	}
}

// KVStore is the cold-store db.Database.
type KVStore struct {
	ldb    *leveldb.DB
	closed bool
	mu     sync.RWMutex
}

// NewKVStore opens a store backed by memory.
func NewKVStore() (*KVStore, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), levelOptions(DefaultOptions()))
	if err != nil {
		return nil, db.NewStoreError(backendName, "open", err)
	}
	return &KVStore{ldb: ldb}, nil
}

// Open opens or creates a store in path.
func Open(path string, opts Options) (*KVStore, error) {
	ldb, err := leveldb.OpenFile(path, levelOptions(opts))
	if err != nil {
		return nil, db.NewStoreError(backendName, "open", err)
	}
	log.Storage.Debug().Str("backend", backendName).Str("path", path).Msg("opened")
	return &KVStore{ldb: ldb}, nil
}

func levelOptions(opts Options) *opt.Options {
	o := &opt.Options{
		BlockCacheCapacity: opts.BlockCacheCapacity,
		// Values are compressed with snappy before they are stored.
		Compression: opt.NoCompression,
	}
	if opts.BloomFilterBits > 0 {
		o.Filter = filter.NewBloomFilter(opts.BloomFilterBits)
	}
	return o
}

func (c *KVStore) Get(col db.Column, key []byte) ([]byte, bool, error) {
	if _, err := col.Info(); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, db.ErrClosed
	}

	raw, err := c.ldb.Get(makeKey(col, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, db.NewBackendError(backendName, "get", col, key, err)
	}
	value, err := decodeValue(raw)
	if err != nil {
		return nil, false, db.NewBackendError(backendName, "get", col, key, err)
	}
	value, ok, err := db.StripRefcount(col, value)
	if err != nil {
		return nil, false, db.NewBackendError(backendName, "get", col, key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

// Iter is not supported by the cold store.
func (c *KVStore) Iter(col db.Column) (db.Iterator, error) {
	return c.IterRange(col, nil, nil)
}

// IterRange is not supported by the cold store.
func (c *KVStore) IterRange(col db.Column, _, _ []byte) (db.Iterator, error) {
	if _, err := col.Info(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, db.ErrClosed
	}
	return nil, errors.Wrapf(db.ErrUnsupportedOperation, "cold store cannot iterate column %s", col)
}

// Write applies tx inside one goleveldb transaction. goleveldb admits a single
// open transaction at a time, which serializes writers; merges read the
// transaction's own earlier writes.
func (c *KVStore) Write(tx *db.Transaction) error {
	if err := tx.Consume(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return db.ErrClosed
	}
	if err := db.Validate(tx, capabilities); err != nil {
		return err
	}

	ltx, err := c.ldb.OpenTransaction()
	if err != nil {
		return db.NewStoreError(backendName, "open transaction", err)
	}
	for _, op := range tx.Ops() {
		if err := apply(ltx, op); err != nil {
			ltx.Discard()
			log.Storage.Error().Err(err).Str("backend", backendName).
				Stringer("column", op.Column).Stringer("op", op.Kind).Msg("discard transaction")
			return err
		}
	}
	if err := ltx.Commit(); err != nil {
		ltx.Discard()
		return db.NewStoreError(backendName, "commit", err)
	}
	return nil
}

func apply(ltx *leveldb.Transaction, op db.Op) error {
	key := makeKey(op.Column, op.Key)
	switch op.Kind {
	case db.OpInsert:
		if err := ltx.Put(key, encodeValue(op.Value), nil); err != nil {
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
	case db.OpDelete:
		if err := ltx.Delete(key, nil); err != nil {
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
	case db.OpMerge:
		var (
			base    []byte
			hasBase bool
		)
		raw, err := ltx.Get(key, nil)
		switch {
		case err == nil:
			if base, err = decodeValue(raw); err != nil {
				return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
			}
			hasBase = true
		case !errors.Is(err, leveldb.ErrNotFound):
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
		merged, err := db.MergeValues(op.Column, base, hasBase, op.Value)
		if err != nil {
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
		if err := ltx.Put(key, encodeValue(merged), nil); err != nil {
			return db.NewBackendError(backendName, op.Kind.String(), op.Column, op.Key, err)
		}
	default:
		return errors.Wrapf(db.ErrUnsupportedOperation, "cold store cannot apply %s", op.Kind)
	}
	return nil
}

func (c *KVStore) Capabilities(col db.Column) (db.Capabilities, error) {
	return db.ColumnCapabilities(col, capabilities)
}

// Close closes the store. Closing twice is a no-op.
func (c *KVStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.ldb.Close(); err != nil {
		return db.NewStoreError(backendName, "close", err)
	}
	log.Storage.Debug().Str("backend", backendName).Msg("closed")
	return nil
}

func makeKey(col db.Column, key []byte) []byte {
	result := make([]byte, 1+len(key))
	result[0] = byte(col)
	copy(result[1:], key)
	return result
}

func encodeValue(value []byte) []byte {
	return snappy.Encode(nil, value)
}

func decodeValue(raw []byte) ([]byte, error) {
	value, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode snappy value")
	}
	return value, nil
}
