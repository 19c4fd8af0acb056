// Package pebble implements the hot store: a db.Database over
// cockroachdb/pebble. Every column shares one pebble instance; a key is stored
// as the column id byte followed by the user key, so byte order within a
// column is pebble's native order.
package pebble

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

const backendName = "hot"

var capabilities = db.BackendCapabilities{Iterable: true, DeleteRange: true}

// Options tune the pebble instance.
type Options struct {
	// CacheSize is the block cache size in bytes.
	CacheSize int64
	// MemTableSize is the size of a single memtable in bytes.
	MemTableSize uint64
	// Sync makes every commit wait for the WAL to reach stable storage.
	Sync bool
	// FS overrides the filesystem, vfs.Default when nil.
	FS vfs.FS
}

// DefaultOptions mirror the sizes the node runs with.
func DefaultOptions() Options {
	return Options{
		CacheSize:    64 * 1024 * 1024, // 64MB
		MemTableSize: 32 * 1024 * 1024, // 32MB
		Sync:         true,
	}
}

// KVStore is the hot-store db.Database.
type KVStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	closed    bool
	mu        sync.RWMutex

	// iters holds the iterators not yet closed; Close releases them.
	iters  map[*Iterator]*pebble.Iterator
	iterMu sync.Mutex
}

// NewKVStore opens a store on an in-memory filesystem.
func NewKVStore() (*KVStore, error) {
	opts := DefaultOptions()
	opts.FS = vfs.NewMem()
	opts.CacheSize = 8 * 1024 * 1024
	opts.MemTableSize = 4 * 1024 * 1024
	return Open("", opts)
}

// Open opens or creates a store in path.
func Open(path string, opts Options) (*KVStore, error) {
	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	po := &pebble.Options{
		Cache:        cache,
		MemTableSize: opts.MemTableSize,
		Merger:       newMerger(),
		Logger:       pebbleLogger{},
		FS:           opts.FS,
	}
	pdb, err := pebble.Open(path, po)
	if err != nil {
		return nil, db.NewStoreError(backendName, "open", err)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}
	log.Storage.Debug().Str("backend", backendName).Str("path", path).Msg("opened")
	return &KVStore{db: pdb, writeOpts: writeOpts, iters: make(map[*Iterator]*pebble.Iterator)}, nil
}

func (p *KVStore) Get(col db.Column, key []byte) ([]byte, bool, error) {
	if _, err := col.Info(); err != nil {
		return nil, false, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, false, db.ErrClosed
	}

	value, closer, err := p.db.Get(makeKey(col, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, db.NewBackendError(backendName, "get", col, key, err)
	}
	defer closer.Close() //nolint:errcheck // closing a get handle cannot fail

	value, ok, err := db.StripRefcount(col, value)
	if err != nil {
		return nil, false, db.NewBackendError(backendName, "get", col, key, err)
	}
	if !ok {
		return nil, false, nil
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

func (p *KVStore) Write(tx *db.Transaction) error {
	if err := tx.Consume(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return db.ErrClosed
	}
	if err := db.Validate(tx, capabilities); err != nil {
		return err
	}

	b := p.newBatch()
	defer b.Close() //nolint:errcheck // a committed batch closes cleanly

	for _, op := range tx.Ops() {
		if err := b.apply(op); err != nil {
			log.Storage.Error().Err(err).Str("backend", backendName).
				Stringer("column", op.Column).Stringer("op", op.Kind).Msg("stage batch")
			return err
		}
	}
	if err := b.Commit(p.writeOpts); err != nil {
		log.Storage.Error().Err(err).Str("backend", backendName).Int("ops", tx.Len()).Msg("commit batch")
		return err
	}
	return nil
}

func (p *KVStore) Capabilities(col db.Column) (db.Capabilities, error) {
	return db.ColumnCapabilities(col, capabilities)
}

// Close closes the store. Iterators still open are released and report
// db.ErrClosed from then on. Closing twice is a no-op.
func (p *KVStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	p.iterMu.Lock()
	if len(p.iters) > 0 {
		log.Storage.Warn().Str("backend", backendName).Int("iterators", len(p.iters)).Msg("closing open iterators")
	}
	for it, iter := range p.iters {
		err = errors.CombineErrors(err, iter.Close())
		delete(p.iters, it)
	}
	p.iterMu.Unlock()
	if err != nil {
		log.Storage.Error().Err(err).Str("backend", backendName).Msg("close iterators")
	}

	if err := p.db.Close(); err != nil {
		return db.NewStoreError(backendName, "close", err)
	}
	log.Storage.Debug().Str("backend", backendName).Msg("closed")
	return nil
}

// makeKey creates a key from a column and user key
func makeKey(col db.Column, key []byte) []byte {
	result := make([]byte, 1+len(key))
	result[0] = byte(col)
	copy(result[1:], key)
	return result
}

// columnBounds returns the pebble key range holding [start, end) of col.
func columnBounds(col db.Column, start, end []byte) (lower, upper []byte) {
	lower = makeKey(col, start)
	if end == nil {
		upper = []byte{byte(col) + 1}
	} else {
		upper = makeKey(col, end)
	}
	return lower, upper
}
