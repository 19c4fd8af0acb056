package store

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

// NodeStorage owns the databases of a node: the hot store, always present,
// and an optional cold store holding archival data.
type NodeStorage struct {
	hot    *Store
	cold   *Store
	closed atomic.Bool
}

// NewNodeStorage takes ownership of hot and, if non-nil, cold.
func NewNodeStorage(hot, cold db.Database) *NodeStorage {
	s := &NodeStorage{}
	s.hot = &Store{db: hot, closed: &s.closed}
	if cold != nil {
		s.cold = &Store{db: cold, closed: &s.closed}
	}
	return s
}

// HotStore returns the hot store.
func (s *NodeStorage) HotStore() *Store {
	return s.hot
}

// ColdStore returns the cold store, if one is configured.
func (s *NodeStorage) ColdStore() (*Store, bool) {
	return s.cold, s.cold != nil
}

// GetArchival reads key from the hot store and falls back to the cold store.
func (s *NodeStorage) GetArchival(col db.Column, key []byte) ([]byte, bool, error) {
	v, ok, err := s.hot.Get(col, key)
	if err != nil || ok || s.cold == nil {
		return v, ok, err
	}
	return s.cold.Get(col, key)
}

// Close closes every store. Closing twice is a no-op.
func (s *NodeStorage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.hot.db.Close()
	if s.cold != nil {
		err = errors.CombineErrors(err, s.cold.db.Close())
	}
	if err != nil {
		log.Storage.Error().Err(err).Msg("close node storage")
		return err
	}
	log.Storage.Info().Msg("node storage closed")
	return nil
}

// Store is a handle on one database of a NodeStorage. Calls are forwarded to
// the database as they are made; once the owning NodeStorage is closed every
// call returns db.ErrClosed.
type Store struct {
	db     db.Database
	closed *atomic.Bool
}

func (s *Store) Get(col db.Column, key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, db.ErrClosed
	}
	return s.db.Get(col, key)
}

func (s *Store) Has(col db.Column, key []byte) (bool, error) {
	_, ok, err := s.Get(col, key)
	return ok, err
}

func (s *Store) Iter(col db.Column) (db.Iterator, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	return s.db.Iter(col)
}

func (s *Store) IterRange(col db.Column, start, end []byte) (db.Iterator, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	return s.db.IterRange(col, start, end)
}

func (s *Store) IterPrefix(col db.Column, prefix []byte) (db.Iterator, error) {
	if s.closed.Load() {
		return nil, db.ErrClosed
	}
	return db.IterPrefix(s.db, col, prefix)
}

func (s *Store) Write(tx *db.Transaction) error {
	if s.closed.Load() {
		return db.ErrClosed
	}
	return s.db.Write(tx)
}

func (s *Store) Capabilities(col db.Column) (db.Capabilities, error) {
	return s.db.Capabilities(col)
}
