package store

import (
	"encoding/binary"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/db/cold"
	"github.com/eigerco/nodestore/pkg/db/metrics"
	"github.com/eigerco/nodestore/pkg/db/pebble"
	"github.com/eigerco/nodestore/pkg/log"
)

// Opener opens a NodeStorage from a Config.
type Opener struct {
	cfg      Config
	reg      prometheus.Registerer
	inMemory bool
}

type OpenerOption func(*Opener)

// WithRegisterer registers storage metrics on reg. Metrics are also enabled by
// Config.Metrics, in which case the default registerer is used.
func WithRegisterer(reg prometheus.Registerer) OpenerOption {
	return func(o *Opener) {
		o.reg = reg
	}
}

// InMemory opens every store without touching the filesystem.
func InMemory() OpenerOption {
	return func(o *Opener) {
		o.inMemory = true
	}
}

func NewOpener(cfg Config, opts ...OpenerOption) *Opener {
	o := &Opener{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.reg == nil && cfg.Metrics {
		o.reg = prometheus.DefaultRegisterer
	}
	return o
}

// TestOpener opens an in-memory hot store and an in-memory cold store.
func TestOpener(opts ...OpenerOption) *Opener {
	cfg := DefaultConfig()
	cfg.Cold.Enabled = true
	return NewOpener(cfg, append([]OpenerOption{InMemory()}, opts...)...)
}

// Open opens the configured stores and checks the schema version of the hot
// store, initializing it on first use.
func (o *Opener) Open() (*NodeStorage, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	hot, err := o.openHot()
	if err != nil {
		return nil, err
	}
	var coldDB db.Database
	if o.cfg.Cold.Enabled {
		if coldDB, err = o.openCold(); err != nil {
			return nil, errors.CombineErrors(err, hot.Close())
		}
	}

	storage := NewNodeStorage(hot, coldDB)
	if err := checkVersion(storage.HotStore()); err != nil {
		return nil, errors.CombineErrors(err, storage.Close())
	}
	log.Storage.Info().
		Str("path", o.cfg.Path).
		Bool("cold", o.cfg.Cold.Enabled).
		Bool("in_memory", o.inMemory).
		Msg("node storage opened")
	return storage, nil
}

func (o *Opener) openHot() (db.Database, error) {
	opts := o.cfg.Hot.options()
	path := filepath.Join(o.cfg.Path, o.cfg.Hot.Dir)
	if o.inMemory {
		opts.FS = vfs.NewMem()
	}
	hot, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open hot store")
	}
	return o.instrument(hot, "hot")
}

func (o *Opener) openCold() (db.Database, error) {
	var (
		c   *cold.KVStore
		err error
	)
	if o.inMemory {
		c, err = cold.NewKVStore()
	} else {
		c, err = cold.Open(filepath.Join(o.cfg.Path, o.cfg.Cold.Dir), o.cfg.Cold.options())
	}
	if err != nil {
		return nil, errors.Wrap(err, "open cold store")
	}
	return o.instrument(c, "cold")
}

func (o *Opener) instrument(d db.Database, backend string) (db.Database, error) {
	if o.reg == nil {
		return d, nil
	}
	wrapped, err := metrics.Wrap(d, backend, o.reg)
	if err != nil {
		return nil, errors.CombineErrors(err, d.Close())
	}
	return wrapped, nil
}

func checkVersion(hot *Store) error {
	raw, ok, err := hot.Get(db.ColDbVersion, keyDbVersion)
	if err != nil {
		return errors.Wrap(err, "read database version")
	}
	if !ok {
		tx := db.NewTransaction()
		value := make([]byte, 4)
		binary.LittleEndian.PutUint32(value, DatabaseVersion)
		tx.Insert(db.ColDbVersion, keyDbVersion, value)
		if err := hot.Write(tx); err != nil {
			return errors.Wrap(err, "write database version")
		}
		log.Storage.Info().Uint32("version", DatabaseVersion).Msg("initialized database version")
		return nil
	}
	if len(raw) != 4 {
		return errors.Wrapf(ErrVersionMismatch, "malformed version of %d bytes", len(raw))
	}
	if v := binary.LittleEndian.Uint32(raw); v != DatabaseVersion {
		return errors.Wrapf(ErrVersionMismatch, "found %d, want %d", v, DatabaseVersion)
	}
	return nil
}
