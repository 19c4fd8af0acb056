// Package metrics decorates a db.Database with Prometheus instrumentation.
// Collectors are shared between every wrapped backend registered on the same
// registerer and are told apart by the backend label.
package metrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/nodestore/pkg/db"
)

const namespace = "nodestore"

type collectors struct {
	operations   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	iterated     *prometheus.CounterVec
	writeLatency *prometheus.HistogramVec
	txSize       *prometheus.HistogramVec
}

func newCollectors() collectors {
	return collectors{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "operations_total",
			Help:      "Operations issued against a backend, by column and kind.",
		}, []string{"backend", "column", "op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Failed calls, by method and error class.",
		}, []string{"backend", "method", "class"}),
		iterated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "iterated_entries_total",
			Help:      "Entries yielded by iterators.",
		}, []string{"backend", "column"}),
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "write_duration_seconds",
			Help:      "Latency of Write calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"backend"}),
		txSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "transaction_ops",
			Help:      "Number of operations per written transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"backend"}),
	}
}

// register registers c, or returns the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register storage metrics")
	}
	return c, nil
}

func (c *collectors) registerAll(reg prometheus.Registerer) (err error) {
	if c.operations, err = register(reg, c.operations); err != nil {
		return err
	}
	if c.failures, err = register(reg, c.failures); err != nil {
		return err
	}
	if c.iterated, err = register(reg, c.iterated); err != nil {
		return err
	}
	if c.writeLatency, err = register(reg, c.writeLatency); err != nil {
		return err
	}
	c.txSize, err = register(reg, c.txSize)
	return err
}

// Database is an instrumented db.Database.
type Database struct {
	inner   db.Database
	backend string
	m       collectors
}

var _ db.Database = (*Database)(nil)

// Wrap instruments database. backend names the wrapped store in every series.
func Wrap(database db.Database, backend string, reg prometheus.Registerer) (*Database, error) {
	m := newCollectors()
	if err := m.registerAll(reg); err != nil {
		return nil, err
	}
	return &Database{inner: database, backend: backend, m: m}, nil
}

// Unwrap returns the instrumented database.
func (d *Database) Unwrap() db.Database {
	return d.inner
}

func (d *Database) Get(col db.Column, key []byte) ([]byte, bool, error) {
	d.m.operations.WithLabelValues(d.backend, col.String(), "get").Inc()
	v, ok, err := d.inner.Get(col, key)
	d.observeErr("get", err)
	return v, ok, err
}

func (d *Database) Iter(col db.Column) (db.Iterator, error) {
	return d.IterRange(col, nil, nil)
}

func (d *Database) IterRange(col db.Column, start, end []byte) (db.Iterator, error) {
	d.m.operations.WithLabelValues(d.backend, col.String(), "iterate").Inc()
	it, err := d.inner.IterRange(col, start, end)
	if err != nil {
		d.observeErr("iterate", err)
		return nil, err
	}
	return &iterator{Iterator: it, db: d, yielded: d.m.iterated.WithLabelValues(d.backend, col.String())}, nil
}

func (d *Database) Write(tx *db.Transaction) error {
	// Ops are read before the call: the transaction is consumed by it.
	for _, op := range tx.Ops() {
		d.m.operations.WithLabelValues(d.backend, op.Column.String(), op.Kind.String()).Inc()
	}
	size := tx.Len()

	start := time.Now()
	err := d.inner.Write(tx)
	d.m.writeLatency.WithLabelValues(d.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		d.observeErr("write", err)
		return err
	}
	d.m.txSize.WithLabelValues(d.backend).Observe(float64(size))
	return nil
}

func (d *Database) Capabilities(col db.Column) (db.Capabilities, error) {
	return d.inner.Capabilities(col)
}

func (d *Database) Close() error {
	err := d.inner.Close()
	d.observeErr("close", err)
	return err
}

func (d *Database) observeErr(method string, err error) {
	if err == nil {
		return
	}
	d.m.failures.WithLabelValues(d.backend, method, Classify(err)).Inc()
}

// Classify maps an error onto the low-cardinality class used as a label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, db.ErrUnknownColumn):
		return "unknown_column"
	case errors.Is(err, db.ErrUnsupportedOperation):
		return "unsupported"
	case errors.Is(err, db.ErrInvalidOperation):
		return "invalid"
	case errors.Is(err, db.ErrClosed):
		return "closed"
	case errors.Is(err, db.ErrTransactionConsumed):
		return "consumed"
	case errors.Is(err, db.ErrBackend):
		return "backend"
	default:
		return "other"
	}
}

type iterator struct {
	db.Iterator
	db      *Database
	yielded prometheus.Counter
}

func (it *iterator) Next() bool {
	if it.Iterator.Next() {
		it.yielded.Inc()
		return true
	}
	return false
}

func (it *iterator) Close() error {
	if err := it.Iterator.Err(); err != nil {
		it.db.observeErr("iterate", err)
	}
	return it.Iterator.Close()
}
