package db

// Database is the contract every storage backend implements. All methods are
// safe for concurrent use.
type Database interface {
	// Get returns the value of key. A missing key is not an error: ok is false.
	Get(col Column, key []byte) (value []byte, ok bool, err error)

	// Iter returns a cursor over the whole column in ascending byte order.
	Iter(col Column) (Iterator, error)

	// IterRange returns a cursor over keys in [start, end). A nil start begins
	// at the first key, a nil end runs to the last key.
	IterRange(col Column, start, end []byte) (Iterator, error)

	// Write applies every operation of tx atomically: either all of them
	// become visible or none do. tx is consumed by the call.
	Write(tx *Transaction) error

	// Capabilities reports what the backend supports for col. It performs no I/O.
	Capabilities(col Column) (Capabilities, error)

	Close() error
}

// Capabilities describes which operations a backend supports for a column.
type Capabilities struct {
	Iterable    bool
	DeleteRange bool
}

// BackendCapabilities is the set of features a backend supports on any column.
// A column's effective capabilities are the intersection of the two.
type BackendCapabilities = Capabilities

// ColumnCapabilities intersects the static flags of col with those of a backend.
func ColumnCapabilities(col Column, backend BackendCapabilities) (Capabilities, error) {
	info, err := col.Info()
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{
		Iterable:    info.Iterable && backend.Iterable,
		DeleteRange: info.DeleteRange && backend.DeleteRange,
	}, nil
}

// Iterator provides sequential access over a range of key-value pairs.
// A fresh iterator is un-positioned; the first Next moves it to the first
// entry. Iterators must be closed after use.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	// Err returns the error that stopped the iteration, if any.
	Err() error
	Close() error
}

// KV is a materialized key-value pair.
type KV struct {
	Key   []byte
	Value []byte
}
