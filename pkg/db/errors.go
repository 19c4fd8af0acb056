package db

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnknownColumn is returned for a column outside the registry.
	ErrUnknownColumn = errors.New("db: unknown column")
	// ErrUnsupportedOperation is returned when a backend or column lacks the
	// capability an operation needs, e.g. iterating the cold store.
	ErrUnsupportedOperation = errors.New("db: unsupported operation")
	// ErrInvalidOperation is returned for operations that break a column
	// contract, e.g. a plain insert into a reference counted column.
	ErrInvalidOperation = errors.New("db: invalid operation")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("db: database is closed")
	// ErrTransactionConsumed is returned when a transaction is written twice.
	ErrTransactionConsumed = errors.New("db: transaction already written")
	// ErrBackend matches every *BackendError via errors.Is.
	ErrBackend = errors.New("db: backend failure")
)

// BackendError wraps a failure of the underlying storage engine together with
// the context needed to diagnose it.
type BackendError struct {
	Backend string
	Op      string
	// Column is meaningful only when HasColumn is set: opening, committing
	// and closing a store concern no single column.
	Column    Column
	HasColumn bool
	// Key holds at most the first 16 bytes of the key involved, if any.
	Key []byte
	Err error
}

const maxKeyContext = 16

// NewBackendError builds a BackendError, truncating the key context.
func NewBackendError(backend, op string, col Column, key []byte, err error) *BackendError {
	if len(key) > maxKeyContext {
		key = key[:maxKeyContext]
	}
	return &BackendError{
		Backend:   backend,
		Op:        op,
		Column:    col,
		HasColumn: true,
		Key:       append([]byte(nil), key...),
		Err:       err,
	}
}

// NewStoreError builds a BackendError for an operation on the store as a
// whole.
func NewStoreError(backend, op string, err error) *BackendError {
	return &BackendError{Backend: backend, Op: op, Err: err}
}

func (e *BackendError) Error() string {
	switch {
	case !e.HasColumn:
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
	case len(e.Key) > 0:
		return fmt.Sprintf("%s: %s %s key %x: %v", e.Backend, e.Op, e.Column, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %s %s: %v", e.Backend, e.Op, e.Column, e.Err)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBackend) hold for every backend error.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}
