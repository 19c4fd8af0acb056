package pebble

import "github.com/cockroachdb/errors"

var (
	ErrBatchDone       = errors.New("hot store: batch already committed or closed")
	ErrIteratorInvalid = errors.New("hot store: iterator is not positioned")
)

const (
	ErrInIteratorCreation = "create iterator"
	ErrIteratorValue      = "read iterator value"
)
