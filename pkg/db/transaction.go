package db

import (
	"sync/atomic"
)

// OpKind enumerates the operations a transaction can carry.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpDelete
	OpDeleteRange
	OpMerge
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpDeleteRange:
		return "delete_range"
	case OpMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Op is a single pending operation.
// For OpDeleteRange, Key and End bound the range [Key, End); a nil bound is
// unbounded on that side. For every other kind End is unused.
type Op struct {
	Kind   OpKind
	Column Column
	Key    []byte
	End    []byte
	Value  []byte
}

// Transaction accumulates operations that are applied atomically by
// Database.Write. Building a transaction performs no I/O and never fails;
// contract violations are reported by Write.
//
// A Transaction is not safe for concurrent construction and may be written
// exactly once.
type Transaction struct {
	ops      []Op
	consumed atomic.Bool
}

// NewTransaction creates an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Insert sets key to value, replacing any previous value.
func (tx *Transaction) Insert(col Column, key, value []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpInsert, Column: col, Key: clone(key), Value: clone(value)})
}

// Delete removes key.
func (tx *Transaction) Delete(col Column, key []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpDelete, Column: col, Key: clone(key)})
}

// DeleteRange removes every key in [start, end).
// Only valid on columns flagged DeleteRange.
func (tx *Transaction) DeleteRange(col Column, start, end []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpDeleteRange, Column: col, Key: clone(start), End: clone(end)})
}

// Merge combines operand with the current value of key using the merge
// policy of the column. See MergeValues.
func (tx *Transaction) Merge(col Column, key, operand []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpMerge, Column: col, Key: clone(key), Value: clone(operand)})
}

// IncrementRefcount adds one reference to value stored under key in a
// reference counted column.
func (tx *Transaction) IncrementRefcount(col Column, key, value []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpMerge, Column: col, Key: clone(key), Value: EncodeRefcounted(value, 1)})
}

// DecrementRefcount drops one reference to key in a reference counted column.
func (tx *Transaction) DecrementRefcount(col Column, key []byte) {
	tx.ops = append(tx.ops, Op{Kind: OpMerge, Column: col, Key: clone(key), Value: EncodeRefcounted(nil, -1)})
}

// Ops returns the pending operations in construction order.
// The returned slice must not be modified.
func (tx *Transaction) Ops() []Op {
	return tx.ops
}

// Len returns the number of pending operations.
func (tx *Transaction) Len() int {
	return len(tx.ops)
}

// Consume marks the transaction as written. It returns ErrTransactionConsumed
// if the transaction was already consumed. Backends call it exactly once at
// the start of Write.
func (tx *Transaction) Consume() error {
	if !tx.consumed.CompareAndSwap(false, true) {
		return ErrTransactionConsumed
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
