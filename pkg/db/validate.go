package db

import (
	"github.com/cockroachdb/errors"
)

// Validate checks every operation of tx against the column registry and the
// capabilities of a backend. Backends run it before touching storage so that
// a rejected transaction leaves no trace.
func Validate(tx *Transaction, backend BackendCapabilities) error {
	for i, op := range tx.Ops() {
		info, err := op.Column.Info()
		if err != nil {
			return errors.Wrapf(err, "op %d", i)
		}
		switch op.Kind {
		case OpInsert:
			if info.RefCounted {
				return errors.Wrapf(ErrInvalidOperation, "op %d: insert into reference counted column %s", i, op.Column)
			}
		case OpDelete:
		case OpDeleteRange:
			caps, err := ColumnCapabilities(op.Column, backend)
			if err != nil {
				return err
			}
			if !caps.DeleteRange {
				return errors.Wrapf(ErrUnsupportedOperation, "op %d: delete_range on column %s", i, op.Column)
			}
		case OpMerge:
			if info.RefCounted {
				if _, _, err := DecodeRefcounted(op.Value); err != nil || len(op.Value) == 0 {
					return errors.Wrapf(ErrInvalidOperation, "op %d: malformed refcount operand on column %s", i, op.Column)
				}
			}
		default:
			return errors.Wrapf(ErrInvalidOperation, "op %d: unknown kind %d", i, op.Kind)
		}
	}
	return nil
}
