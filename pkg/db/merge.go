package db

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// RefcountSize is the length of the reference count suffix carried by values
// of reference counted columns.
const RefcountSize = 8

// EncodeRefcounted appends rc as a little-endian int64 to payload.
func EncodeRefcounted(payload []byte, rc int64) []byte {
	out := make([]byte, len(payload)+RefcountSize)
	copy(out, payload)
	binary.LittleEndian.PutUint64(out[len(payload):], uint64(rc))
	return out
}

// DecodeRefcounted splits a stored value of a reference counted column into
// its payload and reference count. An empty value decodes to a zero count.
func DecodeRefcounted(value []byte) (payload []byte, rc int64, err error) {
	if len(value) == 0 {
		return nil, 0, nil
	}
	if len(value) < RefcountSize {
		return nil, 0, errors.Wrapf(ErrInvalidOperation, "refcounted value of %d bytes", len(value))
	}
	n := len(value) - RefcountSize
	return value[:n], int64(binary.LittleEndian.Uint64(value[n:])), nil
}

// MergeValues reduces operands, oldest first, onto base.
// hasBase reports whether a stored value exists; when false base is ignored.
//
// Plain columns concatenate. Reference counted columns sum the counts and
// keep the newest non-empty payload. Both reductions are associative, so a
// backend may fold operands in any grouping as long as their order is kept.
func MergeValues(col Column, base []byte, hasBase bool, operands ...[]byte) ([]byte, error) {
	if !col.IsRefCounted() {
		size := 0
		if hasBase {
			size = len(base)
		}
		for _, op := range operands {
			size += len(op)
		}
		out := make([]byte, 0, size)
		if hasBase {
			out = append(out, base...)
		}
		for _, op := range operands {
			out = append(out, op...)
		}
		return out, nil
	}

	var (
		payload []byte
		total   int64
	)
	fold := func(v []byte) error {
		p, rc, err := DecodeRefcounted(v)
		if err != nil {
			return err
		}
		if len(p) > 0 {
			payload = p
		}
		total += rc
		return nil
	}
	if hasBase {
		if err := fold(base); err != nil {
			return nil, err
		}
	}
	for _, op := range operands {
		if err := fold(op); err != nil {
			return nil, err
		}
	}
	// A zero count keeps its payload: dropping it here would make the
	// reduction depend on operand grouping.
	return EncodeRefcounted(payload, total), nil
}

// StripRefcount converts a stored value into what readers observe. For plain
// columns the value is returned unchanged. For reference counted columns the
// count is removed, and ok is false when the count is not positive.
func StripRefcount(col Column, value []byte) (out []byte, ok bool, err error) {
	if !col.IsRefCounted() {
		return value, true, nil
	}
	payload, rc, err := DecodeRefcounted(value)
	if err != nil {
		return nil, false, err
	}
	if rc <= 0 {
		return nil, false, nil
	}
	return payload, true, nil
}
