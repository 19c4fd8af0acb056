package db

import (
	"bytes"

	"github.com/cockroachdb/errors"
)

// InRange reports whether key lies in [start, end) under unsigned
// lexicographic byte order. Nil bounds are open.
func InRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// PrefixUpperBound returns the smallest key greater than every key carrying
// prefix, or nil if no such key exists (the prefix is empty or all 0xff).
func PrefixUpperBound(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Successor returns the smallest key strictly greater than key.
func Successor(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// IterPrefix iterates every key of col that starts with prefix.
func IterPrefix(d Database, col Column, prefix []byte) (Iterator, error) {
	if len(prefix) == 0 {
		return d.Iter(col)
	}
	return d.IterRange(col, prefix, PrefixUpperBound(prefix))
}

// Has reports whether key is present in col.
func Has(d Database, col Column, key []byte) (bool, error) {
	_, ok, err := d.Get(col, key)
	return ok, err
}

// Collect drains and closes it, returning all entries.
func Collect(it Iterator) (kvs []KV, err error) {
	defer func() {
		if closeErr := it.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "close iterator")
		}
	}()
	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, KV{Key: it.Key(), Value: v})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return kvs, nil
}
