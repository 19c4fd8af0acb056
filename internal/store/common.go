package store

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

var (
	ErrBlockNotFound   = errors.New("block not found")
	ErrNodeNotFound    = errors.New("trie node not found")
	ErrInvalidConfig   = errors.New("invalid storage config")
	ErrVersionMismatch = errors.New("database version mismatch")
)

// DatabaseVersion is the schema version written to ColDbVersion.
const DatabaseVersion uint32 = 1

var (
	keyDbVersion = []byte("version")
	keyHead      = []byte("head")
)

// heightKey encodes a height so that byte order matches numeric order.
func heightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

// makeKey concatenates key parts.
func makeKey(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}
