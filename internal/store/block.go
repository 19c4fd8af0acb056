package store

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/eigerco/nodestore/internal/crypto"
)

// headerSize is the encoded size of a Header.
const headerSize = 3*crypto.HashSize + 2*8

var ErrMalformedBlock = errors.New("malformed block encoding")

// Header is the part of a block the chain index is built from.
type Header struct {
	ParentHash    crypto.Hash
	Height        uint64
	StateRoot     crypto.Hash
	ExtrinsicHash crypto.Hash
	Timestamp     uint64
}

// Bytes encodes the header in its fixed-width layout.
func (h Header) Bytes() []byte {
	out := make([]byte, 0, headerSize)
	out = append(out, h.ParentHash[:]...)
	out = binary.BigEndian.AppendUint64(out, h.Height)
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.ExtrinsicHash[:]...)
	out = binary.BigEndian.AppendUint64(out, h.Timestamp)
	return out
}

// Hash is the blake2b-256 hash of the encoded header and identifies the block.
func (h Header) Hash() crypto.Hash {
	return crypto.HashData(h.Bytes())
}

func HeaderFromBytes(data []byte) (Header, error) {
	if len(data) != headerSize {
		return Header{}, errors.Wrapf(ErrMalformedBlock, "header of %d bytes", len(data))
	}
	var h Header
	copy(h.ParentHash[:], data)
	data = data[crypto.HashSize:]
	h.Height = binary.BigEndian.Uint64(data)
	data = data[8:]
	copy(h.StateRoot[:], data)
	data = data[crypto.HashSize:]
	copy(h.ExtrinsicHash[:], data)
	data = data[crypto.HashSize:]
	h.Timestamp = binary.BigEndian.Uint64(data)
	return h, nil
}

// Block is a header followed by an opaque body.
type Block struct {
	Header Header
	Body   []byte
}

func (b Block) Bytes() []byte {
	return append(b.Header.Bytes(), b.Body...)
}

func BlockFromBytes(data []byte) (Block, error) {
	if len(data) < headerSize {
		return Block{}, errors.Wrapf(ErrMalformedBlock, "block of %d bytes", len(data))
	}
	h, err := HeaderFromBytes(data[:headerSize])
	if err != nil {
		return Block{}, err
	}
	var body []byte
	if len(data) > headerSize {
		body = append([]byte(nil), data[headerSize:]...)
	}
	return Block{Header: h, Body: body}, nil
}
