package store

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/eigerco/nodestore/internal/crypto"
	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

// Trie stores content addressed trie nodes in the reference counted state
// column. A node shared by several tries is stored once and lives for as
// long as some committed block references it.
type Trie struct {
	storage *NodeStorage
}

func NewTrie(storage *NodeStorage) *Trie {
	return &Trie{storage: storage}
}

// TrieChanges is what one block did to the node set.
type TrieChanges struct {
	Inserted []crypto.Hash
	Released []crypto.Hash
}

// Commit adds a reference to every node in nodes, drops one from every hash in
// released and records both under the block, in one transaction. The record
// is what Revert undoes.
func (t *Trie) Commit(height uint64, blockHash crypto.Hash, nodes [][]byte, released []crypto.Hash) (TrieChanges, error) {
	changes := TrieChanges{Released: released}
	tx := db.NewTransaction()
	for _, node := range nodes {
		hash := crypto.HashData(node)
		changes.Inserted = append(changes.Inserted, hash)
		tx.IncrementRefcount(db.ColState, hash[:], node)
	}
	for _, hash := range released {
		tx.DecrementRefcount(db.ColState, hash[:])
	}
	tx.Insert(db.ColTrieChanges, changesKey(height, blockHash), changes.Bytes())

	if err := t.storage.HotStore().Write(tx); err != nil {
		return TrieChanges{}, errors.Wrapf(err, "commit trie changes of block %s", blockHash)
	}
	return changes, nil
}

// GetNode retrieves a node from the database using its hash
func (t *Trie) GetNode(hash crypto.Hash) ([]byte, error) {
	node, ok, err := t.storage.HotStore().Get(db.ColState, hash[:])
	if err != nil {
		return nil, errors.Wrapf(err, "get node %s", hash)
	}
	if !ok {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// NodeExists reports whether hash is referenced by at least one block
func (t *Trie) NodeExists(hash crypto.Hash) (bool, error) {
	return t.storage.HotStore().Has(db.ColState, hash[:])
}

// Changes returns the changes recorded for a block
func (t *Trie) Changes(height uint64, blockHash crypto.Hash) (TrieChanges, bool, error) {
	raw, ok, err := t.storage.HotStore().Get(db.ColTrieChanges, changesKey(height, blockHash))
	if err != nil || !ok {
		return TrieChanges{}, false, err
	}
	changes, err := TrieChangesFromBytes(raw)
	if err != nil {
		return TrieChanges{}, false, err
	}
	return changes, true, nil
}

// Revert undoes the changes recorded for a block and forgets the record.
func (t *Trie) Revert(height uint64, blockHash crypto.Hash) error {
	changes, ok, err := t.Changes(height, blockHash)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrNodeNotFound, "no trie changes for block %s", blockHash)
	}

	tx := db.NewTransaction()
	for _, hash := range changes.Inserted {
		tx.DecrementRefcount(db.ColState, hash[:])
	}
	for _, hash := range changes.Released {
		// The stored payload is kept at a zero count, so a bare reference revives it.
		tx.IncrementRefcount(db.ColState, hash[:], nil)
	}
	tx.Delete(db.ColTrieChanges, changesKey(height, blockHash))
	if err := t.storage.HotStore().Write(tx); err != nil {
		return errors.Wrapf(err, "revert trie changes of block %s", blockHash)
	}
	log.Storage.Debug().Uint64("height", height).Stringer("block", blockHash).
		Int("inserted", len(changes.Inserted)).Int("released", len(changes.Released)).
		Msg("reverted trie changes")
	return nil
}

// PruneChangesBelow forgets the change records of every block below height;
// those blocks can no longer be reverted.
func (t *Trie) PruneChangesBelow(height uint64) error {
	tx := db.NewTransaction()
	tx.DeleteRange(db.ColTrieChanges, nil, heightKey(height))
	return t.storage.HotStore().Write(tx)
}

func changesKey(height uint64, blockHash crypto.Hash) []byte {
	return makeKey(heightKey(height), blockHash[:])
}

// Bytes encodes the changes as two length-prefixed hash lists.
func (c TrieChanges) Bytes() []byte {
	out := make([]byte, 0, 8+crypto.HashSize*(len(c.Inserted)+len(c.Released)))
	for _, list := range [][]crypto.Hash{c.Inserted, c.Released} {
		out = binary.BigEndian.AppendUint32(out, uint32(len(list)))
		for _, h := range list {
			out = append(out, h[:]...)
		}
	}
	return out
}

func TrieChangesFromBytes(data []byte) (TrieChanges, error) {
	var c TrieChanges
	for _, list := range []*[]crypto.Hash{&c.Inserted, &c.Released} {
		if len(data) < 4 {
			return TrieChanges{}, errors.New("trie changes: truncated length")
		}
		n := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if len(data) < n*crypto.HashSize {
			return TrieChanges{}, errors.Newf("trie changes: %d hashes in %d bytes", n, len(data))
		}
		for i := 0; i < n; i++ {
			*list = append(*list, crypto.Hash(data[:crypto.HashSize]))
			data = data[crypto.HashSize:]
		}
	}
	if len(data) != 0 {
		return TrieChanges{}, errors.Newf("trie changes: %d trailing bytes", len(data))
	}
	return c, nil
}
