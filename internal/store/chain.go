package store

import (
	"github.com/cockroachdb/errors"

	"github.com/eigerco/nodestore/internal/crypto"
	"github.com/eigerco/nodestore/pkg/db"
	"github.com/eigerco/nodestore/pkg/log"
)

// Chain manages block storage on top of a NodeStorage. Blocks are written to
// the hot store; reads fall back to the cold store for archived blocks.
type Chain struct {
	storage *NodeStorage
}

// NewChain creates a new chain store
func NewChain(storage *NodeStorage) *Chain {
	return &Chain{storage: storage}
}

// PutBlock stores a block, its header and its index entries atomically
func (c *Chain) PutBlock(b Block) error {
	hash := b.Header.Hash()

	tx := db.NewTransaction()
	tx.Insert(db.ColBlock, hash[:], b.Bytes())
	tx.Insert(db.ColBlockHeader, hash[:], b.Header.Bytes())
	tx.Insert(db.ColBlockHeight, makeKey(heightKey(b.Header.Height), hash[:]), nil)
	tx.Insert(db.ColBlockChildren, makeKey(b.Header.ParentHash[:], hash[:]), nil)

	if err := c.storage.HotStore().Write(tx); err != nil {
		return errors.Wrapf(err, "store block %s", hash)
	}
	return nil
}

// GetBlock retrieves a block by its header hash
func (c *Chain) GetBlock(hash crypto.Hash) (Block, error) {
	data, ok, err := c.storage.GetArchival(db.ColBlock, hash[:])
	if err != nil {
		return Block{}, errors.Wrap(err, "get block")
	}
	if !ok {
		return Block{}, ErrBlockNotFound
	}
	return BlockFromBytes(data)
}

// GetHeader retrieves a header by its hash
func (c *Chain) GetHeader(hash crypto.Hash) (Header, error) {
	data, ok, err := c.storage.GetArchival(db.ColBlockHeader, hash[:])
	if err != nil {
		return Header{}, errors.Wrap(err, "get header")
	}
	if !ok {
		return Header{}, ErrBlockNotFound
	}
	return HeaderFromBytes(data)
}

// HashesAtHeight returns the hashes of every stored block at height, forks
// included, in byte order.
func (c *Chain) HashesAtHeight(height uint64) ([]crypto.Hash, error) {
	iter, err := c.storage.HotStore().IterPrefix(db.ColBlockHeight, heightKey(height))
	if err != nil {
		return nil, errors.Wrap(err, "create iterator")
	}
	defer iter.Close() //nolint:errcheck // read-only iterator

	var hashes []crypto.Hash
	for iter.Next() {
		hash, ok := indexedHash(db.ColBlockHeight, iter.Key())
		if !ok {
			continue
		}
		hashes = append(hashes, hash)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate heights")
	}
	return hashes, nil
}

// FindChildren finds all immediate child blocks for a given block hash
func (c *Chain) FindChildren(parentHash crypto.Hash) ([]Block, error) {
	iter, err := c.storage.HotStore().IterPrefix(db.ColBlockChildren, parentHash[:])
	if err != nil {
		return nil, errors.Wrap(err, "create iterator")
	}
	defer iter.Close() //nolint:errcheck // read-only iterator

	var children []Block
	for iter.Next() {
		childHash, ok := indexedHash(db.ColBlockChildren, iter.Key())
		if !ok {
			continue
		}
		b, err := c.GetBlock(childHash)
		if err != nil {
			// The index may outlive a pruned block.
			log.Storage.Warn().Err(err).Stringer("hash", childHash).Msg("skip indexed child")
			continue
		}
		children = append(children, b)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate children")
	}
	return children, nil
}

// GetBlockSequence retrieves a sequence of blocks.
// If ascending is true, returns children of the start block (exclusive).
// If ascending is false, returns the start block and its ancestors (inclusive).
func (c *Chain) GetBlockSequence(startHash crypto.Hash, ascending bool, maxBlocks uint32) ([]Block, error) {
	currentBlock, err := c.GetBlock(startHash)
	if err != nil {
		if errors.Is(err, ErrBlockNotFound) {
			return nil, errors.Wrap(err, "starting block not found")
		}
		return nil, errors.Wrap(err, "get starting block")
	}

	var blocks []Block
	currentHash := startHash

	for uint32(len(blocks)) < maxBlocks {
		if ascending {
			// For ascending (exclusive), skip first block
			if currentHash != startHash {
				blocks = append(blocks, currentBlock)
				if uint32(len(blocks)) == maxBlocks {
					break
				}
			}
			// Find children and take the first one
			children, err := c.FindChildren(currentHash)
			if err != nil {
				return nil, err
			}
			if len(children) == 0 {
				break
			}
			currentHash = children[0].Header.Hash()
		} else {
			// For descending (inclusive), include current and follow parent
			blocks = append(blocks, currentBlock)
			currentHash = currentBlock.Header.ParentHash
		}

		// Retrieve next block
		currentBlock, err = c.GetBlock(currentHash)
		if err != nil {
			if errors.Is(err, ErrBlockNotFound) {
				break
			}
			return nil, errors.Wrap(err, "get block in sequence")
		}
	}

	return blocks, nil
}

// SetHead records hash as the head of the chain
func (c *Chain) SetHead(hash crypto.Hash) error {
	tx := db.NewTransaction()
	tx.Insert(db.ColBlockMisc, keyHead, hash[:])
	return c.storage.HotStore().Write(tx)
}

// Head returns the recorded chain head, if any
func (c *Chain) Head() (crypto.Hash, bool, error) {
	v, ok, err := c.storage.HotStore().Get(db.ColBlockMisc, keyHead)
	if err != nil || !ok {
		return crypto.Hash{}, false, err
	}
	if len(v) != crypto.HashSize {
		return crypto.Hash{}, false, errors.Wrapf(ErrMalformedBlock, "head of %d bytes", len(v))
	}
	return crypto.Hash(v), true, nil
}

// PruneBelow removes every hot block below height, along with its header and
// the index entries referring to it, in one transaction. The height index is
// cleared with a single range deletion.
func (c *Chain) PruneBelow(height uint64) (int, error) {
	hot := c.storage.HotStore()
	iter, err := hot.IterRange(db.ColBlockHeight, nil, heightKey(height))
	if err != nil {
		return 0, errors.Wrap(err, "create iterator")
	}
	// Malformed entries are still dropped by the range deletion below.
	var pruned []crypto.Hash
	for iter.Next() {
		if hash, ok := indexedHash(db.ColBlockHeight, iter.Key()); ok {
			pruned = append(pruned, hash)
		}
	}
	iterErr := iter.Err()
	if err := errors.CombineErrors(iterErr, iter.Close()); err != nil {
		return 0, errors.Wrap(err, "iterate heights")
	}

	tx := db.NewTransaction()
	tx.DeleteRange(db.ColBlockHeight, nil, heightKey(height))
	for _, hash := range pruned {
		header, err := c.GetHeader(hash)
		if err != nil && !errors.Is(err, ErrBlockNotFound) {
			return 0, err
		}
		if err == nil {
			tx.Delete(db.ColBlockChildren, makeKey(header.ParentHash[:], hash[:]))
		}
		if err := c.dropChildIndex(tx, hash); err != nil {
			return 0, err
		}
		tx.Delete(db.ColBlock, hash[:])
		tx.Delete(db.ColBlockHeader, hash[:])
	}
	if err := hot.Write(tx); err != nil {
		return 0, errors.Wrap(err, "prune blocks")
	}
	log.Storage.Info().Uint64("below", height).Int("blocks", len(pruned)).Msg("pruned blocks")
	return len(pruned), nil
}

// dropChildIndex stages the deletion of every children index entry under parent.
func (c *Chain) dropChildIndex(tx *db.Transaction, parent crypto.Hash) error {
	iter, err := c.storage.HotStore().IterPrefix(db.ColBlockChildren, parent[:])
	if err != nil {
		return errors.Wrap(err, "create iterator")
	}
	defer iter.Close() //nolint:errcheck // read-only iterator

	for iter.Next() {
		tx.Delete(db.ColBlockChildren, iter.Key())
	}
	return errors.Wrap(iter.Err(), "iterate children")
}

// indexedHash extracts the block hash that ends a height or children index
// key. Keys of any other length are logged and reported as not ok.
func indexedHash(col db.Column, key []byte) (crypto.Hash, bool) {
	prefix := 8
	if col == db.ColBlockChildren {
		prefix = crypto.HashSize
	}
	if len(key) != prefix+crypto.HashSize {
		log.Storage.Warn().Stringer("column", col).Hex("key", key).Msg("skip malformed index entry")
		return crypto.Hash{}, false
	}
	return crypto.Hash(key[prefix:]), true
}
