package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/internal/crypto"
	"github.com/eigerco/nodestore/internal/testutils"
	"github.com/eigerco/nodestore/pkg/db"
)

func Test_PutGetBlock(t *testing.T) {
	chain, _ := newChain(t)
	header := Header{
		ParentHash: testutils.RandomHash(t),
		Height:     7,
	}
	b := Block{
		Header: header,
		Body:   []byte("extrinsics"),
	}
	err := chain.PutBlock(b)
	require.NoError(t, err)

	resultBlock, err := chain.GetBlock(crypto.HashData(header.Bytes()))
	require.NoError(t, err)
	require.Equal(t, b, resultBlock)

	resultHeader, err := chain.GetHeader(header.Hash())
	require.NoError(t, err)
	require.Equal(t, header, resultHeader)
}

func Test_GetBlockNotFound(t *testing.T) {
	chain, _ := newChain(t)
	_, err := chain.GetBlock(testutils.RandomHash(t))
	require.Error(t, err)
	require.Equal(t, ErrBlockNotFound, err)

	_, err = chain.GetHeader(testutils.RandomHash(t))
	require.Equal(t, ErrBlockNotFound, err)
}

func Test_GetBlockFromColdStore(t *testing.T) {
	chain, storage := newChain(t)
	b := createRandomBlock(crypto.Hash{}, 3, t)
	hash := b.Header.Hash()

	coldStore, ok := storage.ColdStore()
	require.True(t, ok)
	tx := db.NewTransaction()
	tx.Insert(db.ColBlock, hash[:], b.Bytes())
	tx.Insert(db.ColBlockHeader, hash[:], b.Header.Bytes())
	require.NoError(t, coldStore.Write(tx))

	got, err := chain.GetBlock(hash)
	require.NoError(t, err)
	require.Equal(t, b, got)

	header, err := chain.GetHeader(hash)
	require.NoError(t, err)
	require.Equal(t, b.Header, header)
}

func Test_ChainClosed(t *testing.T) {
	chain, storage := newChain(t)
	require.NoError(t, storage.Close())

	_, err := chain.GetBlock(testutils.RandomHash(t))
	require.ErrorIs(t, err, db.ErrClosed)

	err = chain.PutBlock(createRandomBlock(crypto.Hash{}, 1, t))
	require.ErrorIs(t, err, db.ErrClosed)

	_, err = chain.FindChildren(testutils.RandomHash(t))
	require.ErrorIs(t, err, db.ErrClosed)

	_, err = chain.GetBlockSequence(testutils.RandomHash(t), true, 5)
	require.ErrorIs(t, err, db.ErrClosed)
}

func Test_FindChildren(t *testing.T) {
	chain, _ := newChain(t)

	// Create parent block
	parentBlock := Block{
		Header: Header{
			ParentHash: crypto.Hash{},
		},
	}
	err := chain.PutBlock(parentBlock)
	require.NoError(t, err)

	ph := parentBlock.Header.Hash()

	// Create child blocks
	childBlock1 := Block{
		Header: Header{
			ParentHash: ph,
			Height:     1,
			// Random data so that the block hash is unique
			ExtrinsicHash: testutils.RandomHash(t),
		},
	}
	err = chain.PutBlock(childBlock1)
	require.NoError(t, err)

	childBlock2 := Block{
		Header: Header{
			ParentHash:    ph,
			Height:        1,
			ExtrinsicHash: testutils.RandomHash(t),
		},
	}
	err = chain.PutBlock(childBlock2)
	require.NoError(t, err)

	// A block whose parent hash only shares a prefix must not match.
	stranger := Block{
		Header: Header{
			ParentHash:    crypto.HashData([]byte("stranger")),
			ExtrinsicHash: testutils.RandomHash(t),
		},
	}
	require.NoError(t, chain.PutBlock(stranger))

	// Find children of parent block
	children, err := chain.FindChildren(ph)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.ElementsMatch(t, []Block{childBlock1, childBlock2}, children)

	hashes, err := chain.HashesAtHeight(1)
	require.NoError(t, err)
	require.ElementsMatch(t, []crypto.Hash{childBlock1.Header.Hash(), childBlock2.Header.Hash()}, hashes)
}

func Test_FindChildren_NoChildren(t *testing.T) {
	chain, _ := newChain(t)

	// Create parent block
	parentBlock := Block{
		Header: Header{
			ParentHash: crypto.Hash{},
		},
	}
	err := chain.PutBlock(parentBlock)
	require.NoError(t, err)

	// Find children of parent block (should be none)
	children, err := chain.FindChildren(parentBlock.Header.Hash())
	require.NoError(t, err)
	require.Empty(t, children)
}

func Test_GetBlockSequence_Ascending(t *testing.T) {
	chain, _ := newChain(t)

	// Create a sequence of blocks
	blocks := createNumOfRandomBlocks(5, t)
	for _, b := range blocks {
		err := chain.PutBlock(b)
		require.NoError(t, err)
	}

	// Retrieve the sequence in ascending order
	sequence, err := chain.GetBlockSequence(blocks[0].Header.Hash(), true, 4)
	require.NoError(t, err)
	require.Len(t, sequence, 4)
	require.Equal(t, blocks[1:], sequence) // Should exclude the start block
}

func Test_GetBlockSequence_AscendingRequestTooMany(t *testing.T) {
	chain, _ := newChain(t)

	blocks := createNumOfRandomBlocks(5, t)
	for _, b := range blocks {
		err := chain.PutBlock(b)
		require.NoError(t, err)
	}

	// Request more blocks than available
	sequence, err := chain.GetBlockSequence(blocks[0].Header.Hash(), true, 10)
	require.NoError(t, err)
	require.Len(t, sequence, 4)
	require.Equal(t, blocks[1:], sequence)
}

func Test_GetBlockSequence_Descending(t *testing.T) {
	chain, _ := newChain(t)

	blocks := createNumOfRandomBlocks(5, t)
	for _, b := range blocks {
		err := chain.PutBlock(b)
		require.NoError(t, err)
	}

	// Retrieve the sequence in descending order
	sequence, err := chain.GetBlockSequence(blocks[len(blocks)-1].Header.Hash(), false, 10)
	require.NoError(t, err)
	require.Len(t, sequence, 5) // Should include the start block
	for i := range sequence {
		// The sequence should be in reverse order
		require.Equal(t, blocks[len(blocks)-1-i], sequence[i])
	}
}

func Test_GetBlockSequence_StartNotFound(t *testing.T) {
	chain, _ := newChain(t)
	_, err := chain.GetBlockSequence(testutils.RandomHash(t), false, 3)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func Test_Head(t *testing.T) {
	chain, _ := newChain(t)

	_, ok, err := chain.Head()
	require.NoError(t, err)
	assert.False(t, ok)

	hash := testutils.RandomHash(t)
	require.NoError(t, chain.SetHead(hash))
	head, ok, err := chain.Head()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hash, head)
}

func Test_PruneBelow(t *testing.T) {
	chain, _ := newChain(t)

	blocks := createNumOfRandomBlocks(6, t)
	for _, b := range blocks {
		require.NoError(t, chain.PutBlock(b))
	}

	pruned, err := chain.PruneBelow(3)
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)

	for i, b := range blocks {
		_, err := chain.GetBlock(b.Header.Hash())
		if i < 3 {
			assert.ErrorIs(t, err, ErrBlockNotFound, "block %d", i)
			continue
		}
		assert.NoError(t, err, "block %d", i)
	}

	for height := uint64(0); height < 3; height++ {
		hashes, err := chain.HashesAtHeight(height)
		require.NoError(t, err)
		assert.Empty(t, hashes)
	}
	hashes, err := chain.HashesAtHeight(3)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{blocks[3].Header.Hash()}, hashes)

	// The pruned parent no longer lists its child.
	children, err := chain.FindChildren(blocks[2].Header.Hash())
	require.NoError(t, err)
	assert.Empty(t, children)
	children, err = chain.FindChildren(blocks[3].Header.Hash())
	require.NoError(t, err)
	assert.Len(t, children, 1)

	// Pruning is idempotent.
	pruned, err = chain.PruneBelow(3)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func Test_MalformedIndexEntries(t *testing.T) {
	chain, storage := newChain(t)

	blocks := createNumOfRandomBlocks(2, t)
	for _, b := range blocks {
		require.NoError(t, chain.PutBlock(b))
	}
	parent := blocks[0].Header.Hash()

	// Entries written by hand with a truncated hash.
	tx := db.NewTransaction()
	tx.Insert(db.ColBlockHeight, makeKey(heightKey(1), []byte{0xab}), nil)
	tx.Insert(db.ColBlockChildren, makeKey(parent[:], []byte{0xab}), nil)
	require.NoError(t, storage.HotStore().Write(tx))

	hashes, err := chain.HashesAtHeight(1)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{blocks[1].Header.Hash()}, hashes)

	children, err := chain.FindChildren(parent)
	require.NoError(t, err)
	assert.Equal(t, []Block{blocks[1]}, children)

	pruned, err := chain.PruneBelow(5)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	it, err := storage.HotStore().Iter(db.ColBlockHeight)
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	assert.Empty(t, kvs)

	it, err = storage.HotStore().IterPrefix(db.ColBlockChildren, parent[:])
	require.NoError(t, err)
	kvs, err = db.Collect(it)
	require.NoError(t, err)
	assert.Empty(t, kvs)
}

// createRandomBlock generates a random block for testing purposes
func createRandomBlock(parentHash crypto.Hash, height uint64, t *testing.T) Block {
	header := Header{
		ParentHash: parentHash,
		Height:     height,
		// Populate other header fields with random data
		StateRoot:     testutils.RandomHash(t),
		ExtrinsicHash: testutils.RandomHash(t),
	}
	return Block{
		Header: header,
	}
}

func createNumOfRandomBlocks(num int, t *testing.T) []Block {
	blocks := []Block{}
	prevB := createRandomBlock(crypto.Hash{}, 0, t)
	blocks = append(blocks, prevB)
	for range num - 1 {
		b := createRandomBlock(prevB.Header.Hash(), prevB.Header.Height+1, t)
		blocks = append(blocks, b)
		prevB = b
	}
	return blocks
}

func newChain(t *testing.T) (*Chain, *NodeStorage) {
	storage, err := TestOpener().Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.Close())
	})
	return NewChain(storage), storage
}
