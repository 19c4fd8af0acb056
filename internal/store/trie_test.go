package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/internal/crypto"
	"github.com/eigerco/nodestore/internal/testutils"
	"github.com/eigerco/nodestore/pkg/db"
)

func newTrie(t *testing.T) (*Trie, *NodeStorage) {
	storage, err := TestOpener().Open()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, storage.Close())
	})
	return NewTrie(storage), storage
}

func TestTrieSharedNodes(t *testing.T) {
	tr, _ := newTrie(t)

	shared := []byte("shared branch node")
	leafA := []byte("leaf of block a")
	leafB := []byte("leaf of block b")
	blockA, blockB := testutils.RandomHash(t), testutils.RandomHash(t)

	changes, err := tr.Commit(1, blockA, [][]byte{shared, leafA}, nil)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{crypto.HashData(shared), crypto.HashData(leafA)}, changes.Inserted)

	_, err = tr.Commit(2, blockB, [][]byte{shared, leafB}, []crypto.Hash{crypto.HashData(leafA)})
	require.NoError(t, err)

	node, err := tr.GetNode(crypto.HashData(shared))
	require.NoError(t, err)
	assert.Equal(t, shared, node)

	// leafA lost its only reference.
	_, err = tr.GetNode(crypto.HashData(leafA))
	assert.ErrorIs(t, err, ErrNodeNotFound)
	exists, err := tr.NodeExists(crypto.HashData(leafA))
	require.NoError(t, err)
	assert.False(t, exists)

	// Reverting block b brings leafA back and drops leafB; shared survives.
	require.NoError(t, tr.Revert(2, blockB))

	node, err = tr.GetNode(crypto.HashData(leafA))
	require.NoError(t, err)
	assert.Equal(t, leafA, node)
	exists, err = tr.NodeExists(crypto.HashData(leafB))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = tr.NodeExists(crypto.HashData(shared))
	require.NoError(t, err)
	assert.True(t, exists)

	_, ok, err := tr.Changes(2, blockB)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, tr.Revert(2, blockB), ErrNodeNotFound)
}

func TestTrieChangesRecord(t *testing.T) {
	tr, storage := newTrie(t)
	block := testutils.RandomHash(t)
	released := []crypto.Hash{testutils.RandomHash(t)}

	committed, err := tr.Commit(5, block, [][]byte{[]byte("n1"), []byte("n2")}, released)
	require.NoError(t, err)

	recorded, ok, err := tr.Changes(5, block)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, committed, recorded)

	// The record lives in the trie changes column, keyed by height first.
	it, err := storage.HotStore().IterPrefix(db.ColTrieChanges, heightKey(5))
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, changesKey(5, block), kvs[0].Key)
}

func TestTriePruneChanges(t *testing.T) {
	tr, _ := newTrie(t)

	blocks := make([]crypto.Hash, 4)
	for i := range blocks {
		blocks[i] = testutils.RandomHash(t)
		_, err := tr.Commit(uint64(i), blocks[i], [][]byte{[]byte{byte(i)}}, nil)
		require.NoError(t, err)
	}

	require.NoError(t, tr.PruneChangesBelow(2))

	for i, block := range blocks {
		_, ok, err := tr.Changes(uint64(i), block)
		require.NoError(t, err)
		assert.Equal(t, i >= 2, ok, "height %d", i)
	}

	// Nodes are untouched by pruning change records.
	node, err := tr.GetNode(crypto.HashData([]byte{0}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, node)
}

func TestTrieChangesFromBytes(t *testing.T) {
	_, err := TrieChangesFromBytes([]byte{0, 0})
	assert.Error(t, err)
	_, err = TrieChangesFromBytes([]byte{0, 0, 0, 1})
	assert.Error(t, err)
	_, err = TrieChangesFromBytes(append(TrieChanges{}.Bytes(), 0))
	assert.Error(t, err)

	empty, err := TrieChangesFromBytes(TrieChanges{}.Bytes())
	require.NoError(t, err)
	assert.Empty(t, empty.Inserted)
	assert.Empty(t, empty.Released)
}
