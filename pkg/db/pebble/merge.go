package pebble

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/eigerco/nodestore/pkg/db"
)

// mergerName is persisted in the pebble OPTIONS file; a store created with
// one merger cannot be reopened with another.
const mergerName = "nodestore.column_merge.v1"

// newMerger hands every merge to db.MergeValues, selecting the policy of the
// column encoded in the first key byte.
func newMerger() *pebble.Merger {
	return &pebble.Merger{
		Name: mergerName,
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			if len(key) == 0 {
				return nil, errors.New("hot store: merge on key without column prefix")
			}
			return &valueMerger{
				col:      db.Column(key[0]),
				operands: [][]byte{cloneBytes(value)},
			}, nil
		},
	}
}

// valueMerger collects operands oldest first and reduces them on Finish.
type valueMerger struct {
	col      db.Column
	operands [][]byte
}

func (m *valueMerger) MergeNewer(value []byte) error {
	m.operands = append(m.operands, cloneBytes(value))
	return nil
}

func (m *valueMerger) MergeOlder(value []byte) error {
	m.operands = append([][]byte{cloneBytes(value)}, m.operands...)
	return nil
}

func (m *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	merged, err := db.MergeValues(m.col, nil, false, m.operands...)
	if err != nil {
		return nil, nil, err
	}
	return merged, nil, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
