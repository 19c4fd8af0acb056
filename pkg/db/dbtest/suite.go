// Package dbtest is the conformance suite shared by every db.Database
// implementation. Each backend's tests call Run with a factory producing a
// fresh store; the suite adapts to the capabilities the backend reports, so a
// backend without iteration is checked for refusing it instead.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/pkg/db"
)

// Factory returns a fresh, empty database. The suite closes it.
type Factory func(t *testing.T) db.Database

type testCase struct {
	name string
	fn   func(t *testing.T, d db.Database)
}

var commonTests = []testCase{
	{name: "get_missing", fn: testGetMissing},
	{name: "insert_get", fn: testInsertGet},
	{name: "binary_keys", fn: testBinaryKeys},
	{name: "delete", fn: testDelete},
	{name: "idempotent_insert", fn: testIdempotentInsert},
	{name: "last_write_wins", fn: testLastWriteWins},
	{name: "merge_concat", fn: testMergeConcat},
	{name: "merge_after_insert_and_delete", fn: testMergeAfterInsertAndDelete},
	{name: "refcount", fn: testRefcount},
	{name: "refcount_contract", fn: testRefcountContract},
	{name: "unknown_column", fn: testUnknownColumn},
	{name: "rejected_transaction_is_not_applied", fn: testRejectedTransaction},
	{name: "transaction_consumed", fn: testTransactionConsumed},
	{name: "column_isolation", fn: testColumnIsolation},
	{name: "concurrent_atomicity", fn: testConcurrentAtomicity},
	{name: "delete_range", fn: testDeleteRange},
}

var iterationTests = []testCase{
	{name: "reference_scenario", fn: testReferenceScenario},
	{name: "ordering", fn: testOrdering},
	{name: "range_bounds", fn: testRangeBounds},
	{name: "iter_prefix", fn: testIterPrefix},
	{name: "iteration_after_delete", fn: testIterationAfterDelete},
	{name: "iterator_validity", fn: testIteratorValidity},
	{name: "independent_cursors", fn: testIndependentCursors},
	{name: "snapshot_cursor", fn: testSnapshotCursor},
	{name: "refcount_iteration", fn: testRefcountIteration},
	{name: "non_iterable_column", fn: testNonIterableColumn},
	{name: "iterator_after_close", fn: testIteratorAfterClose},
}

var noIterationTests = []testCase{
	{name: "reference_scenario_unsupported", fn: testReferenceScenarioUnsupported},
}

// Run executes the conformance suite against the databases produced by newDB.
func Run(t *testing.T, newDB Factory) {
	probe := newDB(t)
	caps, err := probe.Capabilities(db.ColBlock)
	require.NoError(t, err)
	require.NoError(t, probe.Close())

	tests := append([]testCase{}, commonTests...)
	if caps.Iterable {
		tests = append(tests, iterationTests...)
	} else {
		tests = append(tests, noIterationTests...)
	}
	tests = append(tests, testCase{name: "close", fn: testClose})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newDB(t)
			defer d.Close() //nolint:errcheck // closing twice is a no-op

			tc.fn(t, d)
		})
	}
}

func write(t *testing.T, d db.Database, build func(tx *db.Transaction)) {
	t.Helper()
	tx := db.NewTransaction()
	build(tx)
	require.NoError(t, d.Write(tx))
}

func get(t *testing.T, d db.Database, col db.Column, key string) (string, bool) {
	t.Helper()
	v, ok, err := d.Get(col, []byte(key))
	require.NoError(t, err)
	return string(v), ok
}

func collectKeys(t *testing.T, it db.Iterator, err error) []string {
	t.Helper()
	require.NoError(t, err)
	kvs, err := db.Collect(it)
	require.NoError(t, err)
	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys
}
