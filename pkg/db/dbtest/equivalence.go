package dbtest

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/nodestore/pkg/db"
)

var equivalenceColumns = []db.Column{db.ColBlock, db.ColStateChanges, db.ColState, db.ColReceipts}

// RunEquivalence applies the same pseudo-random transactions to a reference
// and a candidate database and checks that both end up with identical
// contents. Operations the candidate cannot perform are never generated.
func RunEquivalence(t *testing.T, reference, candidate Factory) {
	for _, seed := range []int64{1, 7, 42, 1337} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			ref := reference(t)
			defer ref.Close() //nolint:errcheck // test cleanup
			cand := candidate(t)
			defer cand.Close() //nolint:errcheck // test cleanup

			r := rand.New(rand.NewSource(seed))
			touched := make(map[db.Column]map[string]struct{})
			for round := 0; round < 40; round++ {
				refTx, candTx := randomTransaction(t, r, cand, touched)
				require.NoError(t, ref.Write(refTx), "round %d", round)
				require.NoError(t, cand.Write(candTx), "round %d", round)
			}

			for _, col := range equivalenceColumns {
				iterate := iterable(t, ref, col) && iterable(t, cand, col)
				want := dump(t, ref, col, iterate, touched[col])
				got := dump(t, cand, col, iterate, touched[col])
				if want == got {
					continue
				}
				diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
					A:        difflib.SplitLines(want),
					B:        difflib.SplitLines(got),
					FromFile: "reference",
					ToFile:   "candidate",
					Context:  2,
				})
				require.NoError(t, err)
				t.Errorf("column %s diverged:\n%s", col, diff)
			}
		})
	}
}

func randomTransaction(t *testing.T, r *rand.Rand, cand db.Database, touched map[db.Column]map[string]struct{}) (*db.Transaction, *db.Transaction) {
	t.Helper()
	refTx, candTx := db.NewTransaction(), db.NewTransaction()
	for n := 1 + r.Intn(8); n > 0; n-- {
		col := equivalenceColumns[r.Intn(len(equivalenceColumns))]
		caps, err := cand.Capabilities(col)
		require.NoError(t, err)

		key := []byte{byte('a' + r.Intn(6)), byte('a' + r.Intn(3))}
		if touched[col] == nil {
			touched[col] = make(map[string]struct{})
		}
		touched[col][string(key)] = struct{}{}

		value := []byte(fmt.Sprintf("v%d", r.Intn(100)))
		var add func(tx *db.Transaction)
		switch k := r.Intn(10); {
		case col.IsRefCounted() && k < 3:
			add = func(tx *db.Transaction) { tx.DecrementRefcount(col, key) }
		case col.IsRefCounted():
			add = func(tx *db.Transaction) { tx.IncrementRefcount(col, key, value) }
		case k < 5:
			add = func(tx *db.Transaction) { tx.Insert(col, key, value) }
		case k < 7:
			add = func(tx *db.Transaction) { tx.Delete(col, key) }
		case k < 9 || !caps.DeleteRange:
			add = func(tx *db.Transaction) { tx.Merge(col, key, value) }
		default:
			add = func(tx *db.Transaction) { tx.DeleteRange(col, key[:1], []byte{key[0] + 1}) }
		}
		add(refTx)
		add(candTx)
	}
	return refTx, candTx
}

func iterable(t *testing.T, d db.Database, col db.Column) bool {
	t.Helper()
	caps, err := d.Capabilities(col)
	require.NoError(t, err)
	return caps.Iterable
}

// dump renders a column's visible contents one key per line, either by
// iteration or by probing every touched key.
func dump(t *testing.T, d db.Database, col db.Column, iterate bool, touched map[string]struct{}) string {
	t.Helper()
	var b strings.Builder
	if iterate {
		it, err := d.Iter(col)
		require.NoError(t, err)
		kvs, err := db.Collect(it)
		require.NoError(t, err)
		for _, kv := range kvs {
			fmt.Fprintf(&b, "%q = %q\n", kv.Key, kv.Value)
		}
		return b.String()
	}

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok, err := d.Get(col, []byte(k))
		require.NoError(t, err)
		if ok {
			fmt.Fprintf(&b, "%q = %q\n", k, v)
		}
	}
	return b.String()
}
