package db

import (
	"github.com/cockroachdb/errors"
)

// Column identifies a logical namespace of the database.
// Column ids are persisted as the first byte of every hot-store key, so
// existing ids must never be renumbered.
type Column uint8

const (
	// ColDbVersion holds the schema version of the database.
	ColDbVersion Column = iota
	// ColBlockMisc holds singleton chain markers such as head and tail.
	ColBlockMisc
	// ColBlock maps block hash to the encoded block.
	ColBlock
	// ColBlockHeader maps block hash to the encoded header.
	ColBlockHeader
	// ColBlockHeight indexes big-endian height || block hash.
	ColBlockHeight
	// ColBlockChildren indexes parent hash || child hash.
	ColBlockChildren
	// ColState holds trie nodes, reference counted.
	ColState
	// ColStateChanges holds per-block state change sets.
	ColStateChanges
	// ColTrieChanges holds per-block trie insertions and deletions.
	ColTrieChanges
	// ColTransactions holds transactions, reference counted.
	ColTransactions
	// ColReceipts holds receipts, reference counted.
	ColReceipts
	// ColContractCode holds content addressed contract code. Point lookups only.
	ColContractCode

	numColumns
)

// ColumnInfo describes the static properties of a column.
type ColumnInfo struct {
	Name        string
	Iterable    bool
	DeleteRange bool
	RefCounted  bool
}

var columnInfos = [numColumns]ColumnInfo{
	ColDbVersion:     {Name: "DbVersion", Iterable: true},
	ColBlockMisc:     {Name: "BlockMisc", Iterable: true},
	ColBlock:         {Name: "Block", Iterable: true},
	ColBlockHeader:   {Name: "BlockHeader", Iterable: true},
	ColBlockHeight:   {Name: "BlockHeight", Iterable: true, DeleteRange: true},
	ColBlockChildren: {Name: "BlockChildren", Iterable: true},
	ColState:         {Name: "State", Iterable: true, DeleteRange: true, RefCounted: true},
	ColStateChanges:  {Name: "StateChanges", Iterable: true, DeleteRange: true},
	ColTrieChanges:   {Name: "TrieChanges", Iterable: true, DeleteRange: true},
	ColTransactions:  {Name: "Transactions", Iterable: true, RefCounted: true},
	ColReceipts:      {Name: "Receipts", Iterable: true, RefCounted: true},
	ColContractCode:  {Name: "ContractCode"},
}

// Columns returns every column in id order.
func Columns() []Column {
	cols := make([]Column, 0, numColumns)
	for c := Column(0); c < numColumns; c++ {
		cols = append(cols, c)
	}
	return cols
}

// Valid reports whether c belongs to the registry.
func (c Column) Valid() bool {
	return c < numColumns
}

// Info returns the static properties of the column.
func (c Column) Info() (ColumnInfo, error) {
	if !c.Valid() {
		return ColumnInfo{}, errors.Wrapf(ErrUnknownColumn, "column id %d", uint8(c))
	}
	return columnInfos[c], nil
}

// IsRefCounted reports whether values of the column carry a reference count.
// Unknown columns report false.
func (c Column) IsRefCounted() bool {
	return c.Valid() && columnInfos[c].RefCounted
}

func (c Column) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return columnInfos[c].Name
}

// ParseColumn resolves a column by its name, case-sensitive.
func ParseColumn(name string) (Column, error) {
	for c := Column(0); c < numColumns; c++ {
		if columnInfos[c].Name == name {
			return c, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownColumn, "column %q", name)
}
