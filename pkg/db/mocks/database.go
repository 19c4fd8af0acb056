package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/eigerco/nodestore/pkg/db"
)

// MockDatabase implements the db.Database interface for testing
type MockDatabase struct {
	mock.Mock
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{}
}

func (m *MockDatabase) Get(col db.Column, key []byte) ([]byte, bool, error) {
	args := m.Called(col, key)
	var value []byte
	if v := args.Get(0); v != nil {
		value = v.([]byte)
	}
	return value, args.Bool(1), args.Error(2)
}

func (m *MockDatabase) Iter(col db.Column) (db.Iterator, error) {
	args := m.Called(col)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(db.Iterator), args.Error(1)
}

func (m *MockDatabase) IterRange(col db.Column, start, end []byte) (db.Iterator, error) {
	args := m.Called(col, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(db.Iterator), args.Error(1)
}

// Write records the call and consumes tx like a real backend does.
func (m *MockDatabase) Write(tx *db.Transaction) error {
	args := m.Called(tx)
	if err := tx.Consume(); err != nil {
		return err
	}
	return args.Error(0)
}

func (m *MockDatabase) Capabilities(col db.Column) (db.Capabilities, error) {
	args := m.Called(col)
	return args.Get(0).(db.Capabilities), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockIterator is a mock implementation of db.Iterator for testing
type MockIterator struct {
	mock.Mock
}

func NewMockIterator() *MockIterator {
	return &MockIterator{}
}

func (m *MockIterator) Next() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockIterator) Key() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]byte)
}

func (m *MockIterator) Value() ([]byte, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockIterator) Valid() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockIterator) Err() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockIterator) Close() error {
	args := m.Called()
	return args.Error(0)
}
