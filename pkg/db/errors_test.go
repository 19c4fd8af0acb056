package db

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendError(t *testing.T) {
	tests := []struct {
		name string
		err  *BackendError
		want string
	}{
		{
			name: "column_and_key",
			err:  NewBackendError("hot", "get", ColBlock, []byte{0xab}, assert.AnError),
			want: "hot: get Block key ab: " + assert.AnError.Error(),
		},
		{
			name: "column_only",
			err:  NewBackendError("hot", "iterate", ColState, nil, assert.AnError),
			want: "hot: iterate State: " + assert.AnError.Error(),
		},
		{
			name: "whole_store",
			err:  NewStoreError("cold", "close", assert.AnError),
			want: "cold: close: " + assert.AnError.Error(),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())

			wrapped := errors.Wrap(tc.err, "outer")
			assert.ErrorIs(t, wrapped, ErrBackend)
			assert.ErrorIs(t, wrapped, assert.AnError)
			var be *BackendError
			require.ErrorAs(t, wrapped, &be)
			assert.Equal(t, tc.err.HasColumn, be.HasColumn)
		})
	}

	assert.False(t, NewStoreError("hot", "open", assert.AnError).HasColumn)
	long := NewBackendError("hot", "get", ColBlock, make([]byte, 40), assert.AnError)
	assert.Len(t, long.Key, maxKeyContext)
}
