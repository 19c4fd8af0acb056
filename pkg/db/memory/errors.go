package memory

import "github.com/cockroachdb/errors"

var ErrIteratorInvalid = errors.New("memory: iterator is not positioned")
