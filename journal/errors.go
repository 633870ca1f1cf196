package journal

import (
	"errors"
	"fmt"

	"github.com/alpacahq/lfjournal/journal/stream"
)

type (
	NotFoundError      = stream.NotFoundError
	LockConflictError  = stream.LockConflictError
	OutOfRangeError    = stream.OutOfRangeError
	InvariantViolation = stream.InvariantViolation
	IoError            = stream.IoError
)

// CapacityExceededError is returned once the stream or vector number space
// is used up.
type CapacityExceededError string

func (msg CapacityExceededError) Error() string {
	return fmt.Sprintf("%s: capacity exceeded", string(msg))
}

// LockOrderError is returned when a transaction needs a vector whose item
// stream sorts before one it already holds and another writer owns it.
// The transaction is aborted and can be retried. Locking every vector of
// a transaction up front with Tx.LockVectors avoids it.
type LockOrderError string

func (msg LockOrderError) Error() string {
	return fmt.Sprintf("%s: item stream held by another writer", string(msg))
}

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")
