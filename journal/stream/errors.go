package stream

import (
	"fmt"

	"github.com/alpacahq/lfjournal/utils/io"
	"github.com/alpacahq/lfjournal/utils/log"
)

// NotFoundError is returned when a read-only open finds no backing file.
type NotFoundError string

func (msg NotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found", string(msg))
}

// LockConflictError is returned when another handle already owns the write lock.
type LockConflictError string

func (msg LockConflictError) Error() string {
	return fmt.Sprintf("%s: locked by another writer", string(msg))
}

// OutOfRangeError is returned for reads beyond the committed region and
// for unknown item or stream numbers.
type OutOfRangeError string

func (msg OutOfRangeError) Error() string {
	return fmt.Sprintf("%s: out of range", string(msg))
}

// InvariantViolation reports contradictory bookkeeping. It is never retried.
type InvariantViolation string

func (msg InvariantViolation) Error() string {
	return fmt.Sprintf("%s: invariant violation", string(msg))
}

// violation logs msg with the location of the caller and returns it as an
// InvariantViolation.
func violation(msg string) error {
	log.Error("%s: invariant violation: %s", io.GetCallerFileContext(1), msg)
	return InvariantViolation(msg)
}

// IoError wraps a failed open, map, lock or sync syscall.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

func ioError(op, path string, err error) error {
	return &IoError{Op: op, Path: path, Err: err}
}
